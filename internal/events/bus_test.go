package events

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestChannelSubscribeAndPublish(t *testing.T) {
	bus := NewBus(quietLogger())

	var got []PanelEvent
	unsubscribe := bus.Panels.Subscribe(func(e PanelEvent) { got = append(got, e) })

	bus.Panels.Publish(PanelEvent{Kind: PanelAdded, UID: "d1", PanelID: 1})
	bus.Dashboards.Publish(DashboardEvent{Kind: DashboardSaved, UID: "d1"})

	require.Len(t, got, 1)
	assert.Equal(t, PanelAdded, got[0].EventKind())
	assert.Equal(t, "d1", got[0].DashboardUID())

	unsubscribe()
	unsubscribe()
	bus.Panels.Publish(PanelEvent{Kind: PanelRemoved, UID: "d1", PanelID: 1})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.Panels.Len())
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(quietLogger())

	var kinds []Kind
	stop := bus.SubscribeAll(func(e Event) { kinds = append(kinds, e.EventKind()) })

	bus.Dashboards.Publish(DashboardEvent{Kind: DashboardLoaded})
	bus.Refresh.Publish(RefreshEvent{Kind: PanelRefreshCompleted, PanelID: 2})
	bus.Time.Publish(TimeEvent{Kind: TimeRangeChanged})
	bus.Variables.Publish(VariableEvent{Kind: VariableValueChanged})

	assert.Equal(t, []Kind{DashboardLoaded, PanelRefreshCompleted, TimeRangeChanged, VariableValueChanged}, kinds)

	stop()
	bus.Dashboards.Publish(DashboardEvent{Kind: DashboardDeleted})
	assert.Len(t, kinds, 4)
}

func TestListenerPanicIsolated(t *testing.T) {
	bus := NewBus(quietLogger())

	calls := 0
	bus.Refresh.Subscribe(func(RefreshEvent) { panic("boom") })
	bus.Refresh.Subscribe(func(RefreshEvent) { calls++ })

	assert.NotPanics(t, func() {
		bus.Refresh.Publish(RefreshEvent{Kind: DashboardRefreshStarted})
	})
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(quietLogger())

	var second int
	var unsubscribeSecond func()
	bus.Time.Subscribe(func(TimeEvent) { unsubscribeSecond() })
	unsubscribeSecond = bus.Time.Subscribe(func(TimeEvent) { second++ })

	bus.Time.Publish(TimeEvent{Kind: RefreshIntervalChanged})
	bus.Time.Publish(TimeEvent{Kind: RefreshIntervalChanged})

	assert.Equal(t, 1, second, "removal applies from the next publish")
	assert.Equal(t, 1, bus.Time.Len())
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus(quietLogger())

	var mu sync.Mutex
	count := 0
	bus.Refresh.Subscribe(func(RefreshEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			bus.Refresh.Publish(RefreshEvent{Kind: PanelRefreshCompleted, PanelID: id})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
