// Package session keeps the live view state of an open dashboard: the
// selected variable values, time range and refresh interval, a refreshing
// flag and an optional selected panel. A session mirrors that state to a URL
// bridge and drives its own refresh ticker.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

// Options configures a session.
type Options struct {
	// ID names the session; a random uuid is used when empty.
	ID     string
	Bridge interfaces.URLBridge
	Clock  clock.Clock
	Logger *logrus.Logger

	// MinRefreshInterval is the shortest interval the ticker will use.
	MinRefreshInterval time.Duration
	// SkipInitialRefresh opens the session without querying panels.
	SkipInitialRefresh bool
	// OnClose runs once after the session is closed.
	OnClose func(*Session)
}

// State is a snapshot of a session.
type State struct {
	ID            string              `json:"id"`
	DashboardUID  string              `json:"dashboardUid"`
	Title         string              `json:"title"`
	Version       int                 `json:"version"`
	TimeRange     models.TimeRange    `json:"timeRange"`
	Refresh       string              `json:"refresh"`
	Variables     map[string][]string `json:"variables"`
	Refreshing    bool                `json:"refreshing"`
	SelectedPanel *int                `json:"selectedPanel,omitempty"`
	LastRefresh   time.Time           `json:"lastRefresh"`
	Closed        bool                `json:"closed"`
}

func (s State) clone() State {
	out := s
	out.Variables = make(map[string][]string, len(s.Variables))
	for k, v := range s.Variables {
		out.Variables[k] = append([]string(nil), v...)
	}
	if s.SelectedPanel != nil {
		id := *s.SelectedPanel
		out.SelectedPanel = &id
	}
	return out
}

// Session is one open view of a dashboard. It is created by Open and owned
// by the caller, who must Close it.
type Session struct {
	id         string
	uid        string
	engine     *engine.Engine
	bridge     interfaces.URLBridge
	clock      clock.Clock
	logger     *logrus.Logger
	minRefresh time.Duration
	onClose    func(*Session)

	// publishMu serializes state recomputation and URL writes.
	publishMu sync.Mutex

	mu          sync.Mutex
	state       State
	synced      interfaces.URLState
	subscribers map[int]func(State)
	nextSub     int
	refreshing  int
	external    int
	ticker      *clock.Ticker
	tickerDone  chan struct{}
	tickEvery   time.Duration
	unsubscribe []func()
	closed      bool
}

// Open loads the dashboard, applies the overrides found in the bridge's URL
// state, writes the resulting state back to the URL and, unless told
// otherwise, refreshes every panel once.
func Open(ctx context.Context, eng *engine.Engine, uid string, opts Options) (*Session, error) {
	if eng == nil {
		return nil, errors.NewConfigurationError("session requires an engine")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = eng.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MinRefreshInterval <= 0 {
		opts.MinRefreshInterval = constants.DefaultMinRefresh
	}

	d, err := eng.Load(ctx, uid)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:          opts.ID,
		uid:         d.UID,
		engine:      eng,
		bridge:      opts.Bridge,
		clock:       opts.Clock,
		logger:      opts.Logger,
		minRefresh:  opts.MinRefreshInterval,
		onClose:     opts.OnClose,
		subscribers: make(map[int]func(State)),
	}
	s.state = State{ID: s.id, DashboardUID: s.uid, Variables: map[string][]string{}}

	if s.bridge != nil {
		initial := s.bridge.GetURLState()
		s.synced = copyURLState(initial)
		s.applyInitial(ctx, initial)
	}

	s.watch()
	s.publish()

	s.logger.WithFields(logrus.Fields{
		"session_id":    s.id,
		"dashboard_uid": s.uid,
	}).Info("Session opened")

	if !opts.SkipInitialRefresh {
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.WithField("session_id", s.id).WithError(err).Warn("Initial refresh failed")
		}
	}
	return s, nil
}

// applyInitial applies URL overrides without refreshing panels. Invalid
// values are logged and ignored.
func (s *Session) applyInitial(ctx context.Context, u interfaces.URLState) {
	if u.From != "" || u.To != "" {
		tr := s.currentTimeRange()
		if u.From != "" {
			tr.From = u.From
		}
		if u.To != "" {
			tr.To = u.To
		}
		if err := s.engine.ApplyTimeRange(ctx, s.uid, tr); err != nil {
			s.logger.WithField("session_id", s.id).WithError(err).Warn("Ignoring time range from URL")
		}
	}
	if u.Refresh != "" {
		if err := s.engine.SetRefreshInterval(s.uid, u.Refresh); err != nil {
			s.logger.WithField("session_id", s.id).WithError(err).Warn("Ignoring refresh interval from URL")
		}
	}
	if len(u.Variables) > 0 {
		if err := s.engine.ApplyVariableValues(ctx, s.uid, u.Variables); err != nil {
			s.logger.WithField("session_id", s.id).WithError(err).Warn("Failed to apply variables from URL")
		}
	}
}

// watch subscribes to engine events of this dashboard and to the bridge.
func (s *Session) watch() {
	bus := s.engine.Bus()
	unsubs := []func(){
		bus.Time.Subscribe(func(e events.TimeEvent) {
			if e.UID == s.uid {
				s.publish()
			}
		}),
		bus.Variables.Subscribe(func(e events.VariableEvent) {
			if e.UID == s.uid {
				s.publish()
			}
		}),
		bus.Dashboards.Subscribe(s.onDashboardEvent),
		bus.Panels.Subscribe(s.onPanelEvent),
		bus.Refresh.Subscribe(s.onRefreshEvent),
	}
	if s.bridge != nil {
		unsubs = append(unsubs, s.bridge.Subscribe(s.onExternalChange))
	}

	s.mu.Lock()
	s.unsubscribe = unsubs
	s.mu.Unlock()
}

func (s *Session) onDashboardEvent(e events.DashboardEvent) {
	if e.UID != s.uid {
		return
	}
	switch e.Kind {
	case events.DashboardDeleted:
		s.logger.WithField("session_id", s.id).Info("Dashboard deleted, closing session")
		s.Close()
	case events.DashboardSaved, events.DashboardLoaded:
		s.publish()
	}
}

func (s *Session) onPanelEvent(e events.PanelEvent) {
	if e.UID != s.uid || e.Kind != events.PanelRemoved {
		return
	}
	s.mu.Lock()
	cleared := s.state.SelectedPanel != nil && *s.state.SelectedPanel == e.PanelID
	if cleared {
		s.state.SelectedPanel = nil
	}
	s.mu.Unlock()
	if cleared {
		s.publish()
	}
}

func (s *Session) onRefreshEvent(e events.RefreshEvent) {
	if e.UID != s.uid {
		return
	}
	s.mu.Lock()
	switch e.Kind {
	case events.DashboardRefreshStarted:
		s.refreshing++
	case events.DashboardRefreshCompleted, events.DashboardRefreshError:
		if s.refreshing > 0 {
			s.refreshing--
		}
		s.state.LastRefresh = e.Time
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.publish()
}

// onExternalChange applies a URL edited outside the engine. URL writes are
// held back while the change is applied; afterwards the URL is only written
// if it disagrees with the resulting state, e.g. when a value was rejected.
func (s *Session) onExternalChange(u interfaces.URLState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	current := s.state.clone()
	s.external++
	s.mu.Unlock()

	ctx := context.Background()
	log := s.logger.WithField("session_id", s.id)

	if (u.From != "" && u.From != current.TimeRange.From) || (u.To != "" && u.To != current.TimeRange.To) {
		tr := current.TimeRange
		if u.From != "" {
			tr.From = u.From
		}
		if u.To != "" {
			tr.To = u.To
		}
		if _, err := s.engine.SetTimeRange(ctx, s.uid, tr); err != nil {
			log.WithError(err).Warn("Ignoring external time range")
		}
	}
	if u.Refresh != "" && u.Refresh != current.Refresh {
		if err := s.engine.SetRefreshInterval(s.uid, u.Refresh); err != nil {
			log.WithError(err).Warn("Ignoring external refresh interval")
		}
	}
	for name, values := range u.Variables {
		if sameValues(current.Variables[name], values) {
			continue
		}
		if _, err := s.engine.SetTemplateVariableValue(ctx, s.uid, name, values); err != nil {
			log.WithField("variable", name).WithError(err).Warn("Ignoring external variable value")
		}
	}

	s.mu.Lock()
	s.external--
	if u.From != "" {
		s.synced.From = u.From
	}
	if u.To != "" {
		s.synced.To = u.To
	}
	if u.Refresh != "" {
		s.synced.Refresh = u.Refresh
	}
	if len(u.Variables) > 0 {
		if s.synced.Variables == nil {
			s.synced.Variables = make(map[string][]string)
		}
		for k, v := range u.Variables {
			s.synced.Variables[k] = append([]string(nil), v...)
		}
	}
	s.mu.Unlock()

	s.publish()
}

// publish recomputes the state from the engine, writes what changed to the
// URL, re-arms the ticker and notifies subscribers.
func (s *Session) publish() {
	s.publishMu.Lock()
	d, err := s.engine.Snapshot(s.uid)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.publishMu.Unlock()
		return
	}
	if err == nil {
		s.state.Title = d.Title
		s.state.Version = d.Version
		s.state.TimeRange = d.Time
		s.state.Refresh = d.Refresh
		s.state.Variables = make(map[string][]string, len(d.Templating.List))
		for _, v := range d.Templating.List {
			s.state.Variables[v.Name] = append([]string(nil), v.Values()...)
		}
	}
	s.state.Refreshing = s.refreshing > 0
	st := s.state.clone()

	held := s.external > 0
	syncTime := !held && (st.TimeRange.From != s.synced.From || st.TimeRange.To != s.synced.To || st.Refresh != s.synced.Refresh)
	if syncTime {
		s.synced.From, s.synced.To, s.synced.Refresh = st.TimeRange.From, st.TimeRange.To, st.Refresh
	}
	syncVars := !held && err == nil && !sameVariables(st.Variables, s.synced.Variables)
	if syncVars {
		s.synced.Variables = st.clone().Variables
	}
	s.rearmLocked(st.Refresh)

	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if s.bridge != nil {
		if syncTime {
			s.bridge.SyncTimeRange(st.TimeRange, st.Refresh)
		}
		if syncVars {
			s.bridge.SyncVariables(d.Templating.List)
		}
	}
	s.publishMu.Unlock()

	for _, fn := range subs {
		s.notify(fn, st)
	}
}

func (s *Session) notify(fn func(State), st State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"session_id": s.id,
				"panic":      r,
			}).Error("Session subscriber panicked")
		}
	}()
	fn(st.clone())
}

// rearmLocked keeps the ticker in step with the refresh interval. Callers
// hold s.mu.
func (s *Session) rearmLocked(refresh string) {
	every := interval.Parse(refresh)
	if every > 0 && every < s.minRefresh {
		every = s.minRefresh
	}
	if every == s.tickEvery {
		return
	}
	s.stopTickerLocked()
	s.tickEvery = every
	if every <= 0 {
		return
	}
	s.ticker = s.clock.Ticker(every)
	s.tickerDone = make(chan struct{})
	go s.runTicker(s.ticker, s.tickerDone)

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"interval":   every.String(),
	}).Debug("Session refresh ticker armed")
}

func (s *Session) stopTickerLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.tickerDone)
	s.ticker = nil
	s.tickerDone = nil
	s.tickEvery = 0
}

func (s *Session) runTicker(t *clock.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if _, err := s.Refresh(context.Background()); err != nil {
				s.logger.WithField("session_id", s.id).WithError(err).Warn("Scheduled refresh failed")
			}
		}
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// DashboardUID returns the uid of the viewed dashboard.
func (s *Session) DashboardUID() string { return s.uid }

// State returns a snapshot of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.clone()
	st.Closed = s.closed
	return st
}

// Subscribe registers fn to receive the state after every change. fn runs
// on the goroutine that caused the change.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// SetTimeRange changes the time range and refreshes the dashboard.
func (s *Session) SetTimeRange(ctx context.Context, tr models.TimeRange) (*engine.RefreshResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.engine.SetTimeRange(ctx, s.uid, tr)
}

// SetRefreshInterval changes the refresh interval; "" or "off" stop the
// ticker.
func (s *Session) SetRefreshInterval(refresh string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.SetRefreshInterval(s.uid, refresh)
}

// SetVariableValue selects values for a variable and refreshes the panels
// that use it.
func (s *Session) SetVariableValue(ctx context.Context, name string, values []string) (*engine.RefreshResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.engine.SetTemplateVariableValue(ctx, s.uid, name, values)
}

// SelectPanel marks a panel as selected, e.g. for a detail view.
func (s *Session) SelectPanel(panelID int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	d, err := s.engine.Snapshot(s.uid)
	if err != nil {
		return err
	}
	if p, _ := d.Panel(panelID); p == nil {
		e := errors.NewNotFoundError("panel", strconv.Itoa(panelID))
		e.Cause = errors.ErrPanelNotFound
		return e
	}
	s.mu.Lock()
	s.state.SelectedPanel = &panelID
	s.mu.Unlock()
	s.publish()
	return nil
}

// ClearSelection removes the panel selection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.state.SelectedPanel = nil
	s.mu.Unlock()
	s.publish()
}

// Refresh queries every panel of the dashboard.
func (s *Session) Refresh(ctx context.Context) (*engine.RefreshResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.engine.RefreshDashboard(ctx, s.uid)
}

// Close stops the ticker, detaches from the engine and the bridge and
// delivers a final closed state to every subscriber before dropping them.
// Closing twice is harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTickerLocked()
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subscribers = make(map[int]func(State))
	final := s.state.clone()
	final.Closed = true
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	// Subscribers see the closed state once, then nothing more.
	for _, fn := range subs {
		s.notify(fn, final)
	}
	if s.onClose != nil {
		s.onClose(s)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":    s.id,
		"dashboard_uid": s.uid,
	}).Info("Session closed")
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WrapError(errors.ErrSessionClosed, errors.ErrorTypeNotFound, errors.CodeNotFound, "session is closed").
			WithContext("session_id", s.id)
	}
	return nil
}

func (s *Session) currentTimeRange() models.TimeRange {
	d, err := s.engine.Snapshot(s.uid)
	if err != nil {
		return interval.DefaultTimeRange()
	}
	return d.Time
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameVariables(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !sameValues(v, w) {
			return false
		}
	}
	return true
}
