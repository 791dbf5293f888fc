package session

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

// ParseURLState reads from, to, refresh and var-<name> query parameters.
// A variable may repeat to carry several values.
func ParseURLState(q url.Values) interfaces.URLState {
	st := interfaces.URLState{
		From:    q.Get("from"),
		To:      q.Get("to"),
		Refresh: q.Get("refresh"),
	}
	for key, values := range q {
		name, ok := strings.CutPrefix(key, constants.URLVariablePrefix)
		if !ok || name == "" {
			continue
		}
		if st.Variables == nil {
			st.Variables = make(map[string][]string)
		}
		st.Variables[name] = append([]string(nil), values...)
	}
	return st
}

// EncodeURLState is the inverse of ParseURLState. Empty fields are omitted.
func EncodeURLState(st interfaces.URLState) url.Values {
	q := url.Values{}
	if st.From != "" {
		q.Set("from", st.From)
	}
	if st.To != "" {
		q.Set("to", st.To)
	}
	if st.Refresh != "" {
		q.Set("refresh", st.Refresh)
	}
	names := make([]string, 0, len(st.Variables))
	for name := range st.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range st.Variables[name] {
			q.Add(constants.URLVariablePrefix+name, v)
		}
	}
	return q
}

// MemoryBridge is a URLBridge backed by an in-memory URL state. Push
// simulates an edit made outside the engine; OnSync observes writes.
type MemoryBridge struct {
	mu        sync.Mutex
	state     interfaces.URLState
	nextID    int
	listeners map[int]func(interfaces.URLState)
	onSync    []func(interfaces.URLState)
	syncs     int
}

// NewMemoryBridge creates a bridge holding initial.
func NewMemoryBridge(initial interfaces.URLState) *MemoryBridge {
	return &MemoryBridge{
		state:     copyURLState(initial),
		listeners: make(map[int]func(interfaces.URLState)),
	}
}

// GetURLState returns the current URL state.
func (b *MemoryBridge) GetURLState() interfaces.URLState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyURLState(b.state)
}

// SyncTimeRange records a time range written by a session.
func (b *MemoryBridge) SyncTimeRange(tr models.TimeRange, refresh string) {
	b.mu.Lock()
	b.state.From = tr.From
	b.state.To = tr.To
	b.state.Refresh = refresh
	st, hooks := b.syncedLocked()
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

// SyncVariables records variable selections written by a session.
func (b *MemoryBridge) SyncVariables(vars []*models.Variable) {
	b.mu.Lock()
	b.state.Variables = make(map[string][]string, len(vars))
	for _, v := range vars {
		if v != nil {
			b.state.Variables[v.Name] = append([]string(nil), v.Values()...)
		}
	}
	st, hooks := b.syncedLocked()
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

func (b *MemoryBridge) syncedLocked() (interfaces.URLState, []func(interfaces.URLState)) {
	b.syncs++
	return copyURLState(b.state), append(([]func(interfaces.URLState))(nil), b.onSync...)
}

// Subscribe registers a listener for external changes.
func (b *MemoryBridge) Subscribe(fn func(interfaces.URLState)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// OnSync registers fn to observe every write made through the bridge.
func (b *MemoryBridge) OnSync(fn func(interfaces.URLState)) {
	b.mu.Lock()
	b.onSync = append(b.onSync, fn)
	b.mu.Unlock()
}

// Push replaces the fields set in st and notifies listeners, as if the URL
// had been edited by hand.
func (b *MemoryBridge) Push(st interfaces.URLState) {
	b.mu.Lock()
	if st.From != "" {
		b.state.From = st.From
	}
	if st.To != "" {
		b.state.To = st.To
	}
	if st.Refresh != "" {
		b.state.Refresh = st.Refresh
	}
	if st.Variables != nil {
		if b.state.Variables == nil {
			b.state.Variables = make(map[string][]string)
		}
		for k, v := range st.Variables {
			b.state.Variables[k] = append([]string(nil), v...)
		}
	}
	listeners := make([]func(interfaces.URLState), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	pushed := copyURLState(st)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(pushed)
	}
}

// Syncs returns how many times a session wrote to the bridge.
func (b *MemoryBridge) Syncs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncs
}

// Listeners returns the number of subscribed listeners.
func (b *MemoryBridge) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func copyURLState(st interfaces.URLState) interfaces.URLState {
	out := st
	if st.Variables != nil {
		out.Variables = make(map[string][]string, len(st.Variables))
		for k, v := range st.Variables {
			out.Variables[k] = append([]string(nil), v...)
		}
	}
	return out
}
