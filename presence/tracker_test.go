package presence

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
)

type mockRealtime struct {
	mu       sync.Mutex
	handlers map[string][]ws.Handler
}

func newMockRealtime() *mockRealtime {
	return &mockRealtime{handlers: make(map[string][]ws.Handler)}
}

func (m *mockRealtime) On(event string, h ws.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, event)
	}
}

func (m *mockRealtime) push(t *testing.T, event string, payload core.PresencePayload) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	m.mu.Lock()
	handlers := append([]ws.Handler(nil), m.handlers[event]...)
	m.mu.Unlock()
	require.NotEmpty(t, handlers, "no handler bound for %s", event)
	for _, h := range handlers {
		h(data)
	}
}

func TestTrackerOnlineOfflineCycle(t *testing.T) {
	tr := NewTracker()

	tr.SetOnline(7)
	assert.True(t, tr.IsOnline(7))
	assert.Equal(t, 1, tr.OnlineCount())

	lastSeen := time.Now().Add(-time.Minute)
	tr.SetOffline(7, &lastSeen)
	assert.False(t, tr.IsOnline(7))

	record, ok := tr.Presence(7)
	require.True(t, ok)
	require.NotNil(t, record.LastSeen)
	assert.Equal(t, lastSeen, *record.LastSeen)
}

func TestTrackerOfflineDefaultsLastSeen(t *testing.T) {
	tr := NewTracker()

	tr.SetOffline(7, nil)

	record, ok := tr.Presence(7)
	require.True(t, ok)
	require.NotNil(t, record.LastSeen)
	assert.WithinDuration(t, time.Now(), *record.LastSeen, time.Second)
}

func TestTrackerUnknownAccount(t *testing.T) {
	tr := NewTracker()

	assert.False(t, tr.IsOnline(99))
	_, ok := tr.Presence(99)
	assert.False(t, ok)
}

func TestTrackerOnlineAccountsSorted(t *testing.T) {
	tr := NewTracker()

	tr.SetOnline(9)
	tr.SetOnline(3)
	tr.SetOnline(5)
	tr.SetOffline(5, nil)

	assert.Equal(t, []int64{3, 9}, tr.OnlineAccounts())
	assert.Equal(t, 2, tr.OnlineCount())
}

func TestTrackerBindAppliesPresencePushes(t *testing.T) {
	rt := newMockRealtime()
	tr := NewTracker()
	tr.Bind(rt)

	rt.push(t, core.EventUserOnline, core.PresencePayload{AccountID: 7, Status: "online"})
	assert.True(t, tr.IsOnline(7))

	lastSeen := time.Now().Add(-time.Minute).UTC()
	rt.push(t, core.EventUserOffline, core.PresencePayload{AccountID: 7, Status: "offline", LastSeen: &lastSeen})
	assert.False(t, tr.IsOnline(7))

	record, ok := tr.Presence(7)
	require.True(t, ok)
	require.NotNil(t, record.LastSeen)
	assert.Equal(t, lastSeen, record.LastSeen.UTC())
}

func TestTrackerUnbindClearsState(t *testing.T) {
	rt := newMockRealtime()
	tr := NewTracker()
	tr.Bind(rt)

	rt.push(t, core.EventUserOnline, core.PresencePayload{AccountID: 7, Status: "online"})
	require.True(t, tr.IsOnline(7))

	tr.Unbind()

	assert.False(t, tr.IsOnline(7))
	rt.mu.Lock()
	remaining := len(rt.handlers)
	rt.mu.Unlock()
	assert.Zero(t, remaining)

	// Bind works again after Unbind.
	tr.Bind(rt)
	rt.push(t, core.EventUserOnline, core.PresencePayload{AccountID: 8, Status: "online"})
	assert.True(t, tr.IsOnline(8))
}

func TestTrackerRemove(t *testing.T) {
	tr := NewTracker()

	tr.SetOnline(7)
	tr.Remove(7)

	_, ok := tr.Presence(7)
	assert.False(t, ok)
}
