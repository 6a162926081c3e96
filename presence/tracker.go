// Package presence maintains the online/offline status of accounts as
// reported by the realtime connection.
package presence

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
)

// Record is the last known presence of one account. LastSeen is only set
// once the account has gone offline at least once.
type Record struct {
	AccountID int64
	Online    bool
	LastSeen  *time.Time
}

// Realtime is the slice of the websocket client the tracker subscribes
// through. *ws.Client satisfies it.
type Realtime interface {
	On(event string, h ws.Handler) func()
}

type Tracker struct {
	records *core.SyncMap[int64, Record]
	logger  *slog.Logger

	mu     sync.Mutex
	unbind []func()
	bound  bool
}

type TrackerOption func(*Tracker)

func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		records: core.NewSyncMap[int64, Record](),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Bind subscribes the tracker to presence pushes. Calling it twice without
// an intervening Unbind is a no-op.
func (t *Tracker) Bind(rt Realtime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound {
		return
	}
	t.bound = true
	t.unbind = []func(){
		rt.On(core.EventUserOnline, t.onUserOnline),
		rt.On(core.EventUserOffline, t.onUserOffline),
	}
}

// Unbind removes the subscriptions and forgets all presence state, which is
// stale the moment updates stop arriving.
func (t *Tracker) Unbind() {
	t.mu.Lock()
	unbind := t.unbind
	t.unbind = nil
	t.bound = false
	t.mu.Unlock()

	for _, off := range unbind {
		off()
	}
	t.records.Clear()
}

func (t *Tracker) onUserOnline(data json.RawMessage) {
	p, err := core.DecodePayload[core.PresencePayload](data)
	if err != nil {
		t.logger.Error("user_online payload rejected", "error", err)
		return
	}
	t.SetOnline(p.AccountID)
}

func (t *Tracker) onUserOffline(data json.RawMessage) {
	p, err := core.DecodePayload[core.PresencePayload](data)
	if err != nil {
		t.logger.Error("user_offline payload rejected", "error", err)
		return
	}
	t.SetOffline(p.AccountID, p.LastSeen)
}

func (t *Tracker) SetOnline(accountID int64) {
	t.records.LoadAndStore(accountID, func(r Record, ok bool) Record {
		r.AccountID = accountID
		r.Online = true
		return r
	})
}

// SetOffline marks the account offline. When the server did not supply a
// lastSeen timestamp the local receive time is used.
func (t *Tracker) SetOffline(accountID int64, lastSeen *time.Time) {
	if lastSeen == nil {
		now := time.Now()
		lastSeen = &now
	}
	t.records.Store(accountID, Record{
		AccountID: accountID,
		Online:    false,
		LastSeen:  lastSeen,
	})
}

func (t *Tracker) IsOnline(accountID int64) bool {
	r, ok := t.records.Load(accountID)
	return ok && r.Online
}

// Presence returns the last known record for the account. ok is false when
// no presence update for the account has ever arrived.
func (t *Tracker) Presence(accountID int64) (Record, bool) {
	return t.records.Load(accountID)
}

// OnlineAccounts returns the ids of all accounts currently online, sorted
// for deterministic iteration.
func (t *Tracker) OnlineAccounts() []int64 {
	var out []int64
	t.records.RRange(func(id int64, r Record) bool {
		if r.Online {
			out = append(out, id)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Tracker) OnlineCount() int {
	count := 0
	t.records.RRange(func(_ int64, r Record) bool {
		if r.Online {
			count++
		}
		return true
	})
	return count
}

func (t *Tracker) Remove(accountID int64) {
	t.records.Delete(accountID)
}

func (t *Tracker) Clear() {
	t.records.Clear()
}
