// Package typing coordinates typing indicators in both directions: it
// broadcasts the local account's typing state with automatic expiry, and
// tracks which other accounts are typing in each conversation.
package typing

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
)

// DefaultExpiry is how long a typing indicator lives without a refresh.
const DefaultExpiry = 3 * time.Second

// Realtime is the slice of the websocket client the coordinator needs.
// *ws.Client satisfies it.
type Realtime interface {
	On(event string, h ws.Handler) func()
	Send(event string, payload interface{}) error
}

type typingKey struct {
	ConversationID int64
	AccountID      int64
}

type Coordinator struct {
	rt        Realtime
	accountID int64
	expiry    time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	outbound map[int64]*time.Timer     // active local typing per conversation
	inbound  map[typingKey]*time.Timer // remote typers with expiry timers
	typers   map[int64]map[int64]struct{}
	unbind   []func()
	bound    bool
	closed   bool
}

type CoordinatorOption func(*Coordinator)

func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithExpiry overrides the indicator lifetime. Useful in tests.
func WithExpiry(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.expiry = d
	}
}

func NewCoordinator(rt Realtime, accountID int64, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		rt:        rt,
		accountID: accountID,
		expiry:    DefaultExpiry,
		logger:    slog.Default(),
		outbound:  make(map[int64]*time.Timer),
		inbound:   make(map[typingKey]*time.Timer),
		typers:    make(map[int64]map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind subscribes the coordinator to typing pushes from other accounts.
func (c *Coordinator) Bind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound {
		return
	}
	c.bound = true
	c.unbind = []func(){
		c.rt.On(core.EventUserTyping, c.onUserTyping),
		c.rt.On(core.EventUserStoppedTyping, c.onUserStoppedTyping),
	}
}

// Unbind removes the subscriptions and clears all remote typing state.
func (c *Coordinator) Unbind() {
	c.mu.Lock()
	unbind := c.unbind
	c.unbind = nil
	c.bound = false
	for key, timer := range c.inbound {
		timer.Stop()
		delete(c.inbound, key)
	}
	c.typers = make(map[int64]map[int64]struct{})
	c.mu.Unlock()

	for _, off := range unbind {
		off()
	}
}

// NotifyTyping broadcasts that the local account is typing in the
// conversation. Repeated calls refresh the expiry; once the expiry elapses
// without a refresh a stopped notification goes out automatically.
func (c *Coordinator) NotifyTyping(conversationID int64) error {
	err := c.rt.Send(core.EventTyping, core.TypingPayload{
		ConversationID: conversationID,
		AccountID:      c.accountID,
		IsTyping:       true,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if timer, ok := c.outbound[conversationID]; ok {
		timer.Reset(c.expiry)
		return nil
	}
	c.outbound[conversationID] = time.AfterFunc(c.expiry, func() {
		if err := c.NotifyStoppedTyping(conversationID); err != nil {
			c.logger.Warn("auto stop typing", "conversationId", conversationID, "error", err)
		}
	})
	return nil
}

// NotifyStoppedTyping broadcasts that the local account stopped typing and
// cancels the pending auto-expiry.
func (c *Coordinator) NotifyStoppedTyping(conversationID int64) error {
	c.mu.Lock()
	if timer, ok := c.outbound[conversationID]; ok {
		timer.Stop()
		delete(c.outbound, conversationID)
	}
	c.mu.Unlock()

	return c.rt.Send(core.EventTyping, core.TypingPayload{
		ConversationID: conversationID,
		AccountID:      c.accountID,
		IsTyping:       false,
	})
}

func (c *Coordinator) onUserTyping(data json.RawMessage) {
	p, err := core.DecodePayload[core.TypingPayload](data)
	if err != nil {
		c.logger.Error("user_typing payload rejected", "error", err)
		return
	}
	if p.AccountID == c.accountID {
		return
	}
	if !p.IsTyping {
		c.removeTyper(p.ConversationID, p.AccountID)
		return
	}
	c.addTyper(p.ConversationID, p.AccountID)
}

func (c *Coordinator) onUserStoppedTyping(data json.RawMessage) {
	p, err := core.DecodePayload[core.TypingPayload](data)
	if err != nil {
		c.logger.Error("user_stopped_typing payload rejected", "error", err)
		return
	}
	if p.AccountID == c.accountID {
		return
	}
	c.removeTyper(p.ConversationID, p.AccountID)
}

// addTyper records a remote typer with its own expiry timer. A repeated
// typing push for the same (conversation, account) refreshes the timer, so
// a typer that keeps typing never flickers off.
func (c *Coordinator) addTyper(conversationID, accountID int64) {
	key := typingKey{ConversationID: conversationID, AccountID: accountID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if timer, ok := c.inbound[key]; ok {
		timer.Reset(c.expiry)
		return
	}
	if c.typers[conversationID] == nil {
		c.typers[conversationID] = make(map[int64]struct{})
	}
	c.typers[conversationID][accountID] = struct{}{}
	c.inbound[key] = time.AfterFunc(c.expiry, func() {
		c.removeTyper(conversationID, accountID)
	})
}

func (c *Coordinator) removeTyper(conversationID, accountID int64) {
	key := typingKey{ConversationID: conversationID, AccountID: accountID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.inbound[key]; ok {
		timer.Stop()
		delete(c.inbound, key)
	}
	if set, ok := c.typers[conversationID]; ok {
		delete(set, accountID)
		if len(set) == 0 {
			delete(c.typers, conversationID)
		}
	}
}

// TypingAccounts returns the accounts currently typing in the
// conversation, sorted for deterministic iteration.
func (c *Coordinator) TypingAccounts(conversationID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.typers[conversationID]
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTyping reports whether the given remote account is typing in the
// conversation.
func (c *Coordinator) IsTyping(conversationID, accountID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.typers[conversationID][accountID]
	return ok
}

// Close stops every pending timer and unsubscribes. The coordinator cannot
// be reused after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for id, timer := range c.outbound {
		timer.Stop()
		delete(c.outbound, id)
	}
	for key, timer := range c.inbound {
		timer.Stop()
		delete(c.inbound, key)
	}
	c.typers = make(map[int64]map[int64]struct{})
	unbind := c.unbind
	c.unbind = nil
	c.bound = false
	c.mu.Unlock()

	for _, off := range unbind {
		off()
	}
}
