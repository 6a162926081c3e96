package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/putto11262002/chatsync/chat"
	"github.com/putto11262002/chatsync/presence"
	"github.com/putto11262002/chatsync/typing"
	"github.com/putto11262002/chatsync/ws"
)

// Session owns the realtime client and every stateful component built on top
// of it for one authenticated account. All cross-component wiring lives here
// rather than in package-level globals.
type Session struct {
	config *Config
	logger *slog.Logger

	client *ws.Client
	api    *chat.HTTPAPI

	mu          sync.Mutex
	accountID   int64
	store       *chat.Store
	tracker     *presence.Tracker
	coordinator *typing.Coordinator
	started     bool
}

type SessionOption func(*Session)

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(config *Config, opts ...SessionOption) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Session{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = ws.NewClient(ws.WithLogger(s.logger))
	s.api = chat.NewHTTPAPI(config.API.URL)
	return s, nil
}

// Start connects, authenticates as the token's account, and binds every
// component to the realtime stream. Starting an already started session is a
// no-op.
func (s *Session) Start(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("session already started")
		return nil
	}
	s.mu.Unlock()

	claims, err := TokenClaims(token)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	wsConfig := ws.Config{
		URL:                  s.config.WS.URL,
		Path:                 s.config.WS.Path,
		Reconnection:         s.config.WS.Reconnection,
		ReconnectionAttempts: s.config.WS.ReconnectionAttempts,
		ReconnectionDelay:    s.config.WS.ReconnectionDelay,
		ReconnectionDelayMax: s.config.WS.ReconnectionDelayMax,
		Timeout:              s.config.WS.Timeout,
	}
	if err := s.client.Connect(ctx, wsConfig); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := s.client.Authenticate(token); err != nil {
		s.client.Disconnect()
		return fmt.Errorf("start session: %w", err)
	}
	s.api.SetToken(token)

	s.mu.Lock()
	s.accountID = claims.AccountID
	s.store = chat.NewStore(s.api, s.client, claims.AccountID, chat.WithStoreLogger(s.logger))
	s.tracker = presence.NewTracker(presence.WithLogger(s.logger))
	s.coordinator = typing.NewCoordinator(s.client, claims.AccountID, typing.WithLogger(s.logger))
	s.started = true
	store, tracker, coordinator := s.store, s.tracker, s.coordinator
	s.mu.Unlock()

	store.BindRealtime()
	tracker.Bind(s.client)
	coordinator.Bind()

	s.logger.Info("session started", "accountId", claims.AccountID)
	return nil
}

// Stop tears the session down in the reverse order of Start. Stopping a
// session that never started is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	store, tracker, coordinator := s.store, s.tracker, s.coordinator
	s.store = nil
	s.tracker = nil
	s.coordinator = nil
	s.accountID = 0
	s.started = false
	s.mu.Unlock()

	coordinator.Close()
	tracker.Unbind()
	store.UnbindRealtime()
	s.client.Disconnect()
	s.logger.Info("session stopped")
}

func (s *Session) Client() *ws.Client {
	return s.client
}

func (s *Session) Store() *chat.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Session) Presence() *presence.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

func (s *Session) Typing() *typing.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator
}

func (s *Session) AccountID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
