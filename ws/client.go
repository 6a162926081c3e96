package ws

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/putto11262002/chatsync/core"
)

// State is the connection state of the realtime client. Transitions are
// owned exclusively by the Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Client owns the single realtime connection of the process. It tracks the
// connection state machine, redials with backoff after unexpected drops,
// re-sends the last-known auth token on every transition to connected, and
// fans inbound server events out through its embedded Dispatcher.
//
// Room membership is not preserved across a transport-level reconnect;
// consumers observe the connection:reconnected event and re-join the rooms
// they care about.
type Client struct {
	*Dispatcher

	dialer Dialer
	logger *slog.Logger

	mu         sync.Mutex
	config     Config
	configured bool
	state      State
	transport  Transport
	socketID   string
	token      string
	closing    bool
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger: slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &WSDialer{Logger: c.logger}
	}
	c.Dispatcher = NewDispatcher(c.logger)
	return c
}

// Connect establishes the realtime connection. It is a no-op with a warning
// when a connection is already active or being established.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		c.logger.Warn("connect: connection already active")
		return nil
	}
	cfg.applyDefaults()
	c.config = cfg
	c.configured = true
	c.closing = false
	c.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.setState(StateConnecting, "")

	t, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		c.setState(StateError, err.Error())
		c.emitLocal(core.EventConnectionError, core.ConnectionErrorPayload{Error: err.Error()})
		return err
	}

	c.finishConnect(t, 0)
	return nil
}

// Disconnect tears the connection down and settles in the disconnected
// state. Calling it again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	alreadyDown := t == nil && c.state == StateDisconnected
	c.closing = true
	c.mu.Unlock()

	if alreadyDown {
		return
	}
	if t != nil {
		t.Close()
	}
	c.setState(StateDisconnected, "client disconnect")
	c.emitLocal(core.EventDisconnect, core.StateChangedPayload{
		State:  string(StateDisconnected),
		Reason: "client disconnect",
	})
	c.logger.Info("disconnected")
}

// Reconnect re-establishes the connection without discarding subscriptions.
// It logs and returns when the client has never been connected, and is a
// no-op when a connection is already active.
func (c *Client) Reconnect() {
	c.mu.Lock()
	configured := c.configured
	state := c.state
	cfg := c.config
	c.closing = false
	c.mu.Unlock()

	if !configured {
		c.logger.Warn("reconnect: never connected")
		return
	}
	if state == StateConnected || state == StateConnecting {
		c.logger.Warn("reconnect: connection already active")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := c.Connect(ctx, cfg); err != nil {
		c.logger.Error(fmt.Sprintf("reconnect: %v", err))
	}
}

// Authenticate remembers the token and sends the authentication payload
// over the active connection. When not connected the token is still
// remembered for the next transition to connected, and ErrNotConnected is
// returned.
func (c *Client) Authenticate(token string) error {
	c.mu.Lock()
	c.token = token
	connected := c.state == StateConnected && c.transport != nil
	c.mu.Unlock()

	if !connected {
		c.logger.Warn("authenticate: not connected")
		return core.ErrNotConnected
	}
	return c.Send(core.EventAuthenticate, core.AuthenticatePayload{Token: token})
}

// Send emits an outbound event to the server. Not being connected is a
// warning no-op reported as ErrNotConnected.
func (c *Client) Send(event string, payload interface{}) error {
	c.mu.Lock()
	t := c.transport
	connected := c.state == StateConnected
	c.mu.Unlock()

	if t == nil || !connected {
		c.logger.Warn(fmt.Sprintf("send %s: not connected", event))
		return core.ErrNotConnected
	}

	e, err := core.NewEvent(event, payload)
	if err != nil {
		return err
	}
	return t.WriteEvent(e)
}

// JoinRoom subscribes the connection to a server-side broadcast room.
func (c *Client) JoinRoom(room string) error {
	if err := c.Send(core.EventJoinRoom, core.RoomPayload{Room: room}); err != nil {
		return err
	}
	c.logger.Info("joined room", slog.String("room", room))
	return nil
}

// LeaveRoom unsubscribes the connection from a broadcast room.
func (c *Client) LeaveRoom(room string) error {
	if err := c.Send(core.EventLeaveRoom, core.RoomPayload{Room: room}); err != nil {
		return err
	}
	c.logger.Info("left room", slog.String("room", room))
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the identifier of the current connection, or the empty
// string when disconnected. The id changes on every reconnect.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ""
	}
	return c.socketID
}

// finishConnect installs the transport, re-authenticates with the last
// known token, and announces the transition. attempts is zero on an initial
// connect and the successful attempt number on a reconnect.
func (c *Client) finishConnect(t Transport, attempts int) {
	c.mu.Lock()
	c.transport = t
	c.socketID = uuid.NewString()
	c.state = StateConnected
	token := c.token
	c.mu.Unlock()

	c.emitLocal(core.EventStateChanged, core.StateChangedPayload{State: string(StateConnected)})

	if token != "" {
		if err := c.Send(core.EventAuthenticate, core.AuthenticatePayload{Token: token}); err != nil {
			c.logger.Error(fmt.Sprintf("authenticate after connect: %v", err))
		}
	}

	if attempts > 0 {
		c.logger.Info("reconnected", slog.Int("attempts", attempts))
		c.emitLocal(core.EventReconnected, core.ReconnectedPayload{Attempts: attempts})
	} else {
		c.logger.Info("connected")
		c.emitLocal(core.EventConnect, nil)
	}

	go c.readLoop(t)
}

func (c *Client) readLoop(t Transport) {
	for {
		e, err := t.ReadEvent()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !core.KnownServerEvent(e.Type) {
			c.logger.Debug(fmt.Sprintf("dropping unknown event: %s", e.Type))
			continue
		}
		c.Emit(e.Type, e.Payload)
	}
}

func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	closing := c.closing
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	reconnect := c.config.Reconnection
	c.mu.Unlock()

	if closing {
		// Disconnect already announced the transition.
		return
	}

	c.logger.Error(fmt.Sprintf("connection lost: %v", err))
	c.emitLocal(core.EventDisconnect, core.StateChangedPayload{
		State:  string(StateDisconnected),
		Reason: err.Error(),
	})

	if !reconnect {
		c.setState(StateError, err.Error())
		c.emitLocal(core.EventConnectionError, core.ConnectionErrorPayload{Error: err.Error()})
		return
	}

	go c.reconnectLoop()
}

// reconnectLoop redials with doubling delay until it succeeds, the attempt
// budget is exhausted, or Disconnect intervenes. Exhaustion settles in the
// error state; recovery from there requires an explicit Reconnect.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	cfg := c.config
	c.mu.Unlock()

	delay := cfg.ReconnectionDelay
	for attempt := 1; attempt <= cfg.ReconnectionAttempts; attempt++ {
		c.setState(StateReconnecting, "")
		c.emitLocal(core.EventReconnecting, core.ReconnectingPayload{Attempt: attempt})
		c.logger.Info("reconnecting", slog.Int("attempt", attempt))

		time.Sleep(delay)

		if c.isClosing() {
			c.setState(StateDisconnected, "client disconnect")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		t, err := c.dialer.Dial(ctx, cfg)
		cancel()
		if err == nil {
			c.finishConnect(t, attempt)
			return
		}

		c.logger.Error(fmt.Sprintf("reconnect attempt %d: %v", attempt, err))
		c.emitLocal(core.EventConnectionError, core.ConnectionErrorPayload{Error: err.Error()})

		delay *= 2
		if delay > cfg.ReconnectionDelayMax {
			delay = cfg.ReconnectionDelayMax
		}
	}

	c.setState(StateError, "reconnection attempts exhausted")
	c.emitLocal(core.EventConnectionError,
		core.ConnectionErrorPayload{Error: "reconnection attempts exhausted"})
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// setState records a transition and announces it locally. It never runs
// handlers while holding the state lock.
func (c *Client) setState(s State, reason string) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.emitLocal(core.EventStateChanged, core.StateChangedPayload{State: string(s), Reason: reason})
}

// emitLocal synthesizes a lifecycle event for local subscribers.
func (c *Client) emitLocal(event string, payload interface{}) {
	e, err := core.NewEvent(event, payload)
	if err != nil {
		c.logger.Error(fmt.Sprintf("emit %s: %v", event, err))
		return
	}
	c.Emit(e.Type, e.Payload)
}
