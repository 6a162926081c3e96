package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/putto11262002/chatsync/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Event payloads embed whole
	// entities (conversation with participants and last message).
	maxMessageSize = 1 << 20
)

var errTransportClosed = errors.New("transport closed")

// Transport is a single established realtime connection carrying event
// envelopes in both directions.
type Transport interface {
	// ReadEvent blocks until the next inbound event or a connection error.
	ReadEvent() (*core.Event, error)
	// WriteEvent queues an outbound event. The write happens on the
	// transport's writer goroutine.
	WriteEvent(e *core.Event) error
	Close() error
}

// Dialer establishes transports. The websocket implementation is the
// default; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// WSDialer dials the realtime endpoint over websocket.
type WSDialer struct {
	Logger *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	endpoint, err := wsEndpoint(cfg.URL, cfg.Path)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &wsTransport{
		conn:   conn,
		out:    make(chan *core.Event),
		done:   make(chan struct{}),
		logger: logger,
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.writeLoop()

	return t, nil
}

// wsEndpoint translates the configured base URL to the websocket scheme and
// appends the endpoint path.
func wsEndpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

type wsTransport struct {
	conn      *websocket.Conn
	out       chan *core.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (t *wsTransport) ReadEvent() (*core.Event, error) {
	for {
		mt, r, err := t.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return nil, err
			}
			if websocket.IsUnexpectedCloseError(err) {
				t.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return nil, err
			}
			return nil, fmt.Errorf("NextReader: %w", err)
		}

		if mt != websocket.TextMessage {
			t.logger.Debug(fmt.Sprintf("dropping message of type %d", mt))
			continue
		}

		var e core.Event
		if err := core.DecodeEvent(r, &e); err != nil {
			t.logger.Error(fmt.Sprintf("DecodeEvent: %v", err))
			continue
		}
		return &e, nil
	}
}

func (t *wsTransport) WriteEvent(e *core.Event) error {
	select {
	case t.out <- e:
		return nil
	case <-t.done:
		return errTransportClosed
	}
}

func (t *wsTransport) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		t.logger.Debug("exited write loop")
	}()

	for {
		select {
		case e := <-t.out:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := t.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				t.logger.Error(fmt.Sprintf("NextWriter: %v", err))
				return
			}
			if err := core.EncodeEvent(w, e); err != nil {
				t.logger.Error(fmt.Sprintf("EncodeEvent: %v", err))
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Error(fmt.Sprintf("WritePing: %v", err))
				return
			}
		}
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}
