package ws

import (
	"time"

	"github.com/putto11262002/chatsync/core"
)

const (
	DefaultPath                 = "/socket.io"
	DefaultReconnectionAttempts = 5
	DefaultReconnectionDelay    = time.Second
	DefaultReconnectionDelayMax = 5 * time.Second
	DefaultTimeout              = 20 * time.Second
)

// Config holds the connection options for the realtime client.
type Config struct {
	// URL is the server base URL, e.g. https://admin.example.com.
	// http and https schemes are translated to ws and wss when dialing.
	URL string `validate:"required,url"`
	// Path is the endpoint path the realtime server listens on.
	Path string
	// Reconnection enables automatic reconnection after an unexpected
	// connection loss. DefaultConfig enables it.
	Reconnection bool
	// ReconnectionAttempts bounds how many redials are attempted before
	// the client settles in the error state.
	ReconnectionAttempts int
	// ReconnectionDelay is the delay before the first redial. It doubles
	// after every failed attempt up to ReconnectionDelayMax.
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	// Timeout bounds the websocket handshake.
	Timeout time.Duration
}

// DefaultConfig returns a Config for the given URL with the documented
// defaults: reconnection enabled, 5 attempts, 1s delay, 5s max delay,
// 20s handshake timeout.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		Path:                 DefaultPath,
		Reconnection:         true,
		ReconnectionAttempts: DefaultReconnectionAttempts,
		ReconnectionDelay:    DefaultReconnectionDelay,
		ReconnectionDelayMax: DefaultReconnectionDelayMax,
		Timeout:              DefaultTimeout,
	}
}

// applyDefaults fills zero-valued fields. Reconnection itself is left as
// given; use DefaultConfig to get it enabled.
func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReconnectionAttempts == 0 {
		c.ReconnectionAttempts = DefaultReconnectionAttempts
	}
	if c.ReconnectionDelay == 0 {
		c.ReconnectionDelay = DefaultReconnectionDelay
	}
	if c.ReconnectionDelayMax == 0 {
		c.ReconnectionDelayMax = DefaultReconnectionDelayMax
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

func (c *Config) Validate() error {
	return core.Validate(c)
}
