package chatsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"

	"github.com/putto11262002/chatsync/core"
)

type Config struct {
	API struct {
		// URL is the base URL of the chat backend's REST API.
		URL string `validate:"required,url"`
	}
	WS struct {
		// URL is the base URL the realtime connection dials. http(s) schemes
		// are translated to ws(s) at dial time.
		URL string `validate:"required,url"`
		// Path is the endpoint path on the realtime server. The default is
		// /socket.io.
		Path string `validate:"required"`
		// Reconnection enables automatic reconnection after an unexpected
		// disconnect. The default is true.
		Reconnection bool
		// ReconnectionAttempts is how many reconnection attempts are made
		// before giving up. The default is 5.
		ReconnectionAttempts int `validate:"required,min=1"`
		// ReconnectionDelay is the delay before the first reconnection
		// attempt. Subsequent attempts back off exponentially. The default is
		// 1s.
		ReconnectionDelay time.Duration `validate:"required"`
		// ReconnectionDelayMax caps the backoff delay. The default is 5s.
		ReconnectionDelayMax time.Duration `validate:"required"`
		// Timeout bounds the connection handshake. The default is 20s.
		Timeout time.Duration `validate:"required"`
	}
	valid bool
}

// LoadConfig loads the configuration from the config file and environment variables.
// Any invalid configuration will not be loaded, and the error wil be cought in the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ws.path", "/socket.io")
	viper.SetDefault("ws.reconnection", true)
	viper.SetDefault("ws.reconnectionattempts", 5)
	viper.SetDefault("ws.reconnectiondelay", "1s")
	viper.SetDefault("ws.reconnectiondelaymax", "5s")
	viper.SetDefault("ws.timeout", "20s")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := core.Validate(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// FormatValidationErrors renders validator errors as a human readable string.
func FormatValidationErrors(err error) string {
	return core.FormatValidationErrors(err)
}
