package chatsync

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigLoaderValidates(t *testing.T) {
	loader := &DefaultConfigLoader{}
	config, err := loader.Load()
	require.NoError(t, err)
	assert.NoError(t, config.Validate())
	assert.True(t, config.WS.Reconnection)
	assert.Equal(t, "/socket.io", config.WS.Path)
	assert.Equal(t, 5, config.WS.ReconnectionAttempts)
	assert.Equal(t, time.Second, config.WS.ReconnectionDelay)
}

func TestConfigValidateRejectsMissingURLs(t *testing.T) {
	config := &Config{}
	config.WS.Path = "/socket.io"
	config.WS.ReconnectionAttempts = 5
	config.WS.ReconnectionDelay = time.Second
	config.WS.ReconnectionDelayMax = 5 * time.Second
	config.WS.Timeout = 20 * time.Second

	err := config.Validate()
	require.Error(t, err)

	msg := FormatValidationErrors(err)
	assert.True(t, strings.Contains(msg, "url") || strings.Contains(msg, "URL"))
}

func TestConfigValidateRejectsBadURL(t *testing.T) {
	loader := &DefaultConfigLoader{}
	config, err := loader.Load()
	require.NoError(t, err)
	config.WS.URL = "not a url"

	require.Error(t, config.Validate())
}
