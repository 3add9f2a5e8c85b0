package auth_test

import (
	"bytes"
	"encoding/json"
	"testing"

	auth "github.com/goliatone/go-storefront-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_PrettyUsesGlog(t *testing.T) {
	logger := auth.NewLogger(nil, "debug", "Pretty")
	glogger, ok := logger.(*auth.GlogLogger)
	require.True(t, ok)
	require.NotNil(t, glogger.Logger)

	named := logger.Named("http")
	_, ok = named.(*auth.GlogLogger)
	assert.True(t, ok)

	assert.NotPanics(t, func() {
		named.Debug("request", "path", "/api/orders")
		named.Error("lookup failed", "error", auth.Derive(auth.ErrUserNotFound, "user not found"))
	})

	var _ auth.Logger = named
}

func TestNewLogger_JSONUsesSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := auth.NewLogger(&buf, "info", "json")
	_, ok := logger.(*auth.SlogLogger)
	require.True(t, ok)

	logger.Named("mailer").Info("sent", "to", "a@x.com")
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "sent", line["msg"])
	assert.Equal(t, "mailer", line["component"])
	assert.Equal(t, "a@x.com", line["to"])
}
