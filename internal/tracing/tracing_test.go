package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, tel)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	tel, err := Setup(context.Background(), Config{Endpoint: "http://127.0.0.1:4318/", ServiceVersion: "test"})
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("authorization=Bearer x, x-team = relay,broken")
	assert.Equal(t, map[string]string{"authorization": "Bearer x", "x-team": "relay"}, got)
	assert.Empty(t, parseHeaders(""))
}
