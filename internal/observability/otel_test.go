package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/d9705996/clientpulse/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	p, log, err := observability.New(context.Background(), &observability.Config{
		ServiceName: "clientpulse-test", ServiceVersion: "dev", LogLevel: "warn", Output: &buf,
	})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	log.Info("dropped")
	log.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "clientpulse-test", rec["service"])
}
