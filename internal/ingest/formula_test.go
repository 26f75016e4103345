package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFormulas_EmptyPathUsesDefaults(t *testing.T) {
	fs, err := ingest.LoadFormulas("")
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultFormulas(), fs)
}

func TestLoadFormulas_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formulas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
formulas:
  - metric: ROAS
    numerator: Revenue
    denominator: Spend
  - metric: CTR
    numerator: Clicks
    denominator: Impressions
    scale: 100
`), 0o600))

	fs, err := ingest.LoadFormulas(path)
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, ingest.Formula{Metric: "ROAS", Numerator: "Revenue", Denominator: "Spend", Scale: 1}, fs[0])
	assert.InDelta(t, 100.0, fs[1].Scale, 1e-9)
}

func TestLoadFormulas_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := ingest.LoadFormulas(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = ingest.LoadFormulas(write("bad.yaml", "formulas: [:"))
	require.Error(t, err)

	_, err = ingest.LoadFormulas(write("incomplete.yaml", "formulas:\n  - metric: CTR\n"))
	require.ErrorContains(t, err, "required")

	_, err = ingest.LoadFormulas(write("dupe.yaml", `
formulas:
  - {metric: CTR, numerator: Clicks, denominator: Impressions}
  - {metric: CTR, numerator: Clicks, denominator: Views}
`))
	require.ErrorContains(t, err, "defined twice")

	_, err = ingest.LoadFormulas(write("chain.yaml", `
formulas:
  - {metric: CTR, numerator: Clicks, denominator: Impressions}
  - {metric: Weird, numerator: CTR, denominator: Spend}
`))
	require.ErrorContains(t, err, "derived metric")
}
