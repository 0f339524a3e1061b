package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultMarketsResolution(t *testing.T) {
	m := DefaultMarkets()
	tests := map[string]string{
		"India":                "cdsco",
		"  the United States ": "fda",
		"U.S.A.":               "fda",
		"Germany":              "ema",
		"european union":       "ema",
		"the United Kingdom":   "mhra",
		"UK":                   "mhra",
	}
	for country, want := range tests {
		got, ok := m.AuthorityFor(country)
		require.True(t, ok, country)
		assert.Equal(t, want, got, country)
	}

	_, ok := m.AuthorityFor("Brazil")
	assert.False(t, ok)
	_, ok = m.AuthorityFor("")
	assert.False(t, ok)

	assert.True(t, m.IsAuthority("FDA"))
	assert.False(t, m.IsAuthority("anvisa"))
	assert.Equal(t, []string{"cdsco", "ema", "fda", "mhra"}, m.Codes())
}

func TestParseMarketsRejectsDuplicates(t *testing.T) {
	_, err := ParseMarkets([]byte(`
authorities:
  - code: fda
    countries: [usa]
  - code: hc
    countries: [USA]
`))
	require.Error(t, err)

	_, err = ParseMarkets([]byte(`authorities: []`))
	require.Error(t, err)
}

func TestLoadMarketsMissingFileUsesDefaults(t *testing.T) {
	m, err := LoadMarkets(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, m.IsAuthority("cdsco"))
}

func TestMarketWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "markets.yaml", `
authorities:
  - code: fda
    countries: [usa]
`)
	m, err := LoadMarkets(path)
	require.NoError(t, err)
	_, ok := m.AuthorityFor("brazil")
	require.False(t, ok)

	w, err := NewMarketWatcher(path, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	reloaded := make(chan struct{}, 4)
	w.OnReload(func(*Markets) { reloaded <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`
authorities:
  - code: fda
    countries: [usa]
  - code: anvisa
    countries: [brazil]
`), 0o644))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("markets were not reloaded")
	}
	assert.Eventually(t, func() bool {
		code, ok := m.AuthorityFor("Brazil")
		return ok && code == "anvisa"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMarketWatcherKeepsTableOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "markets.yaml", "authorities:\n  - code: fda\n    countries: [usa]\n")
	m, err := LoadMarkets(path)
	require.NoError(t, err)

	w, err := NewMarketWatcher(path, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("authorities: [::"), 0o644))
	w.reload()

	code, ok := m.AuthorityFor("usa")
	require.True(t, ok)
	assert.Equal(t, "fda", code)
	require.NoError(t, w.watcher.Close())
}
