package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no stray .env is picked up
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("ENV_FILE", "")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, "@every 30s", cfg.Scheduler.PollSpec)
	assert.Equal(t, []string{"ranked_solo"}, cfg.Defaults.QueueTypes)
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, `
addr: ":9090"
database:
  driver: postgres
  dsn: "host=db user=lol dbname=matches sslmode=disable"
engine:
  url: "http://engine:8000"
  timeout: 45s
rate_limit:
  requests_per_second: 5
defaults:
  max_matches: 25
  queue_types: [ranked_solo, ranked_flex]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 45*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 25, cfg.Defaults.MaxMatches)
	assert.Equal(t, []string{"ranked_solo", "ranked_flex"}, cfg.Defaults.QueueTypes)
	// fields absent from the file keep their defaults
	assert.Equal(t, 30, cfg.Defaults.DateRangeDays)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, "engine:\n  url: http://from-yaml:8000\n")

	t.Setenv("ENGINE_URL", "http://from-env:8000")
	t.Setenv("PORT", "7070")
	t.Setenv("ENGINE_TIMEOUT", "2m")
	t.Setenv("CORS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8000", cfg.Engine.URL)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Timeout)
	assert.False(t, cfg.CORSEnabled)
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "HISTORY_PATH=/var/lib/matchscheduler/history.json\nLOG_LEVEL=debug\n")
	// registered for restore, then removed so .env can supply it
	t.Setenv("HISTORY_PATH", "")
	os.Unsetenv("HISTORY_PATH")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/matchscheduler/history.json", cfg.HistoryPath)
	// the real environment wins over .env
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yml")
	writeFile(t, bad, "addr: [unterminated")
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_BURST", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "RATE_LIMIT_BURST")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "unsupported database driver")

	cfg = Default()
	cfg.Engine.URL = "engine:8000"
	assert.ErrorContains(t, cfg.Validate(), "engine url")

	cfg = Default()
	cfg.RateLimit.RequestsPerSecond = 0
	assert.Error(t, cfg.Validate())
}
