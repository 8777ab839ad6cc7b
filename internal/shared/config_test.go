package shared_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarcin/village-units/internal/shared"
)

// chdir to an empty dir so a developer's .env does not leak into the test.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	c, err := shared.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "empty", c.ListingsTermination)
	assert.Equal(t, 6*time.Hour, c.LiveCacheTTL)
	assert.Equal(t, time.Hour, c.HistoryCacheTTL)
	assert.Equal(t, "America/Chicago", c.Location().String())
	assert.False(t, c.AuthEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	isolate(t)
	t.Setenv("LISTINGS_TERMINATION", "short")
	t.Setenv("LISTINGS_PAGE_SIZE", "50")
	t.Setenv("HISTORY_CACHE_TTL", "90m")
	t.Setenv("LIVE_CACHE_TTL", "60")
	t.Setenv("CORS_ORIGINS", "http://a, http://b")

	c, err := shared.Load()
	require.NoError(t, err)
	assert.Equal(t, 50, c.ListingsPageSize)
	assert.Equal(t, 90*time.Minute, c.HistoryCacheTTL)
	assert.Equal(t, time.Minute, c.LiveCacheTTL)
	assert.Equal(t, []string{"http://a", "http://b"}, c.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"short without size": {"LISTINGS_TERMINATION": "short"},
		"bad termination":    {"LISTINGS_TERMINATION": "sometimes"},
		"bad zone":           {"TIMEZONE": "Mars/Olympus"},
		"auth incomplete":    {"AUTH_ENABLED": "true"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := shared.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("SNAPSHOT_WORKERS=9\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SNAPSHOT_WORKERS") })

	c, err := shared.Load()
	require.NoError(t, err)
	assert.Equal(t, 9, c.SnapshotWorkers)
}
