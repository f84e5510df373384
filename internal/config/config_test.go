package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "knjiznica.sqlite3", cfg.Database.Path)
	assert.Equal(t, "admin", cfg.AdminUser)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenExpiry)
	assert.True(t, cfg.Maintenance.Enabled)
	assert.False(t, cfg.SecureCookies)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KNJIZNICA_ADDR", "127.0.0.1:9000")
	t.Setenv("KNJIZNICA_LOAN_PERIOD_DAYS", "21")
	t.Setenv("KNJIZNICA_SECURE_COOKIES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 21*24*time.Hour, cfg.LoanPeriod)
	assert.True(t, cfg.SecureCookies)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KNJIZNICA_DB=/var/lib/knjiznica/library.db\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("KNJIZNICA_DB") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/knjiznica/library.db", cfg.Database.Path)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("KNJIZNICA_LOAN_PERIOD_DAYS", "0")
	_, err := Load("")
	assert.ErrorContains(t, err, "loan_period_days")

	t.Setenv("KNJIZNICA_LOAN_PERIOD_DAYS", "14")
	t.Setenv("KNJIZNICA_PURGE_SCHEDULE", "every day")
	_, err = Load("")
	assert.ErrorContains(t, err, "purge_schedule")

	t.Setenv("KNJIZNICA_MAINTENANCE_ENABLED", "false")
	_, err = Load("")
	assert.NoError(t, err, "schedules are not checked when maintenance is off")
}

func TestCSRFKey(t *testing.T) {
	t.Setenv("KNJIZNICA_CSRF_KEY", "abcd")
	_, err := Load("")
	assert.ErrorContains(t, err, "csrf_key")

	key := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	t.Setenv("KNJIZNICA_CSRF_KEY", key)
	cfg, err := Load("")
	require.NoError(t, err)

	decoded, err := DecodeKey(cfg.CSRFKey)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
	assert.Equal(t, byte(0x1f), decoded[31])
}
