// Package config loads portal settings from the environment. Every key can
// be set as KNJIZNICA_<KEY>, optionally from a .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "KNJIZNICA"

type (
	Config struct {
		HTTP
		Database
		Log
		Auth
		Circulation
		Maintenance
	}

	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	Database struct {
		Path string
	}
	Log struct {
		Path string // empty: stdout/stderr only
	}
	Auth struct {
		AdminUser     string // created on first run
		TokenExpiry   time.Duration
		SecureCookies bool   // set to false for local dev without HTTPS
		CSRFKey       string // 64 hex chars; empty: generated and kept in the database
	}
	Circulation struct {
		LoanPeriod time.Duration
	}
	Maintenance struct {
		Enabled         bool
		PurgeSchedule   string // cron format, revoked token cleanup
		OverdueSchedule string // cron format, overdue loan summary
	}
)

// Load reads envFile (if it exists) into the process environment and builds
// the configuration from defaults and KNJIZNICA_* variables. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("db", "knjiznica.sqlite3")
	v.SetDefault("log", "")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("token_expiry", "168h")
	v.SetDefault("secure_cookies", false)
	v.SetDefault("csrf_key", "")
	v.SetDefault("loan_period_days", 14)
	v.SetDefault("maintenance_enabled", true)
	v.SetDefault("purge_schedule", "15 3 * * *")    // daily at 03:15
	v.SetDefault("overdue_schedule", "0 7 * * 1-5") // school days at 07:00

	cfg := &Config{
		HTTP: HTTP{
			Addr:            v.GetString("addr"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Database: Database{
			Path: v.GetString("db"),
		},
		Log: Log{
			Path: v.GetString("log"),
		},
		Auth: Auth{
			AdminUser:     v.GetString("admin_user"),
			TokenExpiry:   v.GetDuration("token_expiry"),
			SecureCookies: v.GetBool("secure_cookies"),
			CSRFKey:       v.GetString("csrf_key"),
		},
		Circulation: Circulation{
			LoanPeriod: time.Duration(v.GetInt("loan_period_days")) * 24 * time.Hour,
		},
		Maintenance: Maintenance{
			Enabled:         v.GetBool("maintenance_enabled"),
			PurgeSchedule:   v.GetString("purge_schedule"),
			OverdueSchedule: v.GetString("overdue_schedule"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("config: db must not be empty")
	}
	if c.LoanPeriod <= 0 {
		return errors.New("config: loan_period_days must be positive")
	}
	if c.TokenExpiry <= 0 {
		return errors.New("config: token_expiry must be positive")
	}
	if c.CSRFKey != "" {
		if _, err := DecodeKey(c.CSRFKey); err != nil {
			return fmt.Errorf("config: csrf_key: %w", err)
		}
	}
	if c.Maintenance.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		for name, expr := range map[string]string{
			"purge_schedule":   c.PurgeSchedule,
			"overdue_schedule": c.OverdueSchedule,
		} {
			if _, err := parser.Parse(expr); err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
		}
	}
	return nil
}

// DecodeKey parses a hex-encoded 32-byte key.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
