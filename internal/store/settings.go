package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Setting keys.
const (
	settingJWTSecret = "jwt_secret"
	settingCSRFKey   = "csrf_key"
)

// GetJWTSecret returns the JWT signing secret, generating it on first use.
func GetJWTSecret(ctx context.Context, q DBTX) (string, error) {
	return getOrCreateSecret(ctx, q, settingJWTSecret)
}

// GetCSRFKey returns the hex-encoded 32-byte key for CSRF tokens,
// generating it on first use.
func GetCSRFKey(ctx context.Context, q DBTX) (string, error) {
	return getOrCreateSecret(ctx, q, settingCSRFKey)
}

// getOrCreateSecret uses INSERT OR IGNORE + re-SELECT so that concurrent
// first starts agree on one value.
func getOrCreateSecret(ctx context.Context, q DBTX, key string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating %s: %w", key, err)
	}

	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
		key, hex.EncodeToString(buf),
	)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}

	var value string
	err = q.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", key, err)
	}
	return value, nil
}
