package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// Password change errors. Any other error is a policy violation whose
// message can be shown to the user.
var (
	ErrWrongPassword = errors.New("current password is incorrect")
	ErrInternal      = errors.New("internal error")
)

// HashPassword validates the password policy and returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	if err := model.ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		return "", ErrInternal
	}
	return string(hash), nil
}

// ChangeOwnPassword replaces the signed-in user's password after checking
// the current one.
func ChangeOwnPassword(r *http.Request, db *sql.DB, claims *auth.Claims, current, next string) error {
	user, err := store.GetUser(r.Context(), db, claims.UserID)
	if err != nil || user == nil {
		return ErrInternal
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongPassword
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := store.UpdateUserPassword(r.Context(), db, claims.UserID, hash); err != nil {
		slog.Error("failed to update password", "error", err)
		return ErrInternal
	}

	slog.Info("user changed own password", "user", claims.Username)
	return nil
}
