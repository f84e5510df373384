// Package store holds the SQL accessors for the library database. Every
// function takes a DBTX so it can run on the pool or inside a transaction
// owned by the caller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	// ErrBookNotFound is returned by writes that target a missing or deleted book.
	ErrBookNotFound = errors.New("book not found")
	// ErrDuplicateISBN is returned when an active book already uses the ISBN.
	ErrDuplicateISBN = errors.New("a book with this ISBN already exists")
	// ErrBookOnLoan is returned when deleting a book that has copies out.
	ErrBookOnLoan = errors.New("book has copies on loan")
	// ErrInvalidQuantity is returned when a quantity change would leave
	// fewer copies than are currently on loan.
	ErrInvalidQuantity = errors.New("quantity cannot be less than copies on loan")
	// ErrNoCopyAvailable is returned by DecrementAvailable when no copy is on the shelf.
	ErrNoCopyAvailable = errors.New("no copy available")
	// ErrAllCopiesIn is returned by IncrementAvailable when every copy is already on the shelf.
	ErrAllCopiesIn = errors.New("all copies already available")
	// ErrOpenLoanExists is returned when the patron already holds an open
	// loan for the same book.
	ErrOpenLoanExists = errors.New("patron already has this book on loan")
	// ErrLoanClosed is returned when closing a loan that was already returned.
	ErrLoanClosed = errors.New("loan already returned")
	// ErrDuplicateUsername is returned when an active account already uses the username.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrDuplicateStudent is returned when a student id is already registered.
	ErrDuplicateStudent = errors.New("student already exists")
)

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// likePattern escapes LIKE wildcards in s and wraps it in %...%.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
