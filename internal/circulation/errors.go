package circulation

import (
	"errors"
	"fmt"
)

// Business-rule failures. Callers match them with errors.Is.
var (
	// ErrBookUnavailable means the book does not exist or has no copy on the shelf.
	ErrBookUnavailable = errors.New("book is not available")
	// ErrBookNotFound means a check-in token matched no book.
	ErrBookNotFound = errors.New("book not found")
	// ErrPatronResolution means the student directory has no profile for the patron.
	ErrPatronResolution = errors.New("student not found in the directory")
	// ErrNoActiveLoan means the book has no open loan to return.
	ErrNoActiveLoan = errors.New("book has no active loan")
	// ErrAlreadyOnLoan means the patron already holds a copy of the book.
	ErrAlreadyOnLoan = errors.New("patron already has this book on loan")
)

// PersistenceError reports a database or student directory failure during a
// circulation step.
// Nothing was changed: the surrounding transaction was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is a database failure rather than a
// business-rule failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
