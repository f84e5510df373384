// Package circulation checks books out to students and back in. Every
// operation runs in a single database transaction: either all of its writes
// happen or none do.
package circulation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// DefaultLoanPeriod is how long a patron may keep a book.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// StudentDirectory is the external identity provider consulted when a
// student borrows for the first time. GetProfile returns nil, nil for an
// unknown student.
type StudentDirectory interface {
	GetProfile(ctx context.Context, externalID string) (*model.StudentProfile, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGen generates loan references.
type IDGen interface {
	New(t time.Time) (string, error)
}

// ULIDGen produces lexically sortable ULID references.
type ULIDGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New returns a ULID for time t.
func (g *ULIDGen) New(t time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entropy == nil {
		g.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Receipt describes a completed checkout or check-in.
type Receipt struct {
	Loan      *model.Loan   `json:"loan"`
	Book      *model.Book   `json:"book"`
	Patron    *model.Patron `json:"patron"`
	NewPatron bool          `json:"new_patron,omitempty"`
}

// Service coordinates the catalog, patron directory and loan ledger.
type Service struct {
	DB         *sql.DB
	Students   StudentDirectory
	Clock      Clock
	IDs        IDGen
	LoanPeriod time.Duration
}

// NewService returns a Service with the system clock, ULID references and
// the default loan period.
func NewService(db *sql.DB, students StudentDirectory) *Service {
	return &Service{
		DB:         db,
		Students:   students,
		Clock:      systemClock{},
		IDs:        &ULIDGen{},
		LoanPeriod: DefaultLoanPeriod,
	}
}

func (s *Service) now() time.Time {
	return s.Clock.Now().UTC().Truncate(time.Second)
}

// Checkout lends one copy of a book to the student with the given external ID.
func (s *Service) Checkout(ctx context.Context, bookID int64, externalID string, librarianID *int64) (*Receipt, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: empty student id", ErrPatronResolution)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence("begin checkout", err)
	}
	defer tx.Rollback()

	// Taking the copy first makes the availability check and the write one
	// statement.
	if err := store.DecrementAvailable(ctx, tx, bookID); err != nil {
		if errors.Is(err, store.ErrNoCopyAvailable) {
			return nil, ErrBookUnavailable
		}
		return nil, persistence("reserve copy", err)
	}

	book, err := store.GetBook(ctx, tx, bookID)
	if err != nil {
		return nil, persistence("load book", err)
	}

	now := s.now()
	patron, created, err := s.resolvePatron(ctx, tx, externalID, now)
	if err != nil {
		return nil, err
	}

	open, err := store.HasOpenLoan(ctx, tx, bookID, patron.ID)
	if err != nil {
		return nil, persistence("check open loans", err)
	}
	if open {
		return nil, ErrAlreadyOnLoan
	}

	ref, err := s.IDs.New(now)
	if err != nil {
		return nil, persistence("generate loan reference", err)
	}

	loan, err := store.OpenLoan(ctx, tx, &model.Loan{
		Reference:    ref,
		BookID:       bookID,
		PatronID:     patron.ID,
		LibrarianID:  librarianID,
		CheckoutDate: now,
		DueDate:      now.Add(s.LoanPeriod),
	})
	if errors.Is(err, store.ErrOpenLoanExists) {
		return nil, ErrAlreadyOnLoan
	}
	if err != nil {
		return nil, persistence("open loan", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence("commit checkout", err)
	}

	return &Receipt{Loan: loan, Book: book, Patron: patron, NewPatron: created}, nil
}

// resolvePatron finds the patron for externalID, registering it from the
// student directory on first checkout.
func (s *Service) resolvePatron(ctx context.Context, tx *sql.Tx, externalID string, now time.Time) (*model.Patron, bool, error) {
	patron, err := store.FindPatronByExternalID(ctx, tx, externalID)
	if err != nil {
		return nil, false, persistence("find patron", err)
	}
	if patron != nil {
		return patron, false, nil
	}

	profile, err := s.Students.GetProfile(ctx, externalID)
	if err != nil {
		return nil, false, persistence("student directory", err)
	}
	if profile == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrPatronResolution, externalID)
	}

	patron, err = store.GetOrCreatePatron(ctx, tx, externalID, profile, now)
	if err != nil {
		return nil, false, persistence("register patron", err)
	}
	return patron, true, nil
}

// Checkin returns the most recently lent copy of the book identified by
// token (book ID, ISBN or part of the title).
func (s *Service) Checkin(ctx context.Context, token string) (*Receipt, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence("begin checkin", err)
	}
	defer tx.Rollback()

	book, err := store.ResolveBook(ctx, tx, token)
	if err != nil {
		return nil, persistence("resolve book", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}

	loan, err := store.FindOpenLoan(ctx, tx, book.ID)
	if err != nil {
		return nil, persistence("find open loan", err)
	}
	if loan == nil {
		return nil, ErrNoActiveLoan
	}

	return s.finishCheckin(ctx, tx, loan)
}

// CheckinLoan returns the copy lent under the given loan reference.
func (s *Service) CheckinLoan(ctx context.Context, reference string) (*Receipt, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence("begin checkin", err)
	}
	defer tx.Rollback()

	loan, err := store.GetLoanByReference(ctx, tx, strings.TrimSpace(reference))
	if err != nil {
		return nil, persistence("find loan", err)
	}
	if loan == nil {
		return nil, ErrBookNotFound
	}
	if !loan.IsOpen() {
		return nil, ErrNoActiveLoan
	}

	return s.finishCheckin(ctx, tx, loan)
}

func (s *Service) finishCheckin(ctx context.Context, tx *sql.Tx, loan *model.Loan) (*Receipt, error) {
	if err := store.CloseLoan(ctx, tx, loan.ID, s.now()); err != nil {
		if errors.Is(err, store.ErrLoanClosed) {
			return nil, ErrNoActiveLoan
		}
		return nil, persistence("close loan", err)
	}
	if err := store.IncrementAvailable(ctx, tx, loan.BookID); err != nil {
		return nil, persistence("return copy", err)
	}

	closed, err := store.GetLoan(ctx, tx, loan.ID)
	if err != nil {
		return nil, persistence("load loan", err)
	}
	book, err := store.GetBook(ctx, tx, loan.BookID)
	if err != nil {
		return nil, persistence("load book", err)
	}
	patron, err := store.GetPatron(ctx, tx, loan.PatronID)
	if err != nil {
		return nil, persistence("load patron", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence("commit checkin", err)
	}

	return &Receipt{Loan: closed, Book: book, Patron: patron}, nil
}
