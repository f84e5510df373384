package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingDirectory struct{}

func (failingDirectory) GetProfile(context.Context, string) (*model.StudentProfile, error) {
	return nil, errors.New("directory offline")
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	database := db.NewTestDB(t)
	svc := NewService(database, store.StudentDirectory{DB: database})
	svc.Clock = fixedClock{testNow}
	return svc, database
}

func addStudent(t *testing.T, database *sql.DB, externalID, first, last string) {
	t.Helper()
	_, err := store.CreateStudent(context.Background(), database, &model.Student{
		ExternalID: externalID, FirstName: first, LastName: last,
	})
	require.NoError(t, err)
}

func addBook(t *testing.T, database *sql.DB, isbn, title string, quantity int) *model.Book {
	t.Helper()
	b, err := store.CreateBook(context.Background(), database, &model.Book{
		ISBN: isbn, Title: title, Author: "Fran Milčinski", Quantity: quantity,
	})
	require.NoError(t, err)
	return b
}

func getBook(t *testing.T, database *sql.DB, id int64) *model.Book {
	t.Helper()
	b, err := store.GetBook(context.Background(), database, id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func TestCheckoutCreatesPatronAndLoan(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	book := addBook(t, database, "9789610100001", "Butalci", 2)

	receipt, err := svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)

	assert.True(t, receipt.NewPatron)
	assert.Equal(t, "Ana Novak", receipt.Patron.FullName())
	assert.Equal(t, testNow.Add(14*24*time.Hour), receipt.Loan.DueDate.UTC())
	assert.Equal(t, model.LoanStatusCheckedOut, receipt.Loan.Status)
	assert.Len(t, receipt.Loan.Reference, 26)
	assert.Equal(t, 1, receipt.Book.Available)

	// The patron is registered once.
	second := addBook(t, database, "9789610100002", "Ježek Jaka", 1)
	receipt2, err := svc.Checkout(ctx, second.ID, "S1", nil)
	require.NoError(t, err)
	assert.False(t, receipt2.NewPatron)
	assert.Equal(t, receipt.Patron.ID, receipt2.Patron.ID)
}

func TestCheckoutRecordsLibrarian(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	book := addBook(t, database, "1", "Butalci", 1)
	user, err := store.CreateUser(ctx, database, "mojca", "hash", model.RoleLibrarian)
	require.NoError(t, err)

	receipt, err := svc.Checkout(ctx, book.ID, "S1", &user.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt.Loan.LibrarianID)
	assert.Equal(t, user.ID, *receipt.Loan.LibrarianID)
	assert.Equal(t, "mojca", receipt.Loan.LibrarianName)
}

func TestCheckoutUnavailableMutatesNothing(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	addStudent(t, database, "S2", "Bor", "Kos")
	book := addBook(t, database, "1", "Butalci", 1)

	_, err := svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, book.ID, "S2", nil)
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.False(t, IsPersistence(err))

	assert.Equal(t, 0, getBook(t, database, book.ID).Available)
	patrons, err := store.ListPatrons(ctx, database, "")
	require.NoError(t, err)
	assert.Len(t, patrons, 1, "failed checkout must not register a patron")

	_, err = svc.Checkout(ctx, 9999, "S1", nil)
	assert.ErrorIs(t, err, ErrBookUnavailable)
}

func TestCheckoutUnknownStudent(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	book := addBook(t, database, "1", "Butalci", 1)

	_, err := svc.Checkout(ctx, book.ID, "S404", nil)
	assert.ErrorIs(t, err, ErrPatronResolution)
	assert.Equal(t, 1, getBook(t, database, book.ID).Available, "copy must go back on the shelf")

	_, err = svc.Checkout(ctx, book.ID, "   ", nil)
	assert.ErrorIs(t, err, ErrPatronResolution)

	assert.Equal(t, 1, getBook(t, database, book.ID).Available)
}

func TestCheckoutDirectoryFailure(t *testing.T) {
	svc, database := setupService(t)
	book := addBook(t, database, "1", "Butalci", 1)
	svc.Students = failingDirectory{}

	_, err := svc.Checkout(context.Background(), book.ID, "S1", nil)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.NotErrorIs(t, err, ErrPatronResolution)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "student directory", pe.Op)
	assert.Equal(t, 1, getBook(t, database, book.ID).Available, "copy must go back on the shelf")
}

func TestCheckoutSameBookTwice(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	book := addBook(t, database, "1", "Butalci", 3)

	_, err := svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, book.ID, "S1", nil)
	assert.ErrorIs(t, err, ErrAlreadyOnLoan)
	assert.Equal(t, 2, getBook(t, database, book.ID).Available)
}

func TestCheckoutCheckinRoundTrip(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	book := addBook(t, database, "9789610100001", "Butalci", 2)

	_, err := svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)

	receipt, err := svc.Checkin(ctx, "9789610100001")
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusReturned, receipt.Loan.Status)
	require.NotNil(t, receipt.Loan.ReturnDate)
	assert.Equal(t, 2, receipt.Book.Available)
	assert.Equal(t, "S1", receipt.Patron.ExternalID)

	// The same patron may borrow the book again.
	_, err = svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)
}

func TestCheckinWithoutOpenLoan(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	book := addBook(t, database, "1", "Butalci", 2)

	_, err := svc.Checkin(ctx, "Butalci")
	assert.ErrorIs(t, err, ErrNoActiveLoan)
	assert.Equal(t, 2, getBook(t, database, book.ID).Available)

	_, err = svc.Checkin(ctx, "no such book")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestCheckinLoanByReference(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "S1", "Ana", "Novak")
	addStudent(t, database, "S2", "Bor", "Kos")
	book := addBook(t, database, "1", "Butalci", 2)

	first, err := svc.Checkout(ctx, book.ID, "S1", nil)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, book.ID, "S2", nil)
	require.NoError(t, err)

	// By reference the older loan is returned, not the most recent one.
	receipt, err := svc.CheckinLoan(ctx, first.Loan.Reference)
	require.NoError(t, err)
	assert.Equal(t, first.Loan.ID, receipt.Loan.ID)
	assert.Equal(t, 1, receipt.Book.Available)

	_, err = svc.CheckinLoan(ctx, first.Loan.Reference)
	assert.ErrorIs(t, err, ErrNoActiveLoan)

	_, err = svc.CheckinLoan(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestLastCopyScenario(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	addStudent(t, database, "A", "Ana", "Novak")
	addStudent(t, database, "B", "Bor", "Kos")
	book := addBook(t, database, "9789610100001", "Butalci", 1)

	a, err := svc.Checkout(ctx, book.ID, "A", nil)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 14), a.Loan.DueDate.UTC())

	_, err = svc.Checkout(ctx, book.ID, "B", nil)
	require.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, 0, getBook(t, database, book.ID).Available)

	receipt, err := svc.Checkin(ctx, "9789610100001")
	require.NoError(t, err)
	assert.Equal(t, a.Loan.ID, receipt.Loan.ID)
	assert.Equal(t, model.LoanStatusReturned, receipt.Loan.Status)
	assert.Equal(t, 1, getBook(t, database, book.ID).Available)
}

func TestConcurrentCheckoutsKeepInvariant(t *testing.T) {
	svc, database := setupService(t)
	ctx := context.Background()
	book := addBook(t, database, "1", "Butalci", 3)

	const workers = 12
	for i := range workers {
		addStudent(t, database, fmt.Sprintf("S%d", i), "Učenec", fmt.Sprintf("%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Checkout(ctx, book.ID, fmt.Sprintf("S%d", i), nil)
		}()
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrBookUnavailable):
			unavailable++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, workers-3, unavailable)

	got := getBook(t, database, book.ID)
	assert.Equal(t, 0, got.Available)

	loans, err := store.ListLoans(ctx, database, model.LoanFilter{Status: model.LoanStatusCheckedOut}, testNow)
	require.NoError(t, err)
	assert.Len(t, loans, 3)

	// Concurrent returns never push availability above quantity.
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Checkin(ctx, "1")
		}()
	}
	wg.Wait()
	got = getBook(t, database, book.ID)
	assert.Equal(t, got.Quantity, got.Available)
}

func TestPersistenceErrorIsDistinct(t *testing.T) {
	svc, database := setupService(t)
	book := addBook(t, database, "1", "Butalci", 1)
	require.NoError(t, database.Close())

	_, err := svc.Checkout(context.Background(), book.ID, "S1", nil)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.NotErrorIs(t, err, ErrBookUnavailable)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "begin checkout", pe.Op)
}

func TestULIDGenMonotonic(t *testing.T) {
	g := &ULIDGen{}
	a, err := g.New(testNow)
	require.NoError(t, err)
	b, err := g.New(testNow)
	require.NoError(t, err)
	assert.Less(t, a, b)
}
