package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

const loanSelect = `SELECT l.id, l.reference, l.book_id, l.patron_id, l.librarian_id,
	l.checkout_date, l.due_date, l.return_date, l.status,
	b.title, b.isbn, p.external_id, p.first_name || ' ' || p.last_name, COALESCE(u.username, '')
	FROM loans l
	JOIN books b ON b.id = l.book_id
	JOIN patrons p ON p.id = l.patron_id
	LEFT JOIN users u ON u.id = l.librarian_id`

func scanLoan(row rowScanner) (*model.Loan, error) {
	l := &model.Loan{}
	var librarianID sql.NullInt64
	err := row.Scan(&l.ID, &l.Reference, &l.BookID, &l.PatronID, &librarianID,
		&l.CheckoutDate, &l.DueDate, &l.ReturnDate, &l.Status,
		&l.BookTitle, &l.BookISBN, &l.PatronExternalID, &l.PatronName, &l.LibrarianName)
	if err != nil {
		return nil, err
	}
	if librarianID.Valid {
		l.LibrarianID = &librarianID.Int64
	}
	return l, nil
}

func queryLoan(ctx context.Context, q DBTX, where string, args ...any) (*model.Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, loanSelect+` WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// OpenLoan records a new loan. The loan's Reference, BookID, PatronID,
// CheckoutDate and DueDate must be set.
func OpenLoan(ctx context.Context, q DBTX, l *model.Loan) (*model.Loan, error) {
	var librarianID sql.NullInt64
	if l.LibrarianID != nil {
		librarianID = sql.NullInt64{Int64: *l.LibrarianID, Valid: true}
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO loans (reference, book_id, patron_id, librarian_id, checkout_date, due_date, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Reference, l.BookID, l.PatronID, librarianID,
		l.CheckoutDate.UTC(), l.DueDate.UTC(), model.LoanStatusCheckedOut,
	)
	if isUniqueViolation(err) {
		return nil, ErrOpenLoanExists
	}
	if err != nil {
		return nil, fmt.Errorf("opening loan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting loan id: %w", err)
	}
	return GetLoan(ctx, q, id)
}

// CloseLoan marks an open loan as returned at returnedAt.
func CloseLoan(ctx context.Context, q DBTX, id int64, returnedAt time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE loans SET return_date = ?, status = ?
		 WHERE id = ? AND return_date IS NULL`,
		returnedAt.UTC(), model.LoanStatusReturned, id,
	)
	if err != nil {
		return fmt.Errorf("closing loan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing loan: %w", err)
	}
	if n == 0 {
		return ErrLoanClosed
	}
	return nil
}

// GetLoan returns a loan by ID.
func GetLoan(ctx context.Context, q DBTX, id int64) (*model.Loan, error) {
	l, err := queryLoan(ctx, q, `l.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting loan: %w", err)
	}
	return l, nil
}

// GetLoanByReference returns a loan by its receipt reference.
func GetLoanByReference(ctx context.Context, q DBTX, reference string) (*model.Loan, error) {
	l, err := queryLoan(ctx, q, `l.reference = ?`, reference)
	if err != nil {
		return nil, fmt.Errorf("getting loan by reference: %w", err)
	}
	return l, nil
}

// FindOpenLoan returns the most recent open loan of a book, or nil.
func FindOpenLoan(ctx context.Context, q DBTX, bookID int64) (*model.Loan, error) {
	l, err := queryLoan(ctx, q,
		`l.book_id = ? AND l.return_date IS NULL ORDER BY l.checkout_date DESC, l.id DESC LIMIT 1`,
		bookID)
	if err != nil {
		return nil, fmt.Errorf("finding open loan: %w", err)
	}
	return l, nil
}

// HasOpenLoan reports whether the patron currently holds a copy of the book.
func HasOpenLoan(ctx context.Context, q DBTX, bookID, patronID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND patron_id = ? AND return_date IS NULL`,
		bookID, patronID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking open loan: %w", err)
	}
	return count > 0, nil
}

// ListLoans returns loans matching the filter, newest first. The overdue
// status filter selects open loans due before now.
func ListLoans(ctx context.Context, q DBTX, f model.LoanFilter, now time.Time) ([]model.Loan, error) {
	query := loanSelect + ` WHERE 1 = 1`
	var args []any

	switch f.Status {
	case model.LoanStatusCheckedOut:
		query += ` AND l.return_date IS NULL`
	case model.LoanStatusReturned:
		query += ` AND l.return_date IS NOT NULL`
	case model.LoanStatusOverdue:
		query += ` AND l.return_date IS NULL AND l.due_date < ?`
		args = append(args, now.UTC())
	}
	if f.BookID != 0 {
		query += ` AND l.book_id = ?`
		args = append(args, f.BookID)
	}
	if f.PatronID != 0 {
		query += ` AND l.patron_id = ?`
		args = append(args, f.PatronID)
	}

	query += ` ORDER BY l.checkout_date DESC, l.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning loan: %w", err)
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

// ListTransactions returns a student's borrowing history from the
// transactions view, newest first.
func ListTransactions(ctx context.Context, q DBTX, externalID string) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT loan_id, reference, student_id, book_id, title, author, isbn,
		        checkout_date, due_date, return_date, status
		 FROM transactions WHERE student_id = ?
		 ORDER BY checkout_date DESC, loan_id DESC`,
		externalID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.LoanID, &t.Reference, &t.StudentID, &t.BookID, &t.Title, &t.Author, &t.ISBN,
			&t.CheckoutDate, &t.DueDate, &t.ReturnDate, &t.Status); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
