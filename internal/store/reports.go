package store

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// RecentWindow is how far back CirculationStats counts recent checkouts.
const RecentWindow = 30 * 24 * time.Hour

// CirculationStats returns collection and loan totals as of now.
func CirculationStats(ctx context.Context, q DBTX, now time.Time) (*model.CirculationStats, error) {
	s := &model.CirculationStats{}
	now = now.UTC()

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(available), 0)
		 FROM books WHERE deleted_at IS NULL`,
	).Scan(&s.Titles, &s.Copies, &s.Available)
	if err != nil {
		return nil, fmt.Errorf("counting books: %w", err)
	}
	s.OnLoan = s.Copies - s.Available

	err = q.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN return_date IS NULL THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN return_date IS NULL AND due_date < ? THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN checkout_date >= ? THEN 1 ELSE 0 END), 0)
		 FROM loans`,
		now, now.Add(-RecentWindow),
	).Scan(&s.OpenLoans, &s.OverdueLoans, &s.RecentCheckouts)
	if err != nil {
		return nil, fmt.Errorf("counting loans: %w", err)
	}

	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM patrons`).Scan(&s.Patrons)
	if err != nil {
		return nil, fmt.Errorf("counting patrons: %w", err)
	}

	return s, nil
}

// PopularBooks ranks books by the number of checkouts since the given time.
// A zero since counts all checkouts.
func PopularBooks(ctx context.Context, q DBTX, limit int, since time.Time) ([]model.PopularBook, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT b.id, b.title, b.author, COUNT(l.id) AS checkouts
		FROM loans l JOIN books b ON b.id = l.book_id`
	var args []any
	if !since.IsZero() {
		query += ` WHERE l.checkout_date >= ?`
		args = append(args, since.UTC())
	}
	query += ` GROUP BY b.id ORDER BY checkouts DESC, b.title COLLATE NOCASE, b.id LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ranking books: %w", err)
	}
	defer rows.Close()

	var books []model.PopularBook
	for rows.Next() {
		var p model.PopularBook
		if err := rows.Scan(&p.BookID, &p.Title, &p.Author, &p.Checkouts); err != nil {
			return nil, fmt.Errorf("scanning popular book: %w", err)
		}
		books = append(books, p)
	}
	return books, rows.Err()
}

// OverdueLoans returns open loans due before now, oldest due date first.
func OverdueLoans(ctx context.Context, q DBTX, now time.Time) ([]model.Loan, error) {
	rows, err := q.QueryContext(ctx,
		loanSelect+` WHERE l.return_date IS NULL AND l.due_date < ? ORDER BY l.due_date, l.id`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing overdue loans: %w", err)
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

// CategoryBreakdown aggregates titles, copies and all-time checkouts per
// category. Books without a category are grouped under "".
func CategoryBreakdown(ctx context.Context, q DBTX) ([]model.CategoryCount, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT COALESCE(b.category, ''), COUNT(*), SUM(b.quantity),
		        SUM((SELECT COUNT(*) FROM loans l WHERE l.book_id = b.id))
		 FROM books b
		 WHERE b.deleted_at IS NULL
		 GROUP BY COALESCE(b.category, '')
		 ORDER BY COALESCE(b.category, '') COLLATE NOCASE`,
	)
	if err != nil {
		return nil, fmt.Errorf("grouping categories: %w", err)
	}
	defer rows.Close()

	var counts []model.CategoryCount
	for rows.Next() {
		var c model.CategoryCount
		if err := rows.Scan(&c.Category, &c.Titles, &c.Copies, &c.Checkouts); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
