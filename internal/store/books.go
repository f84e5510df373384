package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/erazemk/knjiznica/internal/model"
)

const bookColumns = `id, isbn, title, author, publisher, publication_year, category,
	quantity, available, description, cover_mime, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*model.Book, error) {
	b := &model.Book{}
	var publisher, category, description, coverMime sql.NullString
	var year sql.NullInt64
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &publisher, &year, &category,
		&b.Quantity, &b.Available, &description, &coverMime, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if err != nil {
		return nil, err
	}
	b.Publisher = publisher.String
	b.PublicationYear = int(year.Int64)
	b.Category = category.String
	b.Description = description.String
	b.CoverMime = coverMime.String
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// CreateBook adds a book to the catalog with every copy available.
func CreateBook(ctx context.Context, q DBTX, b *model.Book) (*model.Book, error) {
	if b.Quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative")
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO books (isbn, title, author, publisher, publication_year, category, quantity, available, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ISBN, b.Title, b.Author, nullString(b.Publisher), nullInt(b.PublicationYear),
		nullString(b.Category), b.Quantity, b.Quantity, nullString(b.Description),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateISBN
	}
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting book id: %w", err)
	}

	return GetBook(ctx, q, id)
}

// GetBook returns a book by ID, including deleted books (for loan history).
func GetBook(ctx context.Context, q DBTX, id int64) (*model.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	return b, nil
}

// GetBookByISBN returns the active book with the given ISBN.
func GetBookByISBN(ctx context.Context, q DBTX, isbn string) (*model.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE isbn = ? AND deleted_at IS NULL`, isbn))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book by isbn: %w", err)
	}
	return b, nil
}

// ListBooks returns active books matching the filter, ordered by title.
func ListBooks(ctx context.Context, q DBTX, f model.BookFilter) ([]model.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE deleted_at IS NULL`
	var args []any

	if s := strings.TrimSpace(f.Search); s != "" {
		p := likePattern(s)
		query += ` AND (title LIKE ? ESCAPE '\' OR author LIKE ? ESCAPE '\' OR isbn LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.AvailableOnly {
		query += ` AND available > 0`
	}

	query += ` ORDER BY title COLLATE NOCASE, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// ListCategories returns the distinct categories in use.
func ListCategories(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT category FROM books
		 WHERE deleted_at IS NULL AND category IS NOT NULL AND category <> ''
		 ORDER BY category COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpdateBook updates a book's metadata and total quantity. Changing the
// quantity shifts the available count by the same amount, so copies on loan
// stay on loan. It fails with ErrInvalidQuantity if fewer copies would remain
// than are currently out and ErrBookNotFound if the book does not exist.
func UpdateBook(ctx context.Context, q DBTX, b *model.Book) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books
		 SET isbn = ?, title = ?, author = ?, publisher = ?, publication_year = ?, category = ?,
		     description = ?, available = available + (? - quantity), quantity = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL AND available + (? - quantity) >= 0`,
		b.ISBN, b.Title, b.Author, nullString(b.Publisher), nullInt(b.PublicationYear),
		nullString(b.Category), nullString(b.Description), b.Quantity, b.Quantity,
		b.ID, b.Quantity,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateISBN
	}
	if err != nil {
		return fmt.Errorf("updating book: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating book: %w", err)
	}
	if n == 0 {
		return missingOr(ctx, q, b.ID, ErrInvalidQuantity)
	}
	return nil
}

// DeleteBook soft-deletes a book. Fails with ErrBookOnLoan if any copy is
// off the shelf and ErrBookNotFound if the book does not exist.
func DeleteBook(ctx context.Context, q DBTX, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET deleted_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL AND available = quantity
		   AND NOT EXISTS (SELECT 1 FROM loans WHERE book_id = ? AND return_date IS NULL)`,
		id, id,
	)
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	if n > 0 {
		return nil
	}
	return missingOr(ctx, q, id, ErrBookOnLoan)
}

// missingOr explains a zero-row update of book id: ErrBookNotFound if the
// book is gone, otherwise cause.
func missingOr(ctx context.Context, q DBTX, id int64, cause error) error {
	existing, err := GetBook(ctx, q, id)
	if err != nil {
		return err
	}
	if existing == nil || existing.DeletedAt != nil {
		return ErrBookNotFound
	}
	return cause
}

// SetBookCover stores a book's cover image.
func SetBookCover(ctx context.Context, q DBTX, id int64, image []byte, mime string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET cover = ?, cover_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting book cover: %w", err)
	}
	return requireRow(result, "setting book cover")
}

// ClearBookCover removes a book's cover image.
func ClearBookCover(ctx context.Context, q DBTX, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET cover = NULL, cover_mime = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("clearing book cover: %w", err)
	}
	return requireRow(result, "clearing book cover")
}

// requireRow returns ErrBookNotFound when an update by book id matched nothing.
func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// GetBookCover returns a book's cover image and MIME type.
func GetBookCover(ctx context.Context, q DBTX, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT cover, cover_mime FROM books WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting book cover: %w", err)
	}
	return image, mime.String, nil
}

// FindAvailable returns the book only if at least one copy is on the shelf.
func FindAvailable(ctx context.Context, q DBTX, id int64) (*model.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL AND available > 0`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding available book: %w", err)
	}
	return b, nil
}

// DecrementAvailable takes one copy off the shelf. The check and the write
// are a single statement, so two callers can never both take the last copy.
func DecrementAvailable(ctx context.Context, q DBTX, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET available = available - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL AND available > 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("decrementing available copies: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrementing available copies: %w", err)
	}
	if n == 0 {
		return ErrNoCopyAvailable
	}
	return nil
}

// IncrementAvailable puts one copy back on the shelf, never above quantity.
func IncrementAvailable(ctx context.Context, q DBTX, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET available = available + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND available < quantity`,
		id,
	)
	if err != nil {
		return fmt.Errorf("incrementing available copies: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("incrementing available copies: %w", err)
	}
	if n == 0 {
		return ErrAllCopiesIn
	}
	return nil
}

// ResolveBook finds the book a check-in token refers to. The token is tried
// as a numeric book ID, then as an exact ISBN, then as a case-insensitive
// title substring. Among title matches, a book with an open loan is
// preferred, then the lowest ID.
func ResolveBook(ctx context.Context, q DBTX, token string) (*model.Book, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	if id, err := strconv.ParseInt(token, 10, 64); err == nil && id > 0 {
		b, err := scanBook(q.QueryRowContext(ctx,
			`SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL`, id))
		if err == nil {
			return b, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("resolving book by id: %w", err)
		}
	}

	b, err := GetBookByISBN(ctx, q, token)
	if err != nil || b != nil {
		return b, err
	}

	b, err = scanBook(q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books
		 WHERE deleted_at IS NULL AND title LIKE ? ESCAPE '\'
		 ORDER BY EXISTS (SELECT 1 FROM loans l WHERE l.book_id = books.id AND l.return_date IS NULL) DESC, id
		 LIMIT 1`, likePattern(token)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving book by title: %w", err)
	}
	return b, nil
}
