package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'assistant' CHECK (role IN ('admin', 'librarian', 'assistant')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS books (
    id               INTEGER PRIMARY KEY,
    isbn             TEXT NOT NULL,
    title            TEXT NOT NULL,
    author           TEXT NOT NULL,
    publisher        TEXT,
    publication_year INTEGER,
    category         TEXT,
    quantity         INTEGER NOT NULL CHECK (quantity >= 0),
    available        INTEGER NOT NULL,
    description      TEXT,
    cover            BLOB,
    cover_mime       TEXT,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at       DATETIME,
    CHECK (available >= 0 AND available <= quantity)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_books_isbn_active
    ON books(isbn) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS students (
    id          INTEGER PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    first_name  TEXT NOT NULL,
    last_name   TEXT NOT NULL,
    email       TEXT,
    grade       TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS patrons (
    id              INTEGER PRIMARY KEY,
    external_id     TEXT NOT NULL UNIQUE,
    first_name      TEXT NOT NULL,
    last_name       TEXT NOT NULL,
    email           TEXT,
    membership_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status          TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS loans (
    id            INTEGER PRIMARY KEY,
    reference     TEXT NOT NULL UNIQUE,
    book_id       INTEGER NOT NULL REFERENCES books(id),
    patron_id     INTEGER NOT NULL REFERENCES patrons(id),
    librarian_id  INTEGER REFERENCES users(id),
    checkout_date DATETIME NOT NULL,
    due_date      DATETIME NOT NULL,
    return_date   DATETIME,
    status        TEXT NOT NULL DEFAULT 'checked_out' CHECK (status IN ('checked_out', 'returned'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_open_book_patron
    ON loans(book_id, patron_id) WHERE return_date IS NULL;

CREATE INDEX IF NOT EXISTS idx_loans_book_checkout
    ON loans(book_id, checkout_date);

CREATE VIEW IF NOT EXISTS transactions AS
    SELECT l.id AS loan_id, l.reference, p.external_id AS student_id,
           b.id AS book_id, b.title, b.author, b.isbn,
           l.checkout_date, l.due_date, l.return_date, l.status
    FROM loans l
    JOIN books b ON b.id = l.book_id
    JOIN patrons p ON p.id = l.patron_id;
`

// EnsureSchema creates all tables, indexes and views if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
