// Package catalogfile bulk-loads books and students from YAML files.
//
// A books file looks like:
//
//	books:
//	  - isbn: "9789610100001"
//	    title: Butalci
//	    author: Fran Milčinski
//	    category: Pravljice
//	    quantity: 3
//
// and a students file like:
//
//	students:
//	  - id: S1001
//	    first_name: Ana
//	    last_name: Novak
//	    grade: 7.a
package catalogfile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BookEntry is one book in a books file.
type BookEntry struct {
	ISBN        string `yaml:"isbn"`
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Publisher   string `yaml:"publisher"`
	Year        int    `yaml:"year"`
	Category    string `yaml:"category"`
	Quantity    int    `yaml:"quantity"`
	Description string `yaml:"description"`
}

// StudentEntry is one student in a students file.
type StudentEntry struct {
	ID        string `yaml:"id"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Grade     string `yaml:"grade"`
}

// Result counts what an import did.
type Result struct {
	Created int
	Skipped int // already present
}

var lowerCategory = cases.Lower(language.Slovenian)

// ParseBooks decodes and validates a books file. Quantity defaults to 1 and
// categories are stored lower case.
func ParseBooks(r io.Reader) ([]model.Book, error) {
	var file struct {
		Books []BookEntry `yaml:"books"`
	}
	if err := decode(r, &file); err != nil {
		return nil, err
	}

	books := make([]model.Book, 0, len(file.Books))
	for i, e := range file.Books {
		e.ISBN = strings.TrimSpace(e.ISBN)
		e.Title = strings.TrimSpace(e.Title)
		e.Author = strings.TrimSpace(e.Author)
		if e.ISBN == "" || e.Title == "" || e.Author == "" {
			return nil, fmt.Errorf("book %d: isbn, title and author are required", i+1)
		}
		if e.Quantity < 0 {
			return nil, fmt.Errorf("book %d (%s): quantity must not be negative", i+1, e.ISBN)
		}
		if e.Quantity == 0 {
			e.Quantity = 1
		}
		books = append(books, model.Book{
			ISBN:            e.ISBN,
			Title:           e.Title,
			Author:          e.Author,
			Publisher:       strings.TrimSpace(e.Publisher),
			PublicationYear: e.Year,
			Category:        lowerCategory.String(strings.TrimSpace(e.Category)),
			Quantity:        e.Quantity,
			Description:     strings.TrimSpace(e.Description),
		})
	}
	return books, nil
}

// ParseStudents decodes and validates a students file.
func ParseStudents(r io.Reader) ([]model.Student, error) {
	var file struct {
		Students []StudentEntry `yaml:"students"`
	}
	if err := decode(r, &file); err != nil {
		return nil, err
	}

	students := make([]model.Student, 0, len(file.Students))
	for i, e := range file.Students {
		s := model.Student{
			ExternalID: strings.TrimSpace(e.ID),
			FirstName:  strings.TrimSpace(e.FirstName),
			LastName:   strings.TrimSpace(e.LastName),
			Email:      strings.TrimSpace(e.Email),
			Grade:      strings.TrimSpace(e.Grade),
		}
		if s.ExternalID == "" || s.FirstName == "" || s.LastName == "" {
			return nil, fmt.Errorf("student %d: id, first_name and last_name are required", i+1)
		}
		students = append(students, s)
	}
	return students, nil
}

func decode(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	return nil
}

// ImportBooks adds the books in one transaction. Books whose ISBN is already
// in the catalog are skipped.
func ImportBooks(ctx context.Context, db *sql.DB, books []model.Book) (Result, error) {
	var res Result
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		for i := range books {
			_, err := store.CreateBook(ctx, tx, &books[i])
			if errors.Is(err, store.ErrDuplicateISBN) {
				res.Skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("importing %s: %w", books[i].ISBN, err)
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ImportStudents adds the students in one transaction. Students whose ID is
// already registered are skipped.
func ImportStudents(ctx context.Context, db *sql.DB, students []model.Student) (Result, error) {
	var res Result
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		for i := range students {
			_, err := store.CreateStudent(ctx, tx, &students[i])
			if errors.Is(err, store.ErrDuplicateStudent) {
				res.Skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("importing %s: %w", students[i].ExternalID, err)
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}
