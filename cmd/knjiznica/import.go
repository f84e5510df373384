package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/erazemk/knjiznica/internal/catalogfile"
	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/db"
)

func cmdImport(cfg *config.Config, args []string) error {
	fs := newFlagSet("import", cfg)
	var booksPath, studentsPath string
	fs.StringVar(&booksPath, "books", "", "")
	fs.StringVar(&studentsPath, "students", "", "")

	closeLog, err := parseFlags(fs, cfg, args)
	if err != nil {
		return err
	}
	defer closeLog()

	if booksPath == "" && studentsPath == "" {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("import needs -books or -students")
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}

	ctx := context.Background()

	if studentsPath != "" {
		f, err := os.Open(studentsPath)
		if err != nil {
			return err
		}
		students, err := catalogfile.ParseStudents(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", studentsPath, err)
		}
		res, err := catalogfile.ImportStudents(ctx, database, students)
		if err != nil {
			return err
		}
		slog.Info("students imported", "file", studentsPath, "created", res.Created, "skipped", res.Skipped)
		fmt.Printf("Students: %d created, %d already present\n", res.Created, res.Skipped)
	}

	if booksPath != "" {
		f, err := os.Open(booksPath)
		if err != nil {
			return err
		}
		books, err := catalogfile.ParseBooks(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", booksPath, err)
		}
		res, err := catalogfile.ImportBooks(ctx, database, books)
		if err != nil {
			return err
		}
		slog.Info("books imported", "file", booksPath, "created", res.Created, "skipped", res.Skipped)
		fmt.Printf("Books: %d created, %d already present\n", res.Created, res.Skipped)
	}

	return nil
}
