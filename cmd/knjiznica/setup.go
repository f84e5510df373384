package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

func cmdInit(cfg *config.Config, args []string) error {
	fs := newFlagSet("init", cfg)
	fs.StringVar(&cfg.Auth.AdminUser, "user", cfg.Auth.AdminUser, "")
	fs.StringVar(&cfg.Auth.AdminUser, "u", cfg.Auth.AdminUser, "")

	closeLog, err := parseFlags(fs, cfg, args)
	if err != nil {
		return err
	}
	defer closeLog()

	if _, err := os.Stat(cfg.Database.Path); err == nil {
		return fmt.Errorf("database %s already exists", cfg.Database.Path)
	}

	database, password, err := initDatabase(cfg.Database.Path, cfg.AdminUser)
	if err != nil {
		return err
	}
	database.Close()

	printInitResult(cfg.Database.Path, cfg.AdminUser, password)
	return nil
}

func cmdMigrate(cfg *config.Config, args []string) error {
	fs := newFlagSet("migrate", cfg)

	closeLog, err := parseFlags(fs, cfg, args)
	if err != nil {
		return err
	}
	defer closeLog()

	if _, err := os.Stat(cfg.Database.Path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("database %s does not exist, run knjiznica init first", cfg.Database.Path)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}
	slog.Info("database migrated", "path", cfg.Database.Path)
	return nil
}

// initDatabase creates a new database, applies the schema, and creates the
// admin user. On failure the half-created file is removed.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}
	fail := func(err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", err
	}

	if err := db.Migrate(database); err != nil {
		return fail(err)
	}

	password, err := generatePassword(16)
	if err != nil {
		return fail(fmt.Errorf("generating password: %w", err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fail(fmt.Errorf("hashing password: %w", err))
	}

	if _, err := store.CreateUser(context.Background(), database, adminUsername, string(hash), model.RoleAdmin); err != nil {
		return fail(fmt.Errorf("creating admin user: %w", err))
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
