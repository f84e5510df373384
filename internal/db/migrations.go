package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: overdue reports filter open loans by due date.
	`CREATE INDEX IF NOT EXISTS idx_loans_due_open
	     ON loans(due_date) WHERE return_date IS NULL`,
	// Migration 2: patron search orders by last name.
	`CREATE INDEX IF NOT EXISTS idx_patrons_name
	     ON patrons(last_name, first_name)`,
}

// Migrate creates the schema and runs the migrations. It is run once at
// startup or by "knjiznica migrate", never on the request path.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
