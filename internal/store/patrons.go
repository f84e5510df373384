package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

const patronColumns = `id, external_id, first_name, last_name, email, membership_date, status`

func scanPatron(row rowScanner) (*model.Patron, error) {
	p := &model.Patron{}
	var email sql.NullString
	if err := row.Scan(&p.ID, &p.ExternalID, &p.FirstName, &p.LastName, &email, &p.MembershipDate, &p.Status); err != nil {
		return nil, err
	}
	p.Email = email.String
	return p, nil
}

// FindPatronByExternalID returns the patron linked to a student number.
func FindPatronByExternalID(ctx context.Context, q DBTX, externalID string) (*model.Patron, error) {
	p, err := scanPatron(q.QueryRowContext(ctx,
		`SELECT `+patronColumns+` FROM patrons WHERE external_id = ?`, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding patron: %w", err)
	}
	return p, nil
}

// GetPatron returns a patron by ID.
func GetPatron(ctx context.Context, q DBTX, id int64) (*model.Patron, error) {
	p, err := scanPatron(q.QueryRowContext(ctx,
		`SELECT `+patronColumns+` FROM patrons WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting patron: %w", err)
	}
	return p, nil
}

// GetOrCreatePatron returns the patron for externalID, registering it from
// profile if none exists yet. Calling it again with the same external ID
// returns the same patron and never overwrites the stored profile.
func GetOrCreatePatron(ctx context.Context, q DBTX, externalID string, profile *model.StudentProfile, joined time.Time) (*model.Patron, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO patrons (external_id, first_name, last_name, email, membership_date, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		externalID, profile.FirstName, profile.LastName, nullString(profile.Email),
		joined.UTC(), model.PatronStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("creating patron: %w", err)
	}

	p, err := FindPatronByExternalID(ctx, q, externalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("creating patron: %s not found after insert", externalID)
	}
	return p, nil
}

// ListPatrons returns patrons whose name or external ID matches search.
func ListPatrons(ctx context.Context, q DBTX, search string) ([]model.Patron, error) {
	query := `SELECT ` + patronColumns + ` FROM patrons`
	var args []any
	if s := strings.TrimSpace(search); s != "" {
		p := likePattern(s)
		query += ` WHERE first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\'
		   OR (first_name || ' ' || last_name) LIKE ? ESCAPE '\' OR external_id LIKE ? ESCAPE '\'`
		args = append(args, p, p, p, p)
	}
	query += ` ORDER BY last_name COLLATE NOCASE, first_name COLLATE NOCASE, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing patrons: %w", err)
	}
	defer rows.Close()

	var patrons []model.Patron
	for rows.Next() {
		p, err := scanPatron(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patron: %w", err)
		}
		patrons = append(patrons, *p)
	}
	return patrons, rows.Err()
}
