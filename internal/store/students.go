package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/knjiznica/internal/model"
)

const studentColumns = `id, external_id, first_name, last_name, email, grade, created_at`

func scanStudent(row rowScanner) (*model.Student, error) {
	s := &model.Student{}
	var email, grade sql.NullString
	if err := row.Scan(&s.ID, &s.ExternalID, &s.FirstName, &s.LastName, &email, &grade, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Email = email.String
	s.Grade = grade.String
	return s, nil
}

// CreateStudent registers a student in the directory.
func CreateStudent(ctx context.Context, q DBTX, s *model.Student) (*model.Student, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO students (external_id, first_name, last_name, email, grade) VALUES (?, ?, ?, ?, ?)`,
		s.ExternalID, s.FirstName, s.LastName, nullString(s.Email), nullString(s.Grade),
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateStudent
	}
	if err != nil {
		return nil, fmt.Errorf("creating student: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting student id: %w", err)
	}

	st, err := scanStudent(q.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("getting student: %w", err)
	}
	return st, nil
}

// GetStudent returns a student by external ID (student number).
func GetStudent(ctx context.Context, q DBTX, externalID string) (*model.Student, error) {
	s, err := scanStudent(q.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE external_id = ?`, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting student: %w", err)
	}
	return s, nil
}

// ListStudents returns students whose name or external ID matches search,
// ordered by last name.
func ListStudents(ctx context.Context, q DBTX, search string) ([]model.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var args []any
	if s := strings.TrimSpace(search); s != "" {
		p := likePattern(s)
		query += ` WHERE first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\' OR external_id LIKE ? ESCAPE '\'`
		args = append(args, p, p, p)
	}
	query += ` ORDER BY last_name COLLATE NOCASE, first_name COLLATE NOCASE, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning student: %w", err)
		}
		students = append(students, *s)
	}
	return students, rows.Err()
}

// GetStudentProfile returns the name and email of a student, or nil if the
// external ID is unknown.
func GetStudentProfile(ctx context.Context, q DBTX, externalID string) (*model.StudentProfile, error) {
	s, err := GetStudent(ctx, q, externalID)
	if err != nil || s == nil {
		return nil, err
	}
	return &model.StudentProfile{FirstName: s.FirstName, LastName: s.LastName, Email: s.Email}, nil
}

// StudentDirectory looks up student profiles in the local students table.
type StudentDirectory struct {
	DB DBTX
}

// GetProfile implements circulation.StudentDirectory.
func (d StudentDirectory) GetProfile(ctx context.Context, externalID string) (*model.StudentProfile, error) {
	return GetStudentProfile(ctx, d.DB, externalID)
}
