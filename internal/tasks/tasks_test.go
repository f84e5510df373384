package tasks

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

var defaultSchedules = Schedules{Purge: "15 3 * * *", Overdue: "0 7 * * 1-5"}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	database := db.NewTestDB(t)

	_, err := NewScheduler(database, Schedules{Purge: "@every 1m", Overdue: "0 7 * * *"})
	assert.Error(t, err)

	sch, err := NewScheduler(database, defaultSchedules)
	require.NoError(t, err)
	sch.Start()
	assert.Len(t, sch.NextRuns(), 2)
	sch.Stop()
}

func TestPurgeTokens(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.RevokeToken(ctx, database, "expired", now.Add(-time.Hour)))
	require.NoError(t, store.RevokeToken(ctx, database, "active", now.Add(time.Hour)))

	sch, err := NewScheduler(database, defaultSchedules)
	require.NoError(t, err)
	sch.now = func() time.Time { return now }

	require.NoError(t, sch.PurgeTokens(ctx))

	revoked, err := store.IsTokenRevoked(ctx, database, "expired")
	require.NoError(t, err)
	assert.False(t, revoked)
	revoked, err = store.IsTokenRevoked(ctx, database, "active")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestReportOverdue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	logs := captureLogs(t)
	now := time.Date(2026, 3, 20, 7, 0, 0, 0, time.UTC)

	book, err := store.CreateBook(ctx, database, &model.Book{ISBN: "1", Title: "Butalci", Author: "Fran Milčinski", Quantity: 1})
	require.NoError(t, err)
	patron, err := store.GetOrCreatePatron(ctx, database, "S1", &model.StudentProfile{FirstName: "Ana", LastName: "Novak"}, now)
	require.NoError(t, err)
	_, err = store.OpenLoan(ctx, database, &model.Loan{
		Reference: "01JREF", BookID: book.ID, PatronID: patron.ID,
		CheckoutDate: now.AddDate(0, 0, -20), DueDate: now.AddDate(0, 0, -6),
	})
	require.NoError(t, err)

	sch, err := NewScheduler(database, defaultSchedules)
	require.NoError(t, err)
	sch.now = func() time.Time { return now }

	require.NoError(t, sch.ReportOverdue(ctx))
	out := logs.String()
	assert.Contains(t, out, "reference=01JREF")
	assert.Contains(t, out, "days=6")
	assert.Contains(t, out, "overdue=1")
}
