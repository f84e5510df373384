package web

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// ReportsPage handles GET /reports?days=.
func (s *Server) ReportsPage(w http.ResponseWriter, r *http.Request) {
	now := timeNow()
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = int(store.RecentWindow.Hours() / 24)
	}

	popular, err := store.PopularBooks(r.Context(), s.DB, 10, now.AddDate(0, 0, -days))
	if err != nil {
		slog.Error("failed to rank books", "error", err)
	}
	allTime, err := store.PopularBooks(r.Context(), s.DB, 10, time.Time{})
	if err != nil {
		slog.Error("failed to rank books", "error", err)
	}
	categories, err := store.CategoryBreakdown(r.Context(), s.DB)
	if err != nil {
		slog.Error("failed to group categories", "error", err)
	}
	overdue, err := store.OverdueLoans(r.Context(), s.DB, now)
	if err != nil {
		slog.Error("failed to list overdue loans", "error", err)
	}

	s.Templates.Render(w, "reports.html", &struct {
		PageData
		Days       int
		Popular    []model.PopularBook
		AllTime    []model.PopularBook
		Categories []model.CategoryCount
		Overdue    []model.Loan
	}{
		PageData:   s.page(r, "Poročila", "reports"),
		Days:       days,
		Popular:    popular,
		AllTime:    allTime,
		Categories: categories,
		Overdue:    overdue,
	})
}

// LoansCSV handles GET /reports/loans.csv?status=, exporting loans for
// spreadsheets.
func (s *Server) LoansCSV(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	now := timeNow()

	status := r.URL.Query().Get("status")
	loans, err := store.ListLoans(r.Context(), s.DB, model.LoanFilter{Status: status}, now)
	if err != nil {
		slog.Error("failed to list loans for export", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="izposoje-%s.csv"`, now.Format("2006-01-02")))

	cw := csv.NewWriter(w)
	cw.Write([]string{"reference", "isbn", "title", "student_id", "student", "librarian",
		"checkout_date", "due_date", "return_date", "overdue"})
	for _, l := range loans {
		returned := ""
		if l.ReturnDate != nil {
			returned = l.ReturnDate.UTC().Format(time.RFC3339)
		}
		cw.Write([]string{
			l.Reference,
			l.BookISBN,
			l.BookTitle,
			l.PatronExternalID,
			l.PatronName,
			l.LibrarianName,
			l.CheckoutDate.UTC().Format(time.RFC3339),
			l.DueDate.UTC().Format(time.RFC3339),
			returned,
			strconv.FormatBool(l.IsOverdue(now)),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("failed to write loans export", "error", err)
		return
	}

	slog.Info("loans exported", "user", claims.Username, "rows", len(loans), "status", status)
}
