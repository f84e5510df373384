package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// ReportsHandler serves read-only circulation reports.
type ReportsHandler struct {
	DB *sql.DB
}

// Stats handles GET /api/reports/stats.
func (h *ReportsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.CirculationStats(r.Context(), h.DB, timeNow())
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Popular handles GET /api/reports/popular?limit=&days=. Without days all
// checkouts are counted.
func (h *ReportsHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	var since time.Time
	if days > 0 {
		since = timeNow().AddDate(0, 0, -days)
	}

	books, err := store.PopularBooks(r.Context(), h.DB, limit, since)
	if err != nil {
		slog.Error("failed to rank books", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to rank books")
		return
	}
	if books == nil {
		books = []model.PopularBook{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Overdue handles GET /api/reports/overdue.
func (h *ReportsHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	loans, err := store.OverdueLoans(r.Context(), h.DB, timeNow())
	if err != nil {
		slog.Error("failed to list overdue loans", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list overdue loans")
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}

// Categories handles GET /api/reports/categories.
func (h *ReportsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	counts, err := store.CategoryBreakdown(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to group categories", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to group categories")
		return
	}
	if counts == nil {
		counts = []model.CategoryCount{}
	}
	jsonResponse(w, http.StatusOK, counts)
}
