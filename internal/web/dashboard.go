package web

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// Dashboard handles GET /.
func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	now := timeNow()

	stats, err := store.CirculationStats(r.Context(), s.DB, now)
	if err != nil {
		slog.Error("failed to load stats for dashboard", "error", err)
		stats = &model.CirculationStats{}
	}
	recent, err := store.ListLoans(r.Context(), s.DB, model.LoanFilter{Limit: 10}, now)
	if err != nil {
		slog.Error("failed to list loans for dashboard", "error", err)
	}

	s.Templates.Render(w, "dashboard.html", &struct {
		PageData
		Stats       *model.CirculationStats
		RecentLoans []model.Loan
	}{
		PageData:    s.page(r, "Nadzorna plošča", "dashboard"),
		Stats:       stats,
		RecentLoans: recent,
	})
}
