package web

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// StudentsPage handles GET /students?q=.
func (s *Server) StudentsPage(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("q")

	students, err := store.ListStudents(r.Context(), s.DB, search)
	if err != nil {
		slog.Error("failed to list students", "error", err)
	}
	patrons, err := store.ListPatrons(r.Context(), s.DB, search)
	if err != nil {
		slog.Error("failed to list patrons", "error", err)
	}

	members := make(map[string]bool, len(patrons))
	for _, p := range patrons {
		members[p.ExternalID] = true
	}

	s.Templates.Render(w, "students.html", &struct {
		PageData
		Students []model.Student
		Members  map[string]bool
		Search   string
	}{
		PageData: s.page(r, "Učenci", "students"),
		Students: students,
		Members:  members,
		Search:   search,
	})
}

// StudentCreateSubmit handles POST /students.
func (s *Server) StudentCreateSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	st := &model.Student{
		ExternalID: strings.TrimSpace(r.FormValue("external_id")),
		FirstName:  strings.TrimSpace(r.FormValue("first_name")),
		LastName:   strings.TrimSpace(r.FormValue("last_name")),
		Email:      strings.TrimSpace(r.FormValue("email")),
		Grade:      strings.TrimSpace(r.FormValue("grade")),
	}
	if st.ExternalID == "" || st.FirstName == "" || st.LastName == "" {
		redirectErr(w, r, "/students", "Številka, ime in priimek so obvezni.")
		return
	}

	if _, err := store.CreateStudent(r.Context(), s.DB, st); err != nil {
		if errors.Is(err, store.ErrDuplicateStudent) {
			redirectErr(w, r, "/students", "Učenec s to številko že obstaja.")
			return
		}
		slog.Error("failed to create student", "error", err)
		redirectErr(w, r, "/students", "Napaka pri shranjevanju učenca.")
		return
	}

	slog.Info("student created", "user", claims.Username, "student", st.ExternalID)
	redirectMsg(w, r, "/students", "Učenec dodan.")
}

// StudentDetailPage handles GET /students/{externalID}, the student's
// borrowing history.
func (s *Server) StudentDetailPage(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalID")

	student, err := store.GetStudent(r.Context(), s.DB, externalID)
	if err != nil {
		slog.Error("failed to get student", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if student == nil {
		http.Error(w, "student not found", http.StatusNotFound)
		return
	}

	patron, err := store.FindPatronByExternalID(r.Context(), s.DB, externalID)
	if err != nil {
		slog.Error("failed to get patron", "error", err)
	}
	txs, err := store.ListTransactions(r.Context(), s.DB, externalID)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
	}

	s.Templates.Render(w, "student_detail.html", &struct {
		PageData
		Student      *model.Student
		Patron       *model.Patron
		Transactions []model.Transaction
		CheckoutURL  string
	}{
		PageData:     s.page(r, student.FirstName+" "+student.LastName, "students"),
		Student:      student,
		Patron:       patron,
		Transactions: txs,
		CheckoutURL:  "/circulation?student=" + url.QueryEscape(externalID),
	})
}
