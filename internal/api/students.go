package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// StudentsHandler handles the student directory and patron lookups.
type StudentsHandler struct {
	DB *sql.DB
}

type createStudentRequest struct {
	ExternalID string `json:"external_id" validate:"required,max=32"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	Email      string `json:"email" validate:"omitempty,email"`
	Grade      string `json:"grade" validate:"max=16"`
}

// List handles GET /api/students?q=.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := store.ListStudents(r.Context(), h.DB, r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("failed to list students", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list students")
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	jsonResponse(w, http.StatusOK, students)
}

// Create handles POST /api/students.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	student, err := store.CreateStudent(r.Context(), h.DB, &model.Student{
		ExternalID: strings.TrimSpace(req.ExternalID),
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Email:      strings.TrimSpace(req.Email),
		Grade:      strings.TrimSpace(req.Grade),
	})
	if errors.Is(err, store.ErrDuplicateStudent) {
		jsonErrorCode(w, http.StatusConflict, "duplicate_student", err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to create student", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create student")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("student created", "user", claims.Username, "student", student.ExternalID)
	jsonResponse(w, http.StatusCreated, student)
}

// Transactions handles GET /api/students/{externalID}/transactions, the
// student's borrowing history.
func (h *StudentsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalID")
	txs, err := store.ListTransactions(r.Context(), h.DB, externalID)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txs)
}

// Patrons handles GET /api/patrons?q=, the list behind the patron search box.
func (h *StudentsHandler) Patrons(w http.ResponseWriter, r *http.Request) {
	patrons, err := store.ListPatrons(r.Context(), h.DB, r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("failed to list patrons", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list patrons")
		return
	}
	if patrons == nil {
		patrons = []model.Patron{}
	}
	jsonResponse(w, http.StatusOK, patrons)
}
