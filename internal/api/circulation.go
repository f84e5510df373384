package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

var timeNow = time.Now

// CirculationHandler handles checkout, check-in and loan listings.
type CirculationHandler struct {
	DB      *sql.DB
	Service *circulation.Service
}

type checkoutRequest struct {
	BookID   int64  `json:"book_id" validate:"required,gt=0"`
	PatronID string `json:"patron_id" validate:"required,max=32"`
}

type checkinRequest struct {
	Token     string `json:"token" validate:"required_without=Reference,max=300"`
	Reference string `json:"reference" validate:"max=26"`
}

// CirculationStatus maps a circulation error to an HTTP status and error code.
func CirculationStatus(err error) (int, string) {
	switch {
	case errors.Is(err, circulation.ErrBookUnavailable):
		return http.StatusConflict, "book_unavailable"
	case errors.Is(err, circulation.ErrAlreadyOnLoan):
		return http.StatusConflict, "already_on_loan"
	case errors.Is(err, circulation.ErrNoActiveLoan):
		return http.StatusConflict, "no_active_loan"
	case errors.Is(err, circulation.ErrBookNotFound):
		return http.StatusNotFound, "book_not_found"
	case errors.Is(err, circulation.ErrPatronResolution):
		return http.StatusUnprocessableEntity, "patron_resolution"
	}
	return http.StatusInternalServerError, "persistence"
}

func circulationError(w http.ResponseWriter, op string, err error) {
	status, code := CirculationStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err)
		jsonErrorCode(w, status, code, "system error, please retry")
		return
	}
	jsonErrorCode(w, status, code, err.Error())
}

// Checkout handles POST /api/circulation/checkout.
func (h *CirculationHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := GetClaims(r.Context())
	receipt, err := h.Service.Checkout(r.Context(), req.BookID, req.PatronID, claims.LibrarianID())
	if err != nil {
		circulationError(w, "checkout", err)
		return
	}

	slog.Info("book checked out",
		"user", claims.Username,
		"book", receipt.Book.Title,
		"student", receipt.Patron.ExternalID,
		"reference", receipt.Loan.Reference,
		"due", receipt.Loan.DueDate.Format(time.DateOnly),
	)
	jsonResponse(w, http.StatusCreated, receipt)
}

// Checkin handles POST /api/circulation/checkin with either a free-text
// token (book ID, ISBN or title) or a loan reference.
func (h *CirculationHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var receipt *circulation.Receipt
	var err error
	if req.Reference != "" {
		receipt, err = h.Service.CheckinLoan(r.Context(), req.Reference)
	} else {
		receipt, err = h.Service.Checkin(r.Context(), req.Token)
	}
	if err != nil {
		circulationError(w, "checkin", err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("book checked in",
		"user", claims.Username,
		"book", receipt.Book.Title,
		"student", receipt.Patron.ExternalID,
		"reference", receipt.Loan.Reference,
	)
	jsonResponse(w, http.StatusOK, receipt)
}

// Loans handles GET /api/loans?status=&book_id=&patron_id=&limit=.
func (h *CirculationHandler) Loans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.LoanFilter{Status: q.Get("status")}
	switch f.Status {
	case "", model.LoanStatusCheckedOut, model.LoanStatusReturned, model.LoanStatusOverdue:
	default:
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	for key, dst := range map[string]*int64{"book_id": &f.BookID, "patron_id": &f.PatronID} {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				jsonError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	loans, err := store.ListLoans(r.Context(), h.DB, f, timeNow())
	if err != nil {
		slog.Error("failed to list loans", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list loans")
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}
