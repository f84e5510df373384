package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// circulationMessages are the user-facing texts for circulation error codes.
var circulationMessages = map[string]string{
	"book_unavailable":  "Knjiga trenutno ni na voljo.",
	"already_on_loan":   "Učenec ima ta naslov že izposojen.",
	"no_active_loan":    "Za to knjigo ni odprte izposoje.",
	"book_not_found":    "Knjige ni mogoče najti.",
	"patron_resolution": "Učenca s to številko ni v imeniku.",
	"persistence":       "Sistemska napaka, poskusite znova.",
}

// circulationMessage maps a circulation error to a flash message, logging
// system failures.
func circulationMessage(op string, err error) string {
	_, code := api.CirculationStatus(err)
	if code == "persistence" {
		slog.Error(op+" failed", "error", err)
	}
	return circulationMessages[code]
}

// CirculationPage handles GET /circulation?q=&student=.
func (s *Server) CirculationPage(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("q"))

	available, err := store.ListBooks(r.Context(), s.DB, model.BookFilter{AvailableOnly: true})
	if err != nil {
		slog.Error("failed to list available books", "error", err)
	}

	patrons, err := store.ListPatrons(r.Context(), s.DB, "")
	if err != nil {
		slog.Error("failed to list patrons", "error", err)
	}

	var students []model.Student
	if search != "" {
		students, err = store.ListStudents(r.Context(), s.DB, search)
		if err != nil {
			slog.Error("failed to search students", "error", err)
		}
	}

	open, err := store.ListLoans(r.Context(), s.DB, model.LoanFilter{Status: model.LoanStatusCheckedOut, Limit: 20}, timeNow())
	if err != nil {
		slog.Error("failed to list open loans", "error", err)
	}

	s.Templates.Render(w, "circulation.html", &struct {
		PageData
		Available []model.Book
		Patrons   []model.Patron
		Students  []model.Student
		Search    string
		Student   string
		OpenLoans []model.Loan
	}{
		PageData:  s.page(r, "Izposoja", "circulation"),
		Available: available,
		Patrons:   patrons,
		Students:  students,
		Search:    search,
		Student:   r.URL.Query().Get("student"),
		OpenLoans: open,
	})
}

// CheckoutSubmit handles POST /circulation/checkout.
func (s *Server) CheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	bookID, err := strconv.ParseInt(r.FormValue("book_id"), 10, 64)
	if err != nil || bookID <= 0 {
		redirectErr(w, r, "/circulation", "Izberite knjigo.")
		return
	}
	patronID := strings.TrimSpace(r.FormValue("patron_id"))
	if patronID == "" {
		redirectErr(w, r, "/circulation", "Vnesite številko učenca.")
		return
	}

	receipt, err := s.Service.Checkout(r.Context(), bookID, patronID, claims.LibrarianID())
	if err != nil {
		redirectErr(w, r, "/circulation", circulationMessage("checkout", err))
		return
	}

	slog.Info("book checked out", "user", claims.Username, "book", receipt.Book.Title,
		"student", receipt.Patron.ExternalID, "reference", receipt.Loan.Reference, "new_patron", receipt.NewPatron)

	msg := fmt.Sprintf("%s izposojena učencu %s do %s (št. %s).",
		receipt.Book.Title, receipt.Patron.FullName(),
		receipt.Loan.DueDate.Local().Format("2. 1. 2006"), receipt.Loan.Reference)
	if receipt.NewPatron {
		msg += " Učenec je nov član knjižnice."
	}
	redirectMsg(w, r, "/circulation", msg)
}

// CheckinSubmit handles POST /circulation/checkin. The form carries either a
// loan reference or a book token (ID, ISBN or title).
func (s *Server) CheckinSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	reference := strings.TrimSpace(r.FormValue("reference"))
	token := strings.TrimSpace(r.FormValue("token"))

	var receipt *circulation.Receipt
	var err error
	switch {
	case reference != "":
		receipt, err = s.Service.CheckinLoan(r.Context(), reference)
	case token != "":
		receipt, err = s.Service.Checkin(r.Context(), token)
	default:
		redirectErr(w, r, "/circulation", "Vnesite knjigo ali številko izposoje.")
		return
	}
	if err != nil {
		redirectErr(w, r, "/circulation", circulationMessage("checkin", err))
		return
	}

	slog.Info("book checked in", "user", claims.Username, "book", receipt.Book.Title,
		"student", receipt.Patron.ExternalID, "reference", receipt.Loan.Reference)

	msg := fmt.Sprintf("%s vrnjena (%s).", receipt.Book.Title, receipt.Patron.FullName())
	if receipt.Loan.ReturnDate != nil && receipt.Loan.ReturnDate.After(receipt.Loan.DueDate) {
		msg += " Vrnjena po roku."
	}
	redirectMsg(w, r, "/circulation", msg)
}

// LoansPage handles GET /loans?status=.
func (s *Server) LoansPage(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case model.LoanStatusCheckedOut, model.LoanStatusReturned, model.LoanStatusOverdue:
	default:
		status = ""
	}

	loans, err := store.ListLoans(r.Context(), s.DB, model.LoanFilter{Status: status, Limit: 500}, timeNow())
	if err != nil {
		slog.Error("failed to list loans", "error", err)
	}

	s.Templates.Render(w, "loans.html", &struct {
		PageData
		Loans  []model.Loan
		Status string
	}{
		PageData: s.page(r, "Izposoje", "loans"),
		Loans:    loans,
		Status:   status,
	})
}
