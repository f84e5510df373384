package model

import "time"

// Loan is one copy of a book lent to a patron.
type Loan struct {
	ID           int64      `json:"id"`
	Reference    string     `json:"reference"`
	BookID       int64      `json:"book_id"`
	PatronID     int64      `json:"patron_id"`
	LibrarianID  *int64     `json:"librarian_id,omitempty"`
	CheckoutDate time.Time  `json:"checkout_date"`
	DueDate      time.Time  `json:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty"`
	Status       string     `json:"status"`

	// Joined fields (not always populated).
	BookTitle        string `json:"book_title,omitempty"`
	BookISBN         string `json:"book_isbn,omitempty"`
	PatronExternalID string `json:"patron_external_id,omitempty"`
	PatronName       string `json:"patron_name,omitempty"`
	LibrarianName    string `json:"librarian_name,omitempty"`
}

// Loan statuses.
const (
	LoanStatusCheckedOut = "checked_out"
	LoanStatusReturned   = "returned"
)

// IsOpen reports whether the loan has not been returned yet.
func (l *Loan) IsOpen() bool {
	return l.ReturnDate == nil
}

// IsOverdue reports whether an open loan is past its due date at now.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.IsOpen() && now.After(l.DueDate)
}

// LoanFilter narrows loan listings. Zero values mean "any".
type LoanFilter struct {
	Status   string // checked_out, returned or overdue
	BookID   int64
	PatronID int64
	Limit    int
}

// LoanStatusOverdue is a filter value only; it is never stored.
const LoanStatusOverdue = "overdue"

// Transaction is a row of the student-facing transactions view, derived
// from loans.
type Transaction struct {
	LoanID       int64      `json:"loan_id"`
	Reference    string     `json:"reference"`
	StudentID    string     `json:"student_id"`
	BookID       int64      `json:"book_id"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	ISBN         string     `json:"isbn"`
	CheckoutDate time.Time  `json:"checkout_date"`
	DueDate      time.Time  `json:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty"`
	Status       string     `json:"status"`
}
