package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/knjiznica/internal/imaging"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB *sql.DB
}

type bookRequest struct {
	ISBN            string `json:"isbn" validate:"required,max=20"`
	Title           string `json:"title" validate:"required,max=300"`
	Author          string `json:"author" validate:"required,max=200"`
	Publisher       string `json:"publisher" validate:"max=200"`
	PublicationYear int    `json:"publication_year" validate:"omitempty,gte=1000,lte=2100"`
	Category        string `json:"category" validate:"max=100"`
	Quantity        int    `json:"quantity" validate:"gte=0,lte=10000"`
	Description     string `json:"description" validate:"max=4000"`
}

func (req *bookRequest) book() *model.Book {
	return &model.Book{
		ISBN:            strings.TrimSpace(req.ISBN),
		Title:           strings.TrimSpace(req.Title),
		Author:          strings.TrimSpace(req.Author),
		Publisher:       strings.TrimSpace(req.Publisher),
		PublicationYear: req.PublicationYear,
		Category:        strings.TrimSpace(req.Category),
		Quantity:        req.Quantity,
		Description:     strings.TrimSpace(req.Description),
	}
}

// List handles GET /api/books?q=&category=&available=1.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.list(w, r, model.BookFilter{
		Search:        q.Get("q"),
		Category:      q.Get("category"),
		AvailableOnly: q.Get("available") == "1" || q.Get("available") == "true",
	})
}

// Available handles GET /api/books/available, the books that can be checked out.
func (h *BooksHandler) Available(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.BookFilter{Search: r.URL.Query().Get("q"), AvailableOnly: true})
}

func (h *BooksHandler) list(w http.ResponseWriter, r *http.Request, f model.BookFilter) {
	books, err := store.ListBooks(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list books", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Categories handles GET /api/books/categories.
func (h *BooksHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list categories", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	jsonResponse(w, http.StatusOK, categories)
}

// Create handles POST /api/books.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	book, err := store.CreateBook(r.Context(), h.DB, req.book())
	if errors.Is(err, store.ErrDuplicateISBN) {
		jsonErrorCode(w, http.StatusConflict, "duplicate_isbn", err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to create book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create book")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("book created", "user", claims.Username, "book", book.Title, "isbn", book.ISBN, "quantity", book.Quantity)
	jsonResponse(w, http.StatusCreated, book)
}

// Get handles GET /api/books/{id}, returning the book and its loan history.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}

	loans, err := store.ListLoans(r.Context(), h.DB, model.LoanFilter{BookID: id, Limit: 50}, timeNow())
	if err != nil {
		slog.Error("failed to list book loans", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book loans")
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"book":  book,
		"loans": loans,
	})
}

// Update handles PUT /api/books/{id}.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}

	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b := req.book()
	b.ID = id
	err := store.UpdateBook(r.Context(), h.DB, b)
	switch {
	case errors.Is(err, store.ErrDuplicateISBN):
		jsonErrorCode(w, http.StatusConflict, "duplicate_isbn", err.Error())
		return
	case errors.Is(err, store.ErrInvalidQuantity):
		jsonErrorCode(w, http.StatusConflict, "invalid_quantity", err.Error())
		return
	case errors.Is(err, store.ErrBookNotFound):
		jsonError(w, http.StatusNotFound, "book not found")
		return
	case err != nil:
		slog.Error("failed to update book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update book")
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("book updated", "user", claims.Username, "book", book.Title, "quantity", book.Quantity)
	jsonResponse(w, http.StatusOK, book)
}

// Delete handles DELETE /api/books/{id}.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete book")
		return
	}
	if book == nil || book.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}

	if err := store.DeleteBook(r.Context(), h.DB, id); err != nil {
		if errors.Is(err, store.ErrBookOnLoan) {
			jsonErrorCode(w, http.StatusConflict, "book_on_loan", err.Error())
			return
		}
		if errors.Is(err, store.ErrBookNotFound) {
			jsonError(w, http.StatusNotFound, "book not found")
			return
		}
		slog.Error("failed to delete book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete book")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("book deleted", "user", claims.Username, "book", book.Title, "isbn", book.ISBN)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

// UploadCover handles PUT /api/books/{id}/cover (multipart field "cover").
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("cover")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "cover file required")
		return
	}
	defer file.Close()

	cover, err := imaging.ProcessCover(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = store.SetBookCover(r.Context(), h.DB, id, cover.Data, cover.MIME)
	if errors.Is(err, store.ErrBookNotFound) {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		slog.Error("failed to save cover", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save cover")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"message": "cover uploaded", "width": cover.Width, "height": cover.Height})
}

// GetCover handles GET /api/books/{id}/cover.
func (h *BooksHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}
	ServeCover(w, r, h.DB, id, func(status int, msg string) { jsonError(w, status, msg) })
}

// ServeCover writes a book's cover image, or reports the failure through fail.
func ServeCover(w http.ResponseWriter, r *http.Request, db *sql.DB, id int64, fail func(int, string)) {
	data, mime, err := store.GetBookCover(r.Context(), db, id)
	if err != nil {
		slog.Error("failed to get cover", "error", err)
		fail(http.StatusInternalServerError, "failed to get cover")
		return
	}
	if data == nil {
		fail(http.StatusNotFound, "no cover")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
