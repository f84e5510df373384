package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/imaging"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BooksPage handles GET /books?q=&category=&available=1.
func (s *Server) BooksPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.BookFilter{
		Search:        q.Get("q"),
		Category:      q.Get("category"),
		AvailableOnly: q.Get("available") == "1",
	}

	books, err := store.ListBooks(r.Context(), s.DB, filter)
	if err != nil {
		slog.Error("failed to list books", "error", err)
	}
	categories, err := store.ListCategories(r.Context(), s.DB)
	if err != nil {
		slog.Error("failed to list categories", "error", err)
	}

	s.Templates.Render(w, "books.html", &struct {
		PageData
		Books      []model.Book
		Categories []string
		Filter     model.BookFilter
	}{
		PageData:   s.page(r, "Knjige", "books"),
		Books:      books,
		Categories: categories,
		Filter:     filter,
	})
}

// BookNewPage handles GET /books/new.
func (s *Server) BookNewPage(w http.ResponseWriter, r *http.Request) {
	s.renderBookForm(w, r, http.StatusOK, &model.Book{Quantity: 1}, "")
}

func (s *Server) renderBookForm(w http.ResponseWriter, r *http.Request, status int, book *model.Book, errMsg string) {
	data := s.page(r, "Nova knjiga", "books")
	if errMsg != "" {
		data.Error = errMsg
	}
	categories, _ := store.ListCategories(r.Context(), s.DB)
	s.Templates.RenderStatus(w, status, "book_new.html", &struct {
		PageData
		Book       *model.Book
		Categories []string
	}{
		PageData:   data,
		Book:       book,
		Categories: categories,
	})
}

// bookFromForm reads and checks the book form fields. The returned message
// is empty when the form is valid.
func bookFromForm(r *http.Request) (*model.Book, string) {
	b := &model.Book{
		ISBN:        strings.TrimSpace(r.FormValue("isbn")),
		Title:       strings.TrimSpace(r.FormValue("title")),
		Author:      strings.TrimSpace(r.FormValue("author")),
		Publisher:   strings.TrimSpace(r.FormValue("publisher")),
		Category:    strings.TrimSpace(r.FormValue("category")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}

	if b.ISBN == "" || b.Title == "" || b.Author == "" {
		return b, "ISBN, naslov in avtor so obvezni."
	}

	if v := strings.TrimSpace(r.FormValue("publication_year")); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1000 || year > 2100 {
			return b, "Neveljavno leto izida."
		}
		b.PublicationYear = year
	}

	b.Quantity = 1
	if v := strings.TrimSpace(r.FormValue("quantity")); v != "" {
		qty, err := strconv.Atoi(v)
		if err != nil || qty < 0 || qty > 10000 {
			return b, "Število izvodov mora biti nenegativno celo število."
		}
		b.Quantity = qty
	}
	return b, ""
}

// BookCreateSubmit handles POST /books.
func (s *Server) BookCreateSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	b, msg := bookFromForm(r)
	if msg != "" {
		s.renderBookForm(w, r, http.StatusBadRequest, b, msg)
		return
	}

	book, err := store.CreateBook(r.Context(), s.DB, b)
	if errors.Is(err, store.ErrDuplicateISBN) {
		s.renderBookForm(w, r, http.StatusConflict, b, "Knjiga s tem ISBN že obstaja.")
		return
	}
	if err != nil {
		slog.Error("failed to create book", "error", err)
		s.renderBookForm(w, r, http.StatusInternalServerError, b, "Napaka pri shranjevanju knjige.")
		return
	}

	slog.Info("book created", "user", claims.Username, "book", book.Title, "isbn", book.ISBN, "quantity", book.Quantity)
	redirectMsg(w, r, fmt.Sprintf("/books/%d", book.ID), "Knjiga dodana.")
}

// bookID parses the {id} path value, answering 400 when it is malformed.
func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// activeBook loads a book that has not been deleted, answering 404 otherwise.
func (s *Server) activeBook(w http.ResponseWriter, r *http.Request) (*model.Book, bool) {
	id, ok := bookID(w, r)
	if !ok {
		return nil, false
	}
	book, err := store.GetBook(r.Context(), s.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if book == nil || book.DeletedAt != nil {
		http.Error(w, "book not found", http.StatusNotFound)
		return nil, false
	}
	return book, true
}

// BookDetailPage handles GET /books/{id}.
func (s *Server) BookDetailPage(w http.ResponseWriter, r *http.Request) {
	book, ok := s.activeBook(w, r)
	if !ok {
		return
	}

	loans, err := store.ListLoans(r.Context(), s.DB, model.LoanFilter{BookID: book.ID, Limit: 50}, timeNow())
	if err != nil {
		slog.Error("failed to list book loans", "error", err)
	}
	categories, _ := store.ListCategories(r.Context(), s.DB)

	s.Templates.Render(w, "book_detail.html", &struct {
		PageData
		Book       *model.Book
		Loans      []model.Loan
		Categories []string
	}{
		PageData:   s.page(r, book.Title, "books"),
		Book:       book,
		Loans:      loans,
		Categories: categories,
	})
}

// BookUpdateSubmit handles POST /books/{id}.
func (s *Server) BookUpdateSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	book, ok := s.activeBook(w, r)
	if !ok {
		return
	}
	back := fmt.Sprintf("/books/%d", book.ID)

	b, msg := bookFromForm(r)
	if msg != "" {
		redirectErr(w, r, back, msg)
		return
	}
	b.ID = book.ID

	err := store.UpdateBook(r.Context(), s.DB, b)
	switch {
	case errors.Is(err, store.ErrDuplicateISBN):
		redirectErr(w, r, back, "Knjiga s tem ISBN že obstaja.")
		return
	case errors.Is(err, store.ErrInvalidQuantity):
		redirectErr(w, r, back, fmt.Sprintf("Izposojenih je %d izvodov, zaloga ne more biti manjša.", book.OnLoan()))
		return
	case errors.Is(err, store.ErrBookNotFound):
		redirectErr(w, r, "/books", "Knjiga ne obstaja več.")
		return
	case err != nil:
		slog.Error("failed to update book", "error", err)
		redirectErr(w, r, back, "Napaka pri shranjevanju knjige.")
		return
	}

	slog.Info("book updated", "user", claims.Username, "book", b.Title, "quantity", b.Quantity)
	redirectMsg(w, r, back, "Knjiga posodobljena.")
}

// BookDeleteSubmit handles POST /books/{id}/delete.
func (s *Server) BookDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	book, ok := s.activeBook(w, r)
	if !ok {
		return
	}

	if err := store.DeleteBook(r.Context(), s.DB, book.ID); err != nil {
		if errors.Is(err, store.ErrBookOnLoan) {
			redirectErr(w, r, fmt.Sprintf("/books/%d", book.ID), "Knjige ni mogoče odstraniti, ker je izposojena.")
			return
		}
		if errors.Is(err, store.ErrBookNotFound) {
			redirectErr(w, r, "/books", "Knjiga ne obstaja več.")
			return
		}
		slog.Error("failed to delete book", "error", err)
		redirectErr(w, r, fmt.Sprintf("/books/%d", book.ID), "Napaka pri odstranjevanju knjige.")
		return
	}

	slog.Info("book deleted", "user", claims.Username, "book", book.Title, "isbn", book.ISBN)
	redirectMsg(w, r, "/books", "Knjiga odstranjena.")
}

// BookCoverSubmit handles POST /books/{id}/cover (multipart field "cover").
func (s *Server) BookCoverSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	book, ok := s.activeBook(w, r)
	if !ok {
		return
	}
	back := fmt.Sprintf("/books/%d", book.ID)

	file, header, err := r.FormFile("cover")
	if err != nil {
		redirectErr(w, r, back, "Izberite sliko naslovnice.")
		return
	}
	defer file.Close()
	if header.Size > imaging.MaxUploadBytes {
		redirectErr(w, r, back, "Slika je večja od 5 MB.")
		return
	}

	cover, err := imaging.ProcessCover(file)
	if err != nil {
		slog.Warn("cover rejected", "book", book.Title, "error", err)
		redirectErr(w, r, back, "Neveljavna slika (sprejete so JPEG, PNG in GIF).")
		return
	}

	err = store.SetBookCover(r.Context(), s.DB, book.ID, cover.Data, cover.MIME)
	switch {
	case errors.Is(err, store.ErrBookNotFound):
		redirectErr(w, r, "/books", "Knjiga ne obstaja več.")
		return
	case err != nil:
		slog.Error("failed to save cover", "error", err)
		redirectErr(w, r, back, "Napaka pri shranjevanju naslovnice.")
		return
	}

	slog.Info("cover uploaded", "user", claims.Username, "book", book.Title, "width", cover.Width, "height", cover.Height)
	redirectMsg(w, r, back, "Naslovnica naložena.")
}

// BookCoverDeleteSubmit handles POST /books/{id}/cover/delete.
func (s *Server) BookCoverDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	book, ok := s.activeBook(w, r)
	if !ok {
		return
	}
	back := fmt.Sprintf("/books/%d", book.ID)

	err := store.ClearBookCover(r.Context(), s.DB, book.ID)
	switch {
	case errors.Is(err, store.ErrBookNotFound):
		redirectErr(w, r, "/books", "Knjiga ne obstaja več.")
		return
	case err != nil:
		slog.Error("failed to remove cover", "error", err)
		redirectErr(w, r, back, "Napaka pri odstranjevanju naslovnice.")
		return
	}

	slog.Info("cover removed", "user", claims.Username, "book", book.Title)
	redirectMsg(w, r, back, "Naslovnica odstranjena.")
}

// BookCoverGet handles GET /books/{id}/cover.
func (s *Server) BookCoverGet(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	api.ServeCover(w, r, s.DB, id, func(status int, msg string) { http.Error(w, msg, status) })
}
