package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, tokens auth.Tokens, svc *circulation.Service) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, Tokens: tokens}
	usersHandler := &UsersHandler{DB: db}
	booksHandler := &BooksHandler{DB: db}
	studentsHandler := &StudentsHandler{DB: db}
	circulationHandler := &CirculationHandler{DB: db, Service: svc}
	reportsHandler := &ReportsHandler{DB: db}

	authMW := AuthMiddleware(tokens, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireLibrarian := RequireRole(model.RoleLibrarian)
	staff := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	librarian := func(h http.HandlerFunc) http.Handler { return authMW(requireLibrarian(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("PUT /api/auth/password", staff(authHandler.ChangePassword))
	mux.Handle("POST /api/auth/logout", staff(authHandler.Logout))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// Catalog: read (all staff), write (librarian+).
	mux.Handle("GET /api/books", staff(booksHandler.List))
	mux.Handle("GET /api/books/available", staff(booksHandler.Available))
	mux.Handle("GET /api/books/categories", staff(booksHandler.Categories))
	mux.Handle("POST /api/books", librarian(booksHandler.Create))
	mux.Handle("GET /api/books/{id}", staff(booksHandler.Get))
	mux.Handle("PUT /api/books/{id}", librarian(booksHandler.Update))
	mux.Handle("DELETE /api/books/{id}", librarian(booksHandler.Delete))
	mux.Handle("PUT /api/books/{id}/cover", librarian(booksHandler.UploadCover))
	mux.Handle("GET /api/books/{id}/cover", staff(booksHandler.GetCover))

	// Students and patrons.
	mux.Handle("GET /api/students", librarian(studentsHandler.List))
	mux.Handle("POST /api/students", librarian(studentsHandler.Create))
	mux.Handle("GET /api/students/{externalID}/transactions", staff(studentsHandler.Transactions))
	mux.Handle("GET /api/patrons", staff(studentsHandler.Patrons))

	// Circulation (all staff).
	mux.Handle("POST /api/circulation/checkout", staff(circulationHandler.Checkout))
	mux.Handle("POST /api/circulation/checkin", staff(circulationHandler.Checkin))
	mux.Handle("GET /api/loans", staff(circulationHandler.Loans))

	// Reports (all staff).
	mux.Handle("GET /api/reports/stats", staff(reportsHandler.Stats))
	mux.Handle("GET /api/reports/popular", staff(reportsHandler.Popular))
	mux.Handle("GET /api/reports/overdue", staff(reportsHandler.Overdue))
	mux.Handle("GET /api/reports/categories", staff(reportsHandler.Categories))

	return mux
}
