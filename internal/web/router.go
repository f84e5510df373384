package web

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/imaging"
	"github.com/erazemk/knjiznica/internal/model"
	webembed "github.com/erazemk/knjiznica/web"
)

// Options configures the page router.
type Options struct {
	// CSRFKey is the 32-byte key that signs CSRF tokens.
	CSRFKey       []byte
	SecureCookies bool
}

// maxFormBytes bounds request bodies; the largest form is a cover upload.
const maxFormBytes = imaging.MaxUploadBytes + 64<<10

// NewRouter creates the web page router with all page routes registered.
func NewRouter(db *sql.DB, tokens auth.Tokens, svc *circulation.Service, opts Options) (http.Handler, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		DB:            db,
		Templates:     templates,
		Tokens:        tokens,
		Service:       svc,
		SecureCookies: opts.SecureCookies,
	}

	mux := http.NewServeMux()
	cookieAuth := CookieAuthMiddleware(tokens, db)
	requireLibrarian := RequireRole(model.RoleLibrarian)
	requireAdmin := RequireRole(model.RoleAdmin)
	staff := func(h http.HandlerFunc) http.Handler { return cookieAuth(h) }
	librarian := func(h http.HandlerFunc) http.Handler { return cookieAuth(requireLibrarian(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return cookieAuth(requireAdmin(h)) }

	// Static assets.
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.StaticFS()))))

	// Public routes.
	mux.HandleFunc("GET /login", s.LoginPage)
	mux.HandleFunc("POST /login", s.LoginSubmit)
	mux.Handle("POST /logout", staff(s.Logout))

	mux.Handle("GET /{$}", staff(s.Dashboard))

	// Catalog.
	mux.Handle("GET /books", staff(s.BooksPage))
	mux.Handle("GET /books/new", librarian(s.BookNewPage))
	mux.Handle("POST /books", librarian(s.BookCreateSubmit))
	mux.Handle("GET /books/{id}", staff(s.BookDetailPage))
	mux.Handle("POST /books/{id}", librarian(s.BookUpdateSubmit))
	mux.Handle("POST /books/{id}/delete", librarian(s.BookDeleteSubmit))
	mux.Handle("GET /books/{id}/cover", staff(s.BookCoverGet))
	mux.Handle("POST /books/{id}/cover", librarian(s.BookCoverSubmit))
	mux.Handle("POST /books/{id}/cover/delete", librarian(s.BookCoverDeleteSubmit))

	// Circulation.
	mux.Handle("GET /circulation", staff(s.CirculationPage))
	mux.Handle("POST /circulation/checkout", staff(s.CheckoutSubmit))
	mux.Handle("POST /circulation/checkin", staff(s.CheckinSubmit))
	mux.Handle("GET /loans", staff(s.LoansPage))

	// Reports.
	mux.Handle("GET /reports", staff(s.ReportsPage))
	mux.Handle("GET /reports/loans.csv", staff(s.LoansCSV))

	// Students.
	mux.Handle("GET /students", staff(s.StudentsPage))
	mux.Handle("POST /students", librarian(s.StudentCreateSubmit))
	mux.Handle("GET /students/{externalID}", staff(s.StudentDetailPage))

	// Users (admin only).
	mux.Handle("GET /users", admin(s.UsersPage))
	mux.Handle("POST /users", admin(s.UserCreateSubmit))
	mux.Handle("POST /users/{id}/password", admin(s.UserResetPasswordSubmit))
	mux.Handle("POST /users/{id}/role", admin(s.UserUpdateRoleSubmit))
	mux.Handle("POST /users/{id}/delete", admin(s.UserDeleteSubmit))

	mux.Handle("GET /settings", staff(s.SettingsPage))
	mux.Handle("POST /settings", staff(s.SettingsSubmit))

	csrfProtect := CSRFMiddleware(opts.CSRFKey, opts.SecureCookies)
	return http.MaxBytesHandler(csrfProtect(mux), maxFormBytes), nil
}
