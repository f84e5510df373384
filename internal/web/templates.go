package web

import (
	"database/sql"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
	webembed "github.com/erazemk/knjiznica/web"
)

// Templates holds parsed HTML templates.
type Templates struct {
	templates map[string]*template.Template
}

// FuncMap returns the template function map.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"roleAtLeast": model.RoleAtLeast,
		"roleName": func(role string) string {
			switch role {
			case model.RoleAdmin:
				return "Administrator"
			case model.RoleLibrarian:
				return "Knjižničar"
			case model.RoleAssistant:
				return "Pomočnik"
			default:
				return role
			}
		},
		"loanStatus": func(l model.Loan, now time.Time) string {
			switch {
			case l.IsOverdue(now):
				return "Zamuja"
			case l.IsOpen():
				return "Izposojena"
			default:
				return "Vrnjena"
			}
		},
		"category": func(c string) string {
			if c == "" {
				return "Brez kategorije"
			}
			return cases.Title(language.Slovenian).String(c)
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2. 1. 2006")
		},
		"datetime": func(t time.Time) string {
			return t.Local().Format("2. 1. 2006 15:04")
		},
		"datep": func(t *time.Time) string {
			if t == nil {
				return "—"
			}
			return t.Local().Format("2. 1. 2006")
		},
		"daysLate": func(due, now time.Time) int {
			return int(now.Sub(due).Hours() / 24)
		},
	}
}

// pages lists every page template; each is parsed together with the layout
// and the shared partials.
var pages = []string{
	"login.html",
	"dashboard.html",
	"books.html",
	"book_new.html",
	"book_detail.html",
	"circulation.html",
	"loans.html",
	"reports.html",
	"students.html",
	"student_detail.html",
	"users.html",
	"settings.html",
}

// LoadTemplates parses all page templates with the layout.
func LoadTemplates() (*Templates, error) {
	tfs := webembed.TemplatesFS()

	layoutBytes, err := fs.ReadFile(tfs, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("reading layout template: %w", err)
	}
	partialBytes, err := fs.ReadFile(tfs, "partials.html")
	if err != nil {
		return nil, fmt.Errorf("reading partials template: %w", err)
	}

	ts := &Templates{templates: make(map[string]*template.Template)}

	for _, page := range pages {
		pageBytes, err := fs.ReadFile(tfs, page)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", page, err)
		}

		tmpl := template.New(page).Funcs(FuncMap())
		tmpl, err = tmpl.Parse(string(layoutBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", page, err)
		}
		tmpl, err = tmpl.Parse(string(partialBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing partials for %s: %w", page, err)
		}
		tmpl, err = tmpl.Parse(string(pageBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", page, err)
		}

		ts.templates[page] = tmpl
	}

	return ts, nil
}

// Render renders a template with the given data.
func (ts *Templates) Render(w http.ResponseWriter, name string, data any) {
	ts.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus renders a template with a non-default status code.
func (ts *Templates) RenderStatus(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := ts.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		slog.Error("failed to render template", "template", name, "error", err)
	}
}

// PageData is the base data passed to all templates.
type PageData struct {
	Title     string
	Active    string
	User      *auth.Claims
	CSRFField template.HTML
	Now       time.Time
	Error     string
	Success   string
}

// Server holds all dependencies for page handlers.
type Server struct {
	DB            *sql.DB
	Templates     *Templates
	Tokens        auth.Tokens
	Service       *circulation.Service
	SecureCookies bool
}
