package web

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

type webContextKey string

const webClaimsKey webContextKey = "webclaims"

// cookieName holds the session JWT.
const cookieName = "token"

// CookieAuthMiddleware validates the JWT from the session cookie, checks
// token revocation, and adds claims to context.
func CookieAuthMiddleware(tokens auth.Tokens, db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}

			claims, err := tokens.Validate(cookie.Value)
			if err != nil {
				clearAuthCookie(w)
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}

			revoked, err := store.IsTokenRevoked(r.Context(), db, claims.ID)
			if err != nil {
				slog.Error("failed to check token revocation", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if revoked {
				clearAuthCookie(w)
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), webClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects signed-in users below the minimum role.
func RequireRole(minimum string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetWebClaims(r.Context())
			if claims == nil || !model.RoleAtLeast(claims.Role, minimum) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clearAuthCookie clears the authentication cookie with consistent attributes.
func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// GetWebClaims retrieves the JWT claims from web context.
func GetWebClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(webClaimsKey).(*auth.Claims)
	return claims
}

// CSRFMiddleware protects every state-changing form with a gorilla/csrf
// token. Without TLS the request is marked plaintext so the Referer check
// that csrf applies to HTTPS does not reject it.
func CSRFMiddleware(key []byte, secure bool) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		key,
		csrf.Secure(secure),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.Path("/"),
		csrf.FieldName("csrf_token"),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailure)),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		if secure {
			return protected
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

// csrfFailure sends the user back to the form with an error message.
func csrfFailure(w http.ResponseWriter, r *http.Request) {
	slog.Warn("csrf check failed", "path", r.URL.Path, "reason", csrf.FailureReason(r), "remote", r.RemoteAddr)

	redirectErr(w, r, refererPath(r), "Seja je potekla. Poskusite znova.")
}

// refererPath returns the path of a same-host Referer, or "/" when the
// Referer is missing, foreign or not a plain local path.
func refererPath(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || (ref.Host != "" && ref.Host != r.Host) {
		return "/"
	}
	p := ref.Path
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}

// page returns the base page data for the current request, including the
// flash messages passed through ?msg= and ?err=.
func (s *Server) page(r *http.Request, title, active string) PageData {
	q := r.URL.Query()
	return PageData{
		Title:     title,
		Active:    active,
		User:      GetWebClaims(r.Context()),
		CSRFField: csrf.TemplateField(r),
		Now:       timeNow(),
		Error:     q.Get("err"),
		Success:   q.Get("msg"),
	}
}

// redirectMsg redirects to path with a success flash message.
func redirectMsg(w http.ResponseWriter, r *http.Request, path, msg string) {
	http.Redirect(w, r, withQuery(path, "msg", msg), http.StatusSeeOther)
}

// redirectErr redirects to path with an error flash message.
func redirectErr(w http.ResponseWriter, r *http.Request, path, msg string) {
	http.Redirect(w, r, withQuery(path, "err", msg), http.StatusSeeOther)
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}
