package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/store"
)

var timeNow = time.Now

// LoginPage handles GET /login.
func (s *Server) LoginPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, "login.html", s.page(r, "Prijava", ""))
}

// LoginSubmit handles POST /login.
func (s *Server) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	fail := func(status int, msg string) {
		data := s.page(r, "Prijava", "")
		data.Error = msg
		s.Templates.RenderStatus(w, status, "login.html", data)
	}

	if username == "" || password == "" {
		fail(http.StatusBadRequest, "Vnesite uporabniško ime in geslo.")
		return
	}

	user, err := api.Authenticate(r, s.DB, username, password)
	if err != nil {
		fail(http.StatusInternalServerError, "Napaka pri prijavi.")
		return
	}
	if user == nil {
		fail(http.StatusUnauthorized, "Napačno uporabniško ime ali geslo.")
		return
	}

	token, claims, err := s.Tokens.Generate(user)
	if err != nil {
		slog.Error("failed to generate token", "error", err)
		fail(http.StatusInternalServerError, "Napaka pri prijavi.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	slog.Info("user logged in", "user", user.Username, "role", user.Role, "via", "web")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles POST /logout. The token is revoked so a copied cookie
// stops working too.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	if err := store.RevokeToken(r.Context(), s.DB, claims.ID, claims.ExpiresAt.Time); err != nil {
		slog.Error("failed to revoke token", "error", err)
	} else {
		slog.Info("user logged out", "user", claims.Username)
	}
	clearAuthCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
