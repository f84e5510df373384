package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// UsersPage handles GET /users (admin only).
func (s *Server) UsersPage(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), s.DB)
	if err != nil {
		slog.Error("failed to list users", "error", err)
	}

	s.Templates.Render(w, "users.html", &struct {
		PageData
		Users []model.User
		Roles []string
	}{
		PageData: s.page(r, "Uporabniki", "users"),
		Users:    users,
		Roles:    []string{model.RoleAssistant, model.RoleLibrarian, model.RoleAdmin},
	})
}

// passwordMessage turns a HashPassword or ChangeOwnPassword error into a
// flash message.
func passwordMessage(err error) string {
	switch {
	case errors.Is(err, api.ErrWrongPassword):
		return "Trenutno geslo ni pravilno."
	case errors.Is(err, api.ErrInternal):
		return "Napaka pri shranjevanju gesla."
	default:
		return "Geslo mora imeti vsaj " + strconv.Itoa(model.MinPasswordLength) + " znakov."
	}
}

// UserCreateSubmit handles POST /users (admin only).
func (s *Server) UserCreateSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	username := r.FormValue("username")
	password := r.FormValue("password")
	role := r.FormValue("role")

	if username == "" || password == "" || !model.ValidRole(role) {
		redirectErr(w, r, "/users", "Vnesite uporabniško ime, geslo in vlogo.")
		return
	}

	hash, err := api.HashPassword(password)
	if err != nil {
		redirectErr(w, r, "/users", passwordMessage(err))
		return
	}

	if _, err := store.CreateUser(r.Context(), s.DB, username, hash, role); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			redirectErr(w, r, "/users", "Uporabniško ime je že zasedeno.")
			return
		}
		slog.Error("failed to create user", "error", err)
		redirectErr(w, r, "/users", "Napaka pri ustvarjanju uporabnika.")
		return
	}

	slog.Info("user created", "user", claims.Username, "new_user", username, "role", role)
	redirectMsg(w, r, "/users", "Uporabnik ustvarjen.")
}

// userTarget parses the {id} path value and loads the active user.
func (s *Server) userTarget(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	user, err := store.GetUser(r.Context(), s.DB, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if user == nil || user.DeletedAt != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}

// UserResetPasswordSubmit handles POST /users/{id}/password (admin only).
func (s *Server) UserResetPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	user, ok := s.userTarget(w, r)
	if !ok {
		return
	}

	hash, err := api.HashPassword(r.FormValue("new_password"))
	if err != nil {
		redirectErr(w, r, "/users", passwordMessage(err))
		return
	}

	if err := store.UpdateUserPassword(r.Context(), s.DB, user.ID, hash); err != nil {
		slog.Error("failed to reset password", "error", err)
		redirectErr(w, r, "/users", "Napaka pri shranjevanju gesla.")
		return
	}

	slog.Info("user password reset", "user", claims.Username, "target_user", user.Username)
	redirectMsg(w, r, "/users", "Geslo za "+user.Username+" ponastavljeno.")
}

// UserUpdateRoleSubmit handles POST /users/{id}/role (admin only).
func (s *Server) UserUpdateRoleSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	user, ok := s.userTarget(w, r)
	if !ok {
		return
	}

	role := r.FormValue("role")
	if !model.ValidRole(role) {
		redirectErr(w, r, "/users", "Neveljavna vloga.")
		return
	}
	if user.ID == claims.UserID && role != model.RoleAdmin {
		redirectErr(w, r, "/users", "Svoje vloge ne morete znižati.")
		return
	}

	if err := store.UpdateUser(r.Context(), s.DB, user.ID, role); err != nil {
		slog.Error("failed to update user", "error", err)
		redirectErr(w, r, "/users", "Napaka pri posodabljanju uporabnika.")
		return
	}

	slog.Info("user role updated", "user", claims.Username, "target_user", user.Username, "new_role", role)
	redirectMsg(w, r, "/users", "Vloga posodobljena.")
}

// UserDeleteSubmit handles POST /users/{id}/delete (admin only).
func (s *Server) UserDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	user, ok := s.userTarget(w, r)
	if !ok {
		return
	}
	if user.ID == claims.UserID {
		redirectErr(w, r, "/users", "Svojega računa ne morete izbrisati.")
		return
	}

	if err := store.DeleteUser(r.Context(), s.DB, user.ID); err != nil {
		slog.Error("failed to delete user", "error", err)
		redirectErr(w, r, "/users", "Napaka pri brisanju uporabnika.")
		return
	}

	slog.Info("user deleted", "user", claims.Username, "deleted_user", user.Username)
	redirectMsg(w, r, "/users", "Uporabnik izbrisan.")
}

// SettingsPage handles GET /settings.
func (s *Server) SettingsPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, "settings.html", s.page(r, "Nastavitve", "settings"))
}

// SettingsSubmit handles POST /settings (change own password).
func (s *Server) SettingsSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())

	current := r.FormValue("current_password")
	next := r.FormValue("new_password")
	if current == "" || next == "" {
		redirectErr(w, r, "/settings", "Vnesite trenutno in novo geslo.")
		return
	}
	if next != r.FormValue("confirm_password") {
		redirectErr(w, r, "/settings", "Gesli se ne ujemata.")
		return
	}

	if err := api.ChangeOwnPassword(r, s.DB, claims, current, next); err != nil {
		redirectErr(w, r, "/settings", passwordMessage(err))
		return
	}
	redirectMsg(w, r, "/settings", "Geslo uspešno spremenjeno.")
}
