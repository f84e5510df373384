package store

import (
	"context"
	"testing"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, database, "mojca", "hash123", model.RoleAssistant)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Username != "mojca" {
		t.Errorf("expected username 'mojca', got %q", user.Username)
	}
	if user.Role != model.RoleAssistant {
		t.Errorf("expected role 'assistant', got %q", user.Role)
	}

	got, err := GetUser(ctx, database, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "mojca" {
		t.Errorf("expected username 'mojca', got %q", got.Username)
	}
}

func TestGetUserByUsername(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "ana", "hash", model.RoleAdmin)

	user, err := GetUserByUsername(ctx, database, "ana")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Username != "ana" {
		t.Errorf("expected 'ana', got %q", user.Username)
	}

	missing, err := GetUserByUsername(ctx, database, "bojan")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing user")
	}
}

func TestListUsers(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "a", "hash", model.RoleAssistant)
	CreateUser(ctx, database, "b", "hash", model.RoleLibrarian)

	users, err := ListUsers(ctx, database)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %d", len(users))
	}
}

func TestDeleteUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "deleteme", "hash", model.RoleAssistant)
	DeleteUser(ctx, database, user.ID)

	users, _ := ListUsers(ctx, database)
	if len(users) != 0 {
		t.Errorf("expected 0 users after delete, got %d", len(users))
	}
}

func TestUpdateUserPassword(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "pwuser", "oldhash", model.RoleAssistant)
	UpdateUserPassword(ctx, database, user.ID, "newhash")

	got, _ := GetUser(ctx, database, user.ID)
	if got.PasswordHash != "newhash" {
		t.Errorf("expected password hash 'newhash', got %q", got.PasswordHash)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := CreateUser(ctx, database, "ana", "hash", model.RoleLibrarian); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := CreateUser(ctx, database, "ana", "hash", model.RoleAssistant); err != ErrDuplicateUsername {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestUsernameReusableAfterDelete(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	old, _ := CreateUser(ctx, database, "ana", "old", model.RoleAssistant)
	DeleteUser(ctx, database, old.ID)

	fresh, err := CreateUser(ctx, database, "ana", "new", model.RoleLibrarian)
	if err != nil {
		t.Fatalf("CreateUser after delete: %v", err)
	}

	got, _ := GetUserByUsername(ctx, database, "ana")
	if got == nil || got.ID != fresh.ID {
		t.Fatalf("expected active account %d, got %+v", fresh.ID, got)
	}
	if got.DeletedAt != nil {
		t.Error("expected the active account, got the deleted one")
	}
}
