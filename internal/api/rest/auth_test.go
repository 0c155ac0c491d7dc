package rest

import (
	"context"
	"net/http"
	"testing"

	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/models"
)

func createSigninUser(t *testing.T, env *testEnv, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &models.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		IsActive:     active,
		IsStaff:      true,
	}
	if err := env.repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func TestSignIn_Success(t *testing.T) {
	env := newTestEnv(t)
	password := "Xy9$mK2#pQ7@vN4&wL8"
	createSigninUser(t, env, "admin@example.com", password, true)

	rec := env.do(t, http.MethodPost, "/signin", map[string]string{
		"email":    "admin@example.com",
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var session auth.Session
	decodeBody(t, rec, &session)
	if session.Token == "" {
		t.Error("Expected a token in the session")
	}
	if session.User == nil || session.User.Email != "admin@example.com" {
		t.Error("Expected the signed-in user in the session")
	}
}

func TestSignIn_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	createSigninUser(t, env, "admin@example.com", "correct-horse-battery", true)

	rec := env.do(t, http.MethodPost, "/signin", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var body APIError
	decodeBody(t, rec, &body)
	if body.Code != ErrCodeUnauthorized {
		t.Errorf("Expected code %s, got %s", ErrCodeUnauthorized, body.Code)
	}
}

func TestSignIn_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/signin", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rec.Code)
	}
}

func TestSignIn_InactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	createSigninUser(t, env, "gone@example.com", "some-password-123", false)

	rec := env.do(t, http.MethodPost, "/signin", map[string]string{
		"email":    "gone@example.com",
		"password": "some-password-123",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d. Body: %s", rec.Code, rec.Body.String())
	}
}

func TestSignIn_LocksAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	password := "correct-horse-battery"
	createSigninUser(t, env, "victim@example.com", password, true)

	for i := 0; i < models.MaxFailedLogins; i++ {
		rec := env.do(t, http.MethodPost, "/signin", map[string]string{
			"email":    "victim@example.com",
			"password": "wrong",
		})
		if i < models.MaxFailedLogins-1 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("Attempt %d: expected status 401, got %d", i+1, rec.Code)
		}
		if i == models.MaxFailedLogins-1 && rec.Code != http.StatusForbidden {
			t.Fatalf("Locking attempt: expected status 403, got %d. Body: %s", rec.Code, rec.Body.String())
		}
	}

	// The right password no longer helps.
	rec := env.do(t, http.MethodPost, "/signin", map[string]string{
		"email":    "victim@example.com",
		"password": password,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403 on locked account, got %d", rec.Code)
	}
}

func TestSignIn_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/signin", map[string]string{"email": "x@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
}
