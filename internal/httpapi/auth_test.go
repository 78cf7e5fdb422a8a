package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

type userDirectoryStub struct {
	users map[string]domain.UserAccount
	err   error
}

func (s *userDirectoryStub) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newStubDirectory(t *testing.T) *userDirectoryStub {
	t.Helper()
	return &userDirectoryStub{users: map[string]domain.UserAccount{
		"caja1": {
			ID:       42,
			Username: "caja1",
			Password: mustHashPassword(t, "clave-segura"),
			Roles:    []string{domain.RoleVendedor},
			Active:   true,
		},
		"baja": {
			ID:       43,
			Username: "baja",
			Password: mustHashPassword(t, "clave-segura"),
			Roles:    []string{domain.RoleVendedor},
			Active:   false,
		},
		"legacy": {
			ID:       44,
			Username: "legacy",
			Password: "clave-segura",
			Roles:    []string{domain.RoleVendedor},
			Active:   true,
		},
	}}
}

const testSecret = "test-secret-key-with-enough-length!!"

func TestLoginIssuesTokenForUserID(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, newStubDirectory(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " caja1 ", Password: "clave-segura"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", resp.UserID)
	}
	if len(resp.Roles) != 1 || resp.Roles[0] != domain.RoleVendedor {
		t.Fatalf("unexpected roles %v", resp.Roles)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Fatalf("expires_at is not RFC3339: %q", resp.ExpiresAt)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.UserID != 42 || actor.Username != "caja1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejections(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, newStubDirectory(t))

	tests := []struct {
		name    string
		req     domain.LoginRequest
		wantErr error
	}{
		{"wrong password", domain.LoginRequest{Username: "caja1", Password: "otra"}, errInvalidCredentials},
		{"unknown user", domain.LoginRequest{Username: "nadie", Password: "clave-segura"}, errInvalidCredentials},
		{"empty password", domain.LoginRequest{Username: "caja1", Password: "  "}, errInvalidCredentials},
		{"plain text stored password", domain.LoginRequest{Username: "legacy", Password: "clave-segura"}, errInvalidCredentials},
		{"inactive account", domain.LoginRequest{Username: "baja", Password: "clave-segura"}, errAccountInactive},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.Login(context.Background(), tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoginPropagatesDirectoryFailure(t *testing.T) {
	boom := errors.New("connection refused")
	manager := NewAuthManager(testSecret, time.Hour, &userDirectoryStub{err: boom})

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "caja1", Password: "clave-segura"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	directory := newStubDirectory(t)
	manager := NewAuthManager(testSecret, time.Hour, directory)
	other := NewAuthManager("another-secret-key-with-enough-length", time.Hour, directory)

	user := directory.users["caja1"]
	foreign, err := other.sign(&user, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := manager.sign(&user, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsBadSubject(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, newStubDirectory(t))

	for _, subject := range []string{"", "caja1", "-3"} {
		claims := posCustomClaims{RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := manager.ParseToken(token); err == nil {
			t.Fatalf("expected subject %q to be rejected", subject)
		}
	}
}
