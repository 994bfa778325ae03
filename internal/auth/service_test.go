package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/honeyhive/backend/internal/models"
)

type memUsers struct {
	mu     sync.Mutex
	users  map[string]*User
	hashes map[string]string
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*User{}, hashes: map[string]string{}}
}

func (m *memUsers) Create(_ context.Context, email, hash, displayName, role string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	u := &User{ID: uuid.New(), Email: email, DisplayName: displayName, Role: role, CreatedAt: time.Now()}
	m.users[email] = u
	m.hashes[email] = hash
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, "", nil
	}
	return u, m.hashes[email], nil
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), "test-secret")

	u, err := svc.Register(ctx, "bee@example.com", "hunter22", "Bee", models.RoleFreelancer)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login(ctx, "bee@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, role, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != u.ID || role != models.RoleFreelancer {
		t.Errorf("token claims = (%s, %q), want (%s, %q)", id, role, u.ID, models.RoleFreelancer)
	}
}

func TestRegister_Errors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), "test-secret")

	if _, err := svc.Register(ctx, "a@example.com", "pw", "A", models.RoleAdmin); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("admin self-registration: got %v, want ErrInvalidRole", err)
	}
	if _, err := svc.Register(ctx, "a@example.com", "pw", "A", models.RoleClient); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "a@example.com", "pw", "A", models.RoleClient); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate: got %v, want ErrDuplicateEmail", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), "test-secret")
	if _, err := svc.Register(ctx, "c@example.com", "right", "C", models.RoleClient); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, tc := range []struct{ email, password string }{
		{"c@example.com", "wrong"},
		{"nobody@example.com", "right"},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q): got %v, want ErrInvalidCredentials", tc.email, err)
		}
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), "test-secret")
	other := NewService(newMemUsers(), "other-secret")

	foreign, err := other.issueToken(uuid.New(), models.RoleClient)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, _, err := svc.ValidateToken(ctx, foreign); err == nil {
		t.Error("token signed with another secret was accepted")
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * tokenTTL) }
	expired, err := svc.issueToken(uuid.New(), models.RoleClient)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, _, err := svc.ValidateToken(ctx, expired); err == nil {
		t.Error("expired token was accepted")
	}
}
