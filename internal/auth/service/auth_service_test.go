package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"authgate/internal/security"
	userdomain "authgate/internal/user/domain"
	userrepo "authgate/internal/user/repository"
)

type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*userdomain.User
	failAll error
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	return r.byEmail[email], nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if _, exists := r.byEmail[u.Email]; exists {
		return userrepo.ErrDuplicateEmail
	}
	r.byEmail[u.Email] = u
	return nil
}

func newService() (*AuthService, *memUserRepo) {
	repo := &memUserRepo{byEmail: make(map[string]*userdomain.User)}
	return NewAuthService(repo, security.NewHasher(4)), repo
}

func TestRegister_Success(t *testing.T) {
	svc, repo := newService()
	user, err := svc.Register(context.Background(), "alice@example.com", "Secret123!")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" {
		t.Error("user ID should be assigned")
	}
	if user.PasswordHash == "" || user.PasswordHash == "Secret123!" {
		t.Error("password must be stored hashed")
	}
	if !reflect.DeepEqual(user.Roles, []string{"User"}) {
		t.Errorf("Roles = %v, want [User]", user.Roles)
	}
	if repo.byEmail["alice@example.com"] == nil {
		t.Error("user not persisted")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _ := newService()
	cases := []struct{ email, password string }{
		{"", "pw"},
		{"   ", "pw"},
		{"a@b.c", ""},
		{"a@b.c", "   "},
	}
	for _, c := range cases {
		if _, err := svc.Register(context.Background(), c.email, c.password); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Register(%q, %q) = %v, want ErrInvalidInput", c.email, c.password, err)
		}
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Register(context.Background(), "alice@example.com", "Secret123!"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice@example.com", "Other456!"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second Register = %v, want ErrEmailTaken", err)
	}
}

func TestRegister_DuplicateFromStoreConstraint(t *testing.T) {
	// A concurrent registration can slip past the existence check; the store's
	// unique violation must still surface as ErrEmailTaken.
	repo := &memUserRepo{byEmail: make(map[string]*userdomain.User)}
	svc := NewAuthService(&racingRepo{inner: repo}, security.NewHasher(4))
	if _, err := svc.Register(context.Background(), "alice@example.com", "Secret123!"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("Register = %v, want ErrEmailTaken", err)
	}
}

// racingRepo reports no user on lookup but a duplicate on insert, simulating a
// registration that lost a check-then-insert race.
type racingRepo struct {
	inner *memUserRepo
}

func (r *racingRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	return nil, nil
}

func (r *racingRepo) Create(ctx context.Context, u *userdomain.User) error {
	return userrepo.ErrDuplicateEmail
}

func TestLogin_Success(t *testing.T) {
	svc, _ := newService()
	user, err := svc.Register(context.Background(), "alice@example.com", "Secret123!")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := svc.Login(context.Background(), "alice@example.com", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.SubjectID != user.ID {
		t.Errorf("SubjectID = %q, want %q", p.SubjectID, user.ID)
	}
	if p.Email != "alice@example.com" {
		t.Errorf("Email = %q", p.Email)
	}
	if !reflect.DeepEqual(p.Roles, []string{"User"}) {
		t.Errorf("Roles = %v, want [User]", p.Roles)
	}
}

func TestLogin_UndifferentiatedFailures(t *testing.T) {
	svc, repo := newService()
	if _, err := svc.Register(context.Background(), "real@example.com", "Secret123!"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Federation-only account: present but no local hash.
	repo.byEmail["saml@example.com"] = &userdomain.User{
		ID:    "saml-1",
		Email: "saml@example.com",
		Roles: []string{"User"},
	}

	cases := []struct{ name, email, password string }{
		{"unknown email", "unknown@example.com", "anything"},
		{"wrong password", "real@example.com", "wrongpassword"},
		{"federation-only account", "saml@example.com", "anything"},
		{"empty password", "real@example.com", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := svc.Login(context.Background(), c.email, c.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login = %v, want ErrInvalidCredentials", err)
			}
			if p != nil {
				t.Error("no principal must be produced on failure")
			}
		})
	}
}

func TestLogin_StoreFailureIsNotUnauthorized(t *testing.T) {
	svc, repo := newService()
	storeErr := errors.New("connection refused")
	repo.failAll = storeErr
	_, err := svc.Login(context.Background(), "alice@example.com", "Secret123!")
	if !errors.Is(err, storeErr) {
		t.Fatalf("Login = %v, want the store error to propagate", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("store failure must not be folded into invalid credentials")
	}
}

func TestLogin_LegacyCommaJoinedRoles(t *testing.T) {
	svc, repo := newService()
	hash, _ := security.NewHasher(4).Hash([]byte("Secret123!"))
	repo.byEmail["admin@local"] = &userdomain.User{
		ID:           "admin-1",
		Email:        "admin@local",
		PasswordHash: hash,
		Roles:        []string{"Admin,User"},
	}
	p, err := svc.Login(context.Background(), "admin@local", "Secret123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !reflect.DeepEqual(p.Roles, []string{"Admin", "User"}) {
		t.Errorf("Roles = %v, want [Admin User]", p.Roles)
	}
}
