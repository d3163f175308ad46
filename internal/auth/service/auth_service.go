package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	authdomain "authgate/internal/auth/domain"
	"authgate/internal/security"
	userdomain "authgate/internal/user/domain"
	userrepo "authgate/internal/user/repository"
)

// Sentinel errors for the auth service; the handler maps them to HTTP statuses.
var (
	ErrInvalidInput       = errors.New("email and password are required")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// AuthService implements local email/password registration and login.
type AuthService struct {
	userRepo UserRepo
	hasher   *security.Hasher
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(userRepo UserRepo, hasher *security.Hasher) *AuthService {
	return &AuthService{userRepo: userRepo, hasher: hasher}
}

// Register creates a user with the given email and password and the default
// role. Blank email or password is ErrInvalidInput; an existing email is
// ErrEmailTaken, whether caught by the pre-check or by the store's unique
// constraint when concurrent registrations race.
func (s *AuthService) Register(ctx context.Context, email, password string) (*userdomain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, ErrInvalidInput
	}
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Roles:        []string{userdomain.DefaultRole},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, ErrInvalidInput
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// Login authenticates with email/password and returns a Principal. Unknown
// email, a federation-only account, and a wrong password all produce the same
// ErrInvalidCredentials so callers cannot enumerate accounts. Store failures
// propagate unchanged.
func (s *AuthService) Login(ctx context.Context, email, password string) (*authdomain.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	roles := userdomain.NormalizeRoles(user.Roles)
	if len(roles) == 0 {
		roles = []string{userdomain.DefaultRole}
	}
	return &authdomain.Principal{
		SubjectID: user.ID,
		Email:     user.Email,
		Roles:     roles,
		Provider:  authdomain.ProviderLocal,
	}, nil
}
