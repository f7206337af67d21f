package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afms/internal/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Session is the result of a successful login.
type Session struct {
	User        User     `json:"user"`
	Permissions []string `json:"permissions"`
}

// Actor converts the session into the identity passed to services.
func (s *Session) Actor() Actor {
	return Actor{
		UserID:      s.User.ID,
		CompanyID:   s.User.CompanyID,
		Permissions: s.Permissions,
		Superadmin:  s.User.Superadmin,
	}
}

// UserInput is the request to create a company user.
type UserInput struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// UserService authenticates users and manages company accounts.
type UserService struct {
	store Store
	rbac  *RBACService
	log   *zap.Logger
	now   func() time.Time
}

func NewUserService(store Store, rbac *RBACService, log *zap.Logger) *UserService {
	return &UserService{store: store, rbac: rbac, log: log, now: time.Now}
}

// dummyHash keeps login timing similar for unknown and known emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("afms-login-timing"), bcrypt.DefaultCost)

// Authenticate verifies credentials. Unknown users, inactive users and
// wrong passwords all return ErrUnauthenticated.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.Users().GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthenticated
	}
	return s.session(ctx, u)
}

// Session rebuilds the session for an already authenticated user id.
func (s *UserService) Session(ctx context.Context, userID string) (*Session, error) {
	u, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrUnauthenticated
	}
	return s.session(ctx, u)
}

func (s *UserService) session(ctx context.Context, u *User) (*Session, error) {
	perms, err := s.rbac.PermissionsFor(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	return &Session{User: *u, Permissions: perms}, nil
}

// CreateUser adds a user to companyID with a validated password.
func (s *UserService) CreateUser(ctx context.Context, companyID string, in UserInput) (*User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	var problems ValidationErrors
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		problems = append(problems, invalid("email", "must be a valid email address"))
	}
	if err := security.ValidatePassword(in.Password); err != nil {
		problems = append(problems, invalid("password", "%v", err))
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	if _, err := s.store.Companies().Get(ctx, companyID); err != nil {
		return nil, err
	}
	if _, err := s.store.Users().GetByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("email %s already registered: %w", in.Email, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{"viewer"}
	}
	u := &User{
		ID:           uuid.NewString(),
		CompanyID:    companyID,
		Email:        in.Email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: string(hash),
		Roles:        roles,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Users().Upsert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
