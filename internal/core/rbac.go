package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"afms/internal/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Permission codes checked by the application layer. Each must be declared
// in rbac_seed.yaml.
const (
	PermReportsRead       = "reports:read"
	PermAccountsRead      = "accounts:read"
	PermAccountsWrite     = "accounts:write"
	PermTransactionsRead  = "transactions:read"
	PermTransactionsWrite = "transactions:write"
	PermRatesRead         = "rates:read"
	PermRatesManage       = "rates:manage"
	PermSchedulesRead     = "schedules:read"
	PermSchedulesManage   = "schedules:manage"
	PermSettingsRead      = "settings:read"
	PermSettingsManage    = "settings:manage"
	PermPlansManage       = "plans:manage"
	PermRBACRead          = "rbac:read"
	PermRBACManage        = "rbac:manage"
	PermDocumentsWrite    = "documents:write"
)

//go:embed rbac_seed.yaml
var rbacSeedYAML []byte

// RBACSeed is the built-in set of permissions, roles and menus.
type RBACSeed struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []Role       `yaml:"roles"`
	Menus       []MenuItem   `yaml:"menus"`
}

// LoadRBACSeed parses the embedded seed and checks that every role and menu
// references a declared permission.
func LoadRBACSeed() (*RBACSeed, error) {
	var seed RBACSeed
	if err := yaml.Unmarshal(rbacSeedYAML, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse rbac seed: %w", err)
	}
	known := make(map[string]bool, len(seed.Permissions))
	for _, p := range seed.Permissions {
		known[p.Code] = true
	}
	for _, r := range seed.Roles {
		for _, p := range r.Permissions {
			if !known[p] {
				return nil, fmt.Errorf("rbac seed: role %s references unknown permission %s", r.Name, p)
			}
		}
	}
	for _, m := range seed.Menus {
		if m.Permission != "" && !known[m.Permission] {
			return nil, fmt.Errorf("rbac seed: menu %s references unknown permission %s", m.Key, m.Permission)
		}
	}
	return &seed, nil
}

// SuperadminInput identifies the platform operator account.
type SuperadminInput struct {
	Email    string
	Name     string
	Password string
}

// BootstrapResult counts what a bootstrap pass wrote.
type BootstrapResult struct {
	Permissions  int    `json:"permissions"`
	Roles        int    `json:"roles"`
	Menus        int    `json:"menus"`
	SuperadminID string `json:"superadmin_id,omitempty"`
}

// RBACService owns roles, permissions and menus, and resolves what a user
// may do.
type RBACService struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewRBACService(store Store, log *zap.Logger) *RBACService {
	return &RBACService{store: store, log: log, now: time.Now}
}

// Bootstrap upserts the embedded seed and, when su.Email is set, the
// superadmin account. Every write is an upsert, so running it again leaves
// the same state.
func (s *RBACService) Bootstrap(ctx context.Context, su SuperadminInput) (*BootstrapResult, error) {
	seed, err := LoadRBACSeed()
	if err != nil {
		return nil, err
	}

	repo := s.store.RBAC()
	res := &BootstrapResult{}
	for _, p := range seed.Permissions {
		if err := repo.UpsertPermission(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to upsert permission %s: %w", p.Code, err)
		}
		res.Permissions++
	}
	for _, r := range seed.Roles {
		r.System = true
		if err := repo.UpsertRole(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to upsert role %s: %w", r.Name, err)
		}
		res.Roles++
	}
	for _, m := range seed.Menus {
		if err := repo.UpsertMenu(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to upsert menu %s: %w", m.Key, err)
		}
		res.Menus++
	}

	if su.Email != "" {
		id, err := s.ensureSuperadmin(ctx, su)
		if err != nil {
			return nil, err
		}
		res.SuperadminID = id
	}

	s.log.Info("rbac bootstrap complete",
		zap.Int("permissions", res.Permissions),
		zap.Int("roles", res.Roles),
		zap.Int("menus", res.Menus),
		zap.Bool("superadmin", res.SuperadminID != ""))
	return res, nil
}

func (s *RBACService) ensureSuperadmin(ctx context.Context, su SuperadminInput) (string, error) {
	email := strings.ToLower(strings.TrimSpace(su.Email))
	if err := security.ValidatePassword(su.Password); err != nil {
		return "", &ValidationError{Field: "superadmin_password", Message: err.Error()}
	}

	users := s.store.Users()
	existing, err := users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	u := &User{
		ID:         uuid.NewString(),
		Email:      email,
		Name:       su.Name,
		Roles:      []string{"admin"},
		Superadmin: true,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	if existing != nil {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		u.CompanyID = existing.CompanyID
		if u.Name == "" {
			u.Name = existing.Name
		}
		// Keep the stored hash when the password is unchanged so reruns do
		// not churn the row.
		if bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(su.Password)) == nil {
			u.PasswordHash = existing.PasswordHash
		}
	}
	if u.Name == "" {
		u.Name = "Superadmin"
	}
	if u.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}

	if err := users.Upsert(ctx, u); err != nil {
		return "", fmt.Errorf("failed to upsert superadmin: %w", err)
	}
	return u.ID, nil
}

// PermissionsFor resolves the union of the user's role permissions.
func (s *RBACService) PermissionsFor(ctx context.Context, u *User) ([]string, error) {
	set := make(map[string]struct{})
	for _, name := range u.Roles {
		role, err := s.store.RBAC().GetRole(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range role.Permissions {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.RBAC().ListPermissions(ctx)
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.RBAC().ListRoles(ctx)
}

// SaveRole creates or replaces a custom role. System roles are read-only.
func (s *RBACService) SaveRole(ctx context.Context, r Role) (*Role, error) {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	if r.Name == "" {
		return nil, invalid("name", "is required")
	}
	existing, err := s.store.RBAC().GetRole(ctx, r.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.System {
		return nil, fmt.Errorf("role %s is a system role: %w", r.Name, ErrConflict)
	}
	if err := s.checkPermissions(ctx, r.Permissions); err != nil {
		return nil, err
	}
	r.System = false
	sort.Strings(r.Permissions)
	if err := s.store.RBAC().UpsertRole(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RBACService) DeleteRole(ctx context.Context, name string) error {
	role, err := s.store.RBAC().GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("role %s is a system role: %w", name, ErrConflict)
	}
	return s.store.RBAC().DeleteRole(ctx, name)
}

// AssignRoles replaces a user's roles. Non-superadmin callers may only
// manage users of their own company.
func (s *RBACService) AssignRoles(ctx context.Context, actor Actor, userID string, roles []string) (*User, error) {
	u, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !actor.Superadmin && u.CompanyID != actor.CompanyID {
		return nil, ErrAccessDenied
	}
	for _, name := range roles {
		if _, err := s.store.RBAC().GetRole(ctx, name); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalid("roles", "unknown role %s", name)
			}
			return nil, err
		}
	}
	if err := s.store.Users().SetRoles(ctx, userID, roles); err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

// MenusFor returns the menu items visible to actor, ordered for display.
func (s *RBACService) MenusFor(ctx context.Context, actor Actor) ([]MenuItem, error) {
	all, err := s.store.RBAC().ListMenus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MenuItem, 0, len(all))
	for _, m := range all {
		if m.Permission == "" || actor.Can(m.Permission) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *RBACService) checkPermissions(ctx context.Context, perms []string) error {
	all, err := s.store.RBAC().ListPermissions(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(all))
	for _, p := range all {
		known[p.Code] = true
	}
	var problems ValidationErrors
	for _, p := range perms {
		if !known[p] {
			problems = append(problems, invalid("permissions", "unknown permission %s", p))
		}
	}
	return problems.OrNil()
}
