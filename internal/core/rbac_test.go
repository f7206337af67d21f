package core_test

import (
	"context"
	"testing"

	"afms/internal/core"
	"afms/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Str0ng!Passw0rd#2026"

func TestLoadRBACSeed(t *testing.T) {
	seed, err := core.LoadRBACSeed()
	require.NoError(t, err)
	assert.NotEmpty(t, seed.Permissions)

	names := map[string]bool{}
	for _, r := range seed.Roles {
		names[r.Name] = true
	}
	assert.True(t, names["admin"])
	assert.True(t, names["accountant"])
	assert.True(t, names["viewer"])

	declared := map[string]bool{}
	for _, p := range seed.Permissions {
		declared[p.Code] = true
	}
	for _, code := range []string{
		core.PermReportsRead, core.PermAccountsRead, core.PermAccountsWrite,
		core.PermTransactionsRead, core.PermTransactionsWrite, core.PermRatesRead,
		core.PermRatesManage, core.PermSchedulesRead, core.PermSchedulesManage,
		core.PermSettingsRead, core.PermSettingsManage, core.PermPlansManage,
		core.PermRBACRead, core.PermRBACManage, core.PermDocumentsWrite,
	} {
		assert.True(t, declared[code], code)
	}
}

func TestBootstrap_Idempotent(t *testing.T) {
	store := memory.New()
	svc := core.NewRBACService(store, zapNop())
	ctx := context.Background()
	su := core.SuperadminInput{Email: "Root@Example.com", Password: strongPassword}

	first, err := svc.Bootstrap(ctx, su)
	require.NoError(t, err)
	require.NotEmpty(t, first.SuperadminID)

	perms1, _ := store.RBAC().ListPermissions(ctx)
	roles1, _ := store.RBAC().ListRoles(ctx)
	menus1, _ := store.RBAC().ListMenus(ctx)
	user1, err := store.Users().GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)

	second, err := svc.Bootstrap(ctx, su)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	perms2, _ := store.RBAC().ListPermissions(ctx)
	roles2, _ := store.RBAC().ListRoles(ctx)
	menus2, _ := store.RBAC().ListMenus(ctx)
	user2, err := store.Users().GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)

	assert.Equal(t, perms1, perms2)
	assert.Equal(t, roles1, roles2)
	assert.Equal(t, menus1, menus2)
	assert.Equal(t, user1, user2, "unchanged password keeps the stored hash")
	assert.True(t, user2.Superadmin)
}

func TestBootstrap_RejectsWeakSuperadminPassword(t *testing.T) {
	svc := core.NewRBACService(memory.New(), zapNop())
	_, err := svc.Bootstrap(context.Background(), core.SuperadminInput{Email: "root@example.com", Password: "password"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRoles_SystemRolesAreReadOnly(t *testing.T) {
	store := memory.New()
	svc := core.NewRBACService(store, zapNop())
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, core.SuperadminInput{})
	require.NoError(t, err)

	_, err = svc.SaveRole(ctx, core.Role{Name: "admin", Permissions: []string{"reports:read"}})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.ErrorIs(t, svc.DeleteRole(ctx, "viewer"), core.ErrConflict)

	_, err = svc.SaveRole(ctx, core.Role{Name: "auditor", Permissions: []string{"reports:fly"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	role, err := svc.SaveRole(ctx, core.Role{Name: " Auditor ", Permissions: []string{"transactions:read", "reports:read"}})
	require.NoError(t, err)
	assert.Equal(t, "auditor", role.Name)
	assert.Equal(t, []string{"reports:read", "transactions:read"}, role.Permissions)
	require.NoError(t, svc.DeleteRole(ctx, "auditor"))
}

func TestAssignRolesAndMenus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rbac := core.NewRBACService(f.store, zapNop())
	_, err := rbac.Bootstrap(ctx, core.SuperadminInput{})
	require.NoError(t, err)
	users := core.NewUserService(f.store, rbac, zapNop())

	u, err := users.CreateUser(ctx, f.company.ID, core.UserInput{Email: "clerk@acme.test", Password: strongPassword})
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, u.Roles)

	outsider := core.Actor{UserID: "x", CompanyID: "another", Permissions: []string{"rbac:manage"}}
	_, err = rbac.AssignRoles(ctx, outsider, u.ID, []string{"accountant"})
	assert.ErrorIs(t, err, core.ErrAccessDenied)

	admin := core.Actor{UserID: "y", CompanyID: f.company.ID, Permissions: []string{"rbac:manage"}}
	_, err = rbac.AssignRoles(ctx, admin, u.ID, []string{"wizard"})
	assert.ErrorIs(t, err, core.ErrValidation)

	updated, err := rbac.AssignRoles(ctx, admin, u.ID, []string{"accountant"})
	require.NoError(t, err)
	assert.Equal(t, []string{"accountant"}, updated.Roles)

	session, err := users.Authenticate(ctx, "CLERK@acme.test", strongPassword)
	require.NoError(t, err)
	actor := session.Actor()
	assert.True(t, actor.Can("transactions:write"))
	assert.False(t, actor.Can("plans:manage"))

	menus, err := rbac.MenusFor(ctx, actor)
	require.NoError(t, err)
	for _, m := range menus {
		if m.Permission != "" {
			assert.True(t, actor.Can(m.Permission), "menu %s", m.Key)
		}
	}
	all, err := rbac.MenusFor(ctx, core.Actor{Superadmin: true})
	require.NoError(t, err)
	assert.Greater(t, len(all), len(menus))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rbac := core.NewRBACService(f.store, zapNop())
	users := core.NewUserService(f.store, rbac, zapNop())

	_, err := users.CreateUser(ctx, f.company.ID, core.UserInput{Email: "weak@acme.test", Password: "short"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = users.CreateUser(ctx, f.company.ID, core.UserInput{Email: "a@acme.test", Password: strongPassword})
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, f.company.ID, core.UserInput{Email: "A@acme.test", Password: strongPassword})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = users.Authenticate(ctx, "a@acme.test", "wrong-password")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = users.Authenticate(ctx, "nobody@acme.test", strongPassword)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	session, err := users.Authenticate(ctx, "a@acme.test", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, f.company.ID, session.User.CompanyID)
}
