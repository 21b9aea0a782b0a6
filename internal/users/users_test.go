package users_test

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/testdb"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/pagination"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(testdb.Run(m, &testDB))
}

func newSystem(t *testing.T) (users.System, audit.System) {
	t.Helper()
	testdb.Require(t, testDB)

	registry, err := audit.NewRegistry()
	require.NoError(t, err)

	auditor := audit.New(testDB, registry, testdb.Logger(), testdb.Pagination())
	return users.New(testDB, auditor, testdb.Logger(), testdb.Pagination()), auditor
}

func uniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestRoleValid(t *testing.T) {
	tests := []struct {
		role users.Role
		want bool
	}{
		{users.RoleViewer, true},
		{users.RoleDecider, true},
		{users.RoleApprover, true},
		{users.RoleAdmin, true},
		{"root", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{users.ErrNotFound, http.StatusNotFound},
		{users.ErrDuplicate, http.StatusConflict},
		{users.ErrInvalidUser, http.StatusBadRequest},
		{users.ErrUnauthorized, http.StatusForbidden},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := users.MapHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCreateAndAudit(t *testing.T) {
	sys, auditor := newSystem(t)
	ctx := context.Background()
	name := uniqueName("dana")

	u, err := sys.Create(ctx, users.CreateCommand{Username: name, DisplayName: "Dana", Role: users.RoleDecider}, "admin")
	require.NoError(t, err)
	assert.Equal(t, users.RoleDecider, u.Role)
	assert.True(t, u.IsActive)

	subject := u.ID.String()
	events, err := auditor.List(ctx, pagination.PageRequest{}, audit.Filters{SubjectID: &subject})
	require.NoError(t, err)
	require.Len(t, events.Data, 1)
	assert.Equal(t, audit.UserCreated, events.Data[0].Type)

	_, err = sys.Create(ctx, users.CreateCommand{Username: name}, "admin")
	assert.ErrorIs(t, err, users.ErrDuplicate)
}

func TestCreateValidation(t *testing.T) {
	sys, _ := newSystem(t)
	ctx := context.Background()

	_, err := sys.Create(ctx, users.CreateCommand{Username: "  "}, "admin")
	assert.ErrorIs(t, err, users.ErrInvalidUser)

	_, err = sys.Create(ctx, users.CreateCommand{Username: uniqueName("x"), Role: "root"}, "admin")
	assert.ErrorIs(t, err, users.ErrInvalidUser)
}

func TestUpdateAndAuthorize(t *testing.T) {
	sys, _ := newSystem(t)
	ctx := context.Background()
	name := uniqueName("erin")

	_, err := sys.Create(ctx, users.CreateCommand{Username: name, Role: users.RoleDecider}, "admin")
	require.NoError(t, err)

	_, err = sys.Authorize(ctx, testDB, name, users.ReviewerRoles...)
	assert.ErrorIs(t, err, users.ErrUnauthorized)

	role := users.RoleApprover
	u, err := sys.Update(ctx, name, users.UpdateCommand{Role: &role}, "admin")
	require.NoError(t, err)
	assert.Equal(t, users.RoleApprover, u.Role)

	_, err = sys.Authorize(ctx, testDB, name, users.ReviewerRoles...)
	assert.NoError(t, err)

	inactive := false
	_, err = sys.Update(ctx, name, users.UpdateCommand{IsActive: &inactive}, "admin")
	require.NoError(t, err)

	_, err = sys.Authorize(ctx, testDB, name, users.ReviewerRoles...)
	assert.ErrorIs(t, err, users.ErrUnauthorized)

	_, err = sys.Authorize(ctx, testDB, uniqueName("ghost"), users.ReviewerRoles...)
	assert.ErrorIs(t, err, users.ErrUnauthorized)
}

func TestRecordLogin(t *testing.T) {
	sys, _ := newSystem(t)
	ctx := context.Background()
	name := uniqueName("finn")

	_, err := sys.Create(ctx, users.CreateCommand{Username: name}, "admin")
	require.NoError(t, err)

	u, err := sys.RecordLogin(ctx, name)
	require.NoError(t, err)
	assert.NotNil(t, u.LastLoginAt)

	_, err = sys.RecordLogin(ctx, uniqueName("nobody"))
	assert.ErrorIs(t, err, users.ErrNotFound)
}
