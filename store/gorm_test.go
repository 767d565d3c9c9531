package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"productflow/models"
	"productflow/phase"
)

var errNoDatabase = errors.New("dry run: no database")

// noConn satisfies gorm.ConnPool without a server. In DryRun mode gorm only
// builds statements, so none of these are reached.
type noConn struct{}

func (noConn) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, errNoDatabase
}

func (noConn) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoDatabase
}

func (noConn) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNoDatabase
}

func (noConn) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type dryPool struct{ noConn }

func (dryPool) BeginTx(context.Context, *sql.TxOptions) (gorm.ConnPool, error) {
	return dryTx{}, nil
}

type dryTx struct{ noConn }

func (dryTx) Commit() error   { return nil }
func (dryTx) Rollback() error { return nil }

// recordingStore opens a DryRun Postgres GormStore and returns it with a
// function draining the SQL statements it has built so far.
func recordingStore(t *testing.T) (*GormStore, func() []string) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: dryPool{}}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	var statements []string
	capture := func(tx *gorm.DB) {
		if s := tx.Statement.SQL.String(); s != "" {
			statements = append(statements, s)
		}
	}
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_create", capture))
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture_query", capture))
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:capture_update", capture))
	require.NoError(t, db.Callback().Delete().After("gorm:delete").Register("test:capture_delete", capture))

	drain := func() []string {
		out := statements
		statements = nil
		return out
	}
	return NewGormStore(db), drain
}

// TestEveryTenantQueryCarriesTenantFilter walks every tenant-owned Store
// method and checks each statement it builds names the tenant columns.
func TestEveryTenantQueryCarriesTenantFilter(t *testing.T) {
	s, drain := recordingStore(t)
	ctx := context.Background()
	scope := Scope{TeamID: 7, WorkspaceID: 11}
	now := time.Now()

	teamLevel := []struct {
		name string
		call func() error
	}{
		{"GetMembership", func() error { _, err := s.GetMembership(ctx, 7, 1); return err }},
		{"ListMembers", func() error { _, err := s.ListMembers(ctx, 7); return err }},
		{"AddMember", func() error { return s.AddMember(ctx, &models.TeamMember{TeamID: 7, UserID: 2, Role: phase.RoleMember}) }},
		{"UpdateMemberRole", func() error { return s.UpdateMemberRole(ctx, 7, 2, phase.RoleAdmin) }},
		{"RemoveMember", func() error { return s.RemoveMember(ctx, 7, 2) }},
		{"TeamAdmins", func() error { _, err := s.TeamAdmins(ctx, 7); return err }},
		{"CreateWorkspace", func() error { return s.CreateWorkspace(ctx, &models.Workspace{TeamID: 7, Name: "Core"}) }},
		{"ListWorkspaces", func() error { _, err := s.ListWorkspaces(ctx, 7); return err }},
		{"ListStaleReviews", func() error { _, err := s.ListStaleReviews(ctx, 7, now); return err }},
	}

	workspaceLevel := []struct {
		name string
		call func() error
	}{
		{"GetWorkspace", func() error { _, err := s.GetWorkspace(ctx, scope); return err }},
		{"DeleteWorkspace", func() error { return s.DeleteWorkspace(ctx, scope) }},
		{"ListAssignments", func() error { _, err := s.ListAssignments(ctx, scope); return err }},
		{"ListAssignmentsForUser", func() error { _, err := s.ListAssignmentsForUser(ctx, scope, 3); return err }},
		{"UpsertAssignment", func() error {
			return s.UpsertAssignment(ctx, scope, &models.PhaseAssignment{UserID: 3, Phase: "build", CanEdit: true})
		}},
		{"DeleteAssignment", func() error { return s.DeleteAssignment(ctx, scope, 3, "build") }},
		{"PhaseLeads", func() error { _, err := s.PhaseLeads(ctx, scope, "build"); return err }},
		{"CreateWorkItem", func() error {
			return s.CreateWorkItem(ctx, scope, &models.WorkItem{Type: phase.TypeBug, Phase: "triage", Name: "Crash", CreatedBy: 1})
		}},
		{"GetWorkItem", func() error { _, err := s.GetWorkItem(ctx, scope, 5); return err }},
		{"ListWorkItems", func() error {
			_, err := s.ListWorkItems(ctx, scope, WorkItemFilter{Type: phase.TypeBug, Phase: "triage", Limit: 10})
			return err
		}},
		{"UpdateWorkItemFields", func() error {
			return s.UpdateWorkItemFields(ctx, scope, 5, "triage", map[string]interface{}{
				ColumnName:    "Renamed",
				ColumnDetails: map[string]interface{}{"severity": "high"},
			})
		}},
		{"DeleteWorkItem", func() error { return s.DeleteWorkItem(ctx, scope, 5, "triage") }},
		{"FindSuccessorVersion", func() error { _, err := s.FindSuccessorVersion(ctx, scope, 5); return err }},
		{"TransitionWorkItem", func() error {
			return s.TransitionWorkItem(ctx, scope, Transition{WorkItemID: 5, From: "triage", FromReview: phase.ReviewNone, To: "investigating", ActorID: 1, At: now})
		}},
		{"UpdateReview", func() error {
			return s.UpdateReview(ctx, scope, ReviewUpdate{WorkItemID: 5, ExpectPhase: "refine", ExpectStatus: phase.ReviewNone, Enabled: true, Status: phase.ReviewPending, RequestedAt: &now})
		}},
		{"ListHistory", func() error { _, err := s.ListHistory(ctx, scope, 5); return err }},
		{"MarkReviewReminded", func() error { return s.MarkReviewReminded(ctx, scope, 5, now) }},
	}

	for _, tc := range teamLevel {
		t.Run(tc.name, func(t *testing.T) {
			_ = tc.call()
			statements := drain()
			require.NotEmpty(t, statements)
			for _, stmt := range statements {
				assert.Contains(t, stmt, "team_id", stmt)
			}
		})
	}
	for _, tc := range workspaceLevel {
		t.Run(tc.name, func(t *testing.T) {
			_ = tc.call()
			statements := drain()
			require.NotEmpty(t, statements)
			for _, stmt := range statements {
				assert.Contains(t, stmt, "team_id", stmt)
				assert.True(t,
					strings.Contains(stmt, "workspace_id") || strings.Contains(stmt, `"workspaces"."id"`) || strings.Contains(stmt, "AND id = "),
					"statement lacks workspace filter: %s", stmt)
			}
		})
	}
}

func TestMissingTenantBuildsNoStatement(t *testing.T) {
	s, drain := recordingStore(t)
	ctx := context.Background()

	for _, scope := range []Scope{{}, {TeamID: 1}, {WorkspaceID: 1}} {
		_, err := s.GetWorkItem(ctx, scope, 1)
		assert.ErrorIs(t, err, ErrMissingTenant)
		assert.ErrorIs(t, s.TransitionWorkItem(ctx, scope, Transition{WorkItemID: 1}), ErrMissingTenant)
		_, err = s.ListAssignmentsForUser(ctx, scope, 1)
		assert.ErrorIs(t, err, ErrMissingTenant)
	}
	_, err := s.ListMembers(ctx, 0)
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.Empty(t, drain())
}

func TestTransitionIsConditionalUpdate(t *testing.T) {
	s, drain := recordingStore(t)
	err := s.TransitionWorkItem(context.Background(), Scope{TeamID: 1, WorkspaceID: 2}, Transition{
		WorkItemID: 3, From: "design", FromReview: phase.ReviewApproved, To: "build", ActorID: 4, At: time.Now(),
	})
	// nothing is written in dry run, so the compare-and-set reports a conflict
	assert.ErrorIs(t, err, ErrConflict)

	statements := drain()
	require.Len(t, statements, 1)
	stmt := statements[0]
	assert.True(t, strings.HasPrefix(stmt, "UPDATE"))
	assert.Contains(t, stmt, "phase = ")
	assert.Contains(t, stmt, "review_status = ")
	assert.Contains(t, stmt, "review_enabled = ")
}

func TestReviewUpdateExpectsGateFlag(t *testing.T) {
	s, drain := recordingStore(t)
	now := time.Now()
	err := s.UpdateReview(context.Background(), Scope{TeamID: 1, WorkspaceID: 2}, ReviewUpdate{
		WorkItemID: 3, ExpectPhase: "refine", ExpectStatus: phase.ReviewNone, ExpectEnabled: true,
		Enabled: true, Status: phase.ReviewPending, RequestedAt: &now,
	})
	assert.ErrorIs(t, err, ErrConflict)

	statements := drain()
	require.Len(t, statements, 1)
	where := statements[0][strings.Index(statements[0], "WHERE"):]
	assert.Contains(t, where, "review_enabled = ")
	assert.Contains(t, where, "review_status = ")
}

func TestStaleReviewsOnlyFromLiveWorkspaces(t *testing.T) {
	s, drain := recordingStore(t)
	_, _ = s.ListStaleReviews(context.Background(), 7, time.Now())

	// the subquery may be captured on its own as well; the outer statement is last
	statements := drain()
	require.NotEmpty(t, statements)
	outer := statements[len(statements)-1]
	assert.Contains(t, outer, `FROM "work_items"`)
	assert.Contains(t, outer, `FROM "workspaces"`)
	assert.Contains(t, outer, `"workspaces"."deleted_at" IS NULL`)
}
