// Package store persists teams, workspaces, work items and phase
// assignments. Every tenant-owned row is read and written through a Scope;
// a call without a team id (and workspace id where the row has one) fails
// with ErrMissingTenant before any query is issued.
package store

import (
	"context"
	"errors"
	"time"

	"productflow/models"
	"productflow/phase"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record was modified concurrently")
	ErrMissingTenant = errors.New("tenant scope is required")
	ErrDuplicate     = errors.New("record already exists")
)

// Scope identifies the tenant a call operates on.
type Scope struct {
	TeamID      uint
	WorkspaceID uint
}

// Team validates the team part of the scope only.
func (s Scope) Team() error {
	if s.TeamID == 0 {
		return ErrMissingTenant
	}
	return nil
}

// Validate requires both the team and the workspace.
func (s Scope) Validate() error {
	if s.TeamID == 0 || s.WorkspaceID == 0 {
		return ErrMissingTenant
	}
	return nil
}

// WorkItemFilter narrows ListWorkItems. Zero values match everything.
type WorkItemFilter struct {
	Type         phase.WorkItemType
	Phase        phase.Phase
	ReviewStatus phase.ReviewStatus
	Limit        int
	Offset       int
}

// Transition moves a work item from one phase to the next. The write only
// lands when the row still holds From and FromReview.
type Transition struct {
	WorkItemID uint
	From       phase.Phase
	FromReview phase.ReviewStatus
	// FromEnabled is the review_enabled flag the guard read.
	FromEnabled bool
	To         phase.Phase
	ActorID    uint
	At         time.Time
}

// ReviewUpdate replaces the review gate state of a work item. The write only
// lands when the row still holds ExpectPhase, ExpectStatus and ExpectEnabled.
type ReviewUpdate struct {
	WorkItemID    uint
	ExpectPhase   phase.Phase
	ExpectStatus  phase.ReviewStatus
	ExpectEnabled bool

	Enabled     bool
	Status      phase.ReviewStatus
	Reason      string
	RequestedAt *time.Time
	DecidedAt   *time.Time
	DecidedBy   *uint
}

// Editable work item columns accepted by UpdateWorkItemFields.
const (
	ColumnName             = "name"
	ColumnDescription      = "description"
	ColumnPriority         = "priority"
	ColumnPlannedStartDate = "planned_start_date"
	ColumnPlannedEndDate   = "planned_end_date"
	ColumnDetails          = "details"
)

// Store is the persistence boundary of the service.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uint) (*models.User, error)
	BumpTokenVersion(ctx context.Context, userID uint) error
	UpdatePassword(ctx context.Context, userID uint, hash string) error

	CreateTeam(ctx context.Context, team *models.Team, ownerID uint) error
	GetTeam(ctx context.Context, teamID uint) (*models.Team, error)
	ListTeamsForUser(ctx context.Context, userID uint) ([]models.Team, error)
	ListTeamIDs(ctx context.Context) ([]uint, error)

	GetMembership(ctx context.Context, teamID, userID uint) (*models.TeamMember, error)
	ListMembers(ctx context.Context, teamID uint) ([]models.TeamMember, error)
	AddMember(ctx context.Context, member *models.TeamMember) error
	UpdateMemberRole(ctx context.Context, teamID, userID uint, role phase.Role) error
	RemoveMember(ctx context.Context, teamID, userID uint) error
	TeamAdmins(ctx context.Context, teamID uint) ([]models.User, error)

	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, scope Scope) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context, teamID uint) ([]models.Workspace, error)
	DeleteWorkspace(ctx context.Context, scope Scope) error

	ListAssignments(ctx context.Context, scope Scope) ([]models.PhaseAssignment, error)
	ListAssignmentsForUser(ctx context.Context, scope Scope, userID uint) ([]models.PhaseAssignment, error)
	UpsertAssignment(ctx context.Context, scope Scope, a *models.PhaseAssignment) error
	DeleteAssignment(ctx context.Context, scope Scope, userID uint, p phase.Phase) error
	PhaseLeads(ctx context.Context, scope Scope, p phase.Phase) ([]models.User, error)

	CreateWorkItem(ctx context.Context, scope Scope, item *models.WorkItem) error
	GetWorkItem(ctx context.Context, scope Scope, id uint) (*models.WorkItem, error)
	ListWorkItems(ctx context.Context, scope Scope, filter WorkItemFilter) ([]models.WorkItem, error)
	UpdateWorkItemFields(ctx context.Context, scope Scope, id uint, expectPhase phase.Phase, fields map[string]interface{}) error
	DeleteWorkItem(ctx context.Context, scope Scope, id uint, expectPhase phase.Phase) error
	FindSuccessorVersion(ctx context.Context, scope Scope, parentID uint) (*models.WorkItem, error)
	TransitionWorkItem(ctx context.Context, scope Scope, t Transition) error
	UpdateReview(ctx context.Context, scope Scope, u ReviewUpdate) error
	ListHistory(ctx context.Context, scope Scope, workItemID uint) ([]models.PhaseHistory, error)

	ListStaleReviews(ctx context.Context, teamID uint, cutoff time.Time) ([]models.WorkItem, error)
	MarkReviewReminded(ctx context.Context, scope Scope, id uint, at time.Time) error
}

var editableColumns = map[string]bool{
	ColumnName:             true,
	ColumnDescription:      true,
	ColumnPriority:         true,
	ColumnPlannedStartDate: true,
	ColumnPlannedEndDate:   true,
	ColumnDetails:          true,
}

func checkColumns(fields map[string]interface{}) error {
	for k := range fields {
		if !editableColumns[k] {
			return errors.New("store: column " + k + " is not updatable")
		}
	}
	return nil
}
