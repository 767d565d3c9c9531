package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"productflow/models"
	"productflow/phase"
)

// GormStore is the Postgres backed Store.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

var _ Store = (*GormStore)(nil)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// scoped applies the tenant filter every workspace-level query carries.
func scoped(db *gorm.DB, scope Scope) *gorm.DB {
	return db.Where("team_id = ? AND workspace_id = ?", scope.TeamID, scope.WorkspaceID)
}

// Users

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.DB.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) BumpTokenVersion(ctx context.Context, userID uint) error {
	result := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdatePassword(ctx context.Context, userID uint, hash string) error {
	result := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Teams and memberships

func (s *GormStore) CreateTeam(ctx context.Context, team *models.Team, ownerID uint) error {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if err := tx.Create(team).Error; err != nil {
		tx.Rollback()
		return translate(err)
	}
	owner := models.TeamMember{TeamID: team.ID, UserID: ownerID, Role: phase.RoleOwner}
	if err := tx.Create(&owner).Error; err != nil {
		tx.Rollback()
		return translate(err)
	}
	return tx.Commit().Error
}

func (s *GormStore) GetTeam(ctx context.Context, teamID uint) (*models.Team, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	var team models.Team
	if err := s.DB.WithContext(ctx).Where("id = ?", teamID).First(&team).Error; err != nil {
		return nil, translate(err)
	}
	return &team, nil
}

func (s *GormStore) ListTeamsForUser(ctx context.Context, userID uint) ([]models.Team, error) {
	var teams []models.Team
	err := s.DB.WithContext(ctx).
		Joins("JOIN team_members ON team_members.team_id = teams.id AND team_members.deleted_at IS NULL").
		Where("team_members.user_id = ?", userID).
		Order("teams.id").
		Find(&teams).Error
	return teams, err
}

func (s *GormStore) ListTeamIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.Team{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *GormStore) GetMembership(ctx context.Context, teamID, userID uint) (*models.TeamMember, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	var member models.TeamMember
	err := s.DB.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		First(&member).Error
	if err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

func (s *GormStore) ListMembers(ctx context.Context, teamID uint) ([]models.TeamMember, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	var members []models.TeamMember
	err := s.DB.WithContext(ctx).
		Preload("User").
		Where("team_id = ?", teamID).
		Order("id").
		Find(&members).Error
	return members, err
}

func (s *GormStore) AddMember(ctx context.Context, member *models.TeamMember) error {
	if member.TeamID == 0 {
		return ErrMissingTenant
	}
	return translate(s.DB.WithContext(ctx).Create(member).Error)
}

func (s *GormStore) UpdateMemberRole(ctx context.Context, teamID, userID uint, role phase.Role) error {
	if teamID == 0 {
		return ErrMissingTenant
	}
	result := s.DB.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Update("role", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMember deletes the membership and every phase assignment the user
// holds in the team.
func (s *GormStore) RemoveMember(ctx context.Context, teamID, userID uint) error {
	if teamID == 0 {
		return ErrMissingTenant
	}
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	result := tx.Unscoped().Where("team_id = ? AND user_id = ?", teamID, userID).Delete(&models.TeamMember{})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	if err := tx.Where("team_id = ? AND user_id = ?", teamID, userID).Delete(&models.PhaseAssignment{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (s *GormStore) TeamAdmins(ctx context.Context, teamID uint) ([]models.User, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	var users []models.User
	err := s.DB.WithContext(ctx).
		Joins("JOIN team_members ON team_members.user_id = users.id AND team_members.deleted_at IS NULL").
		Where("team_members.team_id = ? AND team_members.role IN ?", teamID, []phase.Role{phase.RoleOwner, phase.RoleAdmin}).
		Order("users.id").
		Find(&users).Error
	return users, err
}

// Workspaces

func (s *GormStore) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.TeamID == 0 {
		return ErrMissingTenant
	}
	return translate(s.DB.WithContext(ctx).Create(ws).Error)
}

func (s *GormStore) GetWorkspace(ctx context.Context, scope Scope) (*models.Workspace, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var ws models.Workspace
	err := s.DB.WithContext(ctx).
		Where("team_id = ? AND id = ?", scope.TeamID, scope.WorkspaceID).
		First(&ws).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ws, nil
}

func (s *GormStore) ListWorkspaces(ctx context.Context, teamID uint) ([]models.Workspace, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	var list []models.Workspace
	err := s.DB.WithContext(ctx).Where("team_id = ?", teamID).Order("id").Find(&list).Error
	return list, err
}

// DeleteWorkspace soft-deletes the workspace and drops its assignments.
// Work items stay in place.
func (s *GormStore) DeleteWorkspace(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	result := tx.Where("team_id = ? AND id = ?", scope.TeamID, scope.WorkspaceID).Delete(&models.Workspace{})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	if err := scoped(tx, scope).Delete(&models.PhaseAssignment{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// Assignments

func (s *GormStore) ListAssignments(ctx context.Context, scope Scope) ([]models.PhaseAssignment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var rows []models.PhaseAssignment
	err := scoped(s.DB.WithContext(ctx), scope).Order("user_id, phase").Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListAssignmentsForUser(ctx context.Context, scope Scope, userID uint) ([]models.PhaseAssignment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var rows []models.PhaseAssignment
	err := scoped(s.DB.WithContext(ctx), scope).
		Where("user_id = ?", userID).
		Order("phase").
		Find(&rows).Error
	return rows, err
}

// UpsertAssignment inserts or replaces the (user, workspace, phase) grant.
func (s *GormStore) UpsertAssignment(ctx context.Context, scope Scope, a *models.PhaseAssignment) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	a.TeamID = scope.TeamID
	a.WorkspaceID = scope.WorkspaceID
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "workspace_id"}, {Name: "phase"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "phase_assignments", Name: "team_id"}, Value: scope.TeamID},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"can_edit", "is_lead", "assigned_by", "assigned_at", "updated_at"}),
	}).Create(a).Error
}

func (s *GormStore) DeleteAssignment(ctx context.Context, scope Scope, userID uint, p phase.Phase) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	result := scoped(s.DB.WithContext(ctx), scope).
		Where("user_id = ? AND phase = ?", userID, p).
		Delete(&models.PhaseAssignment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) PhaseLeads(ctx context.Context, scope Scope, p phase.Phase) ([]models.User, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var users []models.User
	err := s.DB.WithContext(ctx).
		Joins("JOIN phase_assignments ON phase_assignments.user_id = users.id").
		Where("phase_assignments.team_id = ? AND phase_assignments.workspace_id = ?", scope.TeamID, scope.WorkspaceID).
		Where("phase_assignments.phase = ? AND phase_assignments.is_lead = ?", p, true).
		Order("users.id").
		Find(&users).Error
	return users, err
}

// Work items

// CreateWorkItem stores the item and its first history entry together.
func (s *GormStore) CreateWorkItem(ctx context.Context, scope Scope, item *models.WorkItem) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	item.TeamID = scope.TeamID
	item.WorkspaceID = scope.WorkspaceID

	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := tx.Create(item).Error; err != nil {
		tx.Rollback()
		return translate(err)
	}
	entry := models.PhaseHistory{
		TeamID:      scope.TeamID,
		WorkspaceID: scope.WorkspaceID,
		WorkItemID:  item.ID,
		Phase:       item.Phase,
		EnteredAt:   item.CreatedAt,
		EnteredBy:   item.CreatedBy,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (s *GormStore) GetWorkItem(ctx context.Context, scope Scope, id uint) (*models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var item models.WorkItem
	if err := scoped(s.DB.WithContext(ctx), scope).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (s *GormStore) ListWorkItems(ctx context.Context, scope Scope, filter WorkItemFilter) ([]models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	q := scoped(s.DB.WithContext(ctx), scope)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Phase != "" {
		q = q.Where("phase = ?", filter.Phase)
	}
	if filter.ReviewStatus != "" {
		q = q.Where("review_status = ?", filter.ReviewStatus)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var items []models.WorkItem
	err := q.Order("id").Find(&items).Error
	return items, err
}

func (s *GormStore) UpdateWorkItemFields(ctx context.Context, scope Scope, id uint, expectPhase phase.Phase, fields map[string]interface{}) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := checkColumns(fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	updates := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		updates[k] = v
	}
	if details, ok := fields[ColumnDetails]; ok {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding details: %w", err)
		}
		updates[ColumnDetails] = gorm.Expr("CAST(? AS jsonb)", string(raw))
	}
	result := scoped(s.DB.WithContext(ctx).Model(&models.WorkItem{}), scope).
		Where("id = ? AND phase = ?", id, expectPhase).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) DeleteWorkItem(ctx context.Context, scope Scope, id uint, expectPhase phase.Phase) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	result := scoped(s.DB.WithContext(ctx), scope).
		Where("id = ? AND phase = ?", id, expectPhase).
		Delete(&models.WorkItem{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) FindSuccessorVersion(ctx context.Context, scope Scope, parentID uint) (*models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var item models.WorkItem
	err := scoped(s.DB.WithContext(ctx), scope).
		Where("enhances_work_item_id = ?", parentID).
		First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// TransitionWorkItem sets the new phase with a conditional UPDATE and appends
// the history entry in the same transaction. A row that no longer holds the
// phase and review gate state the guard saw yields ErrConflict.
func (s *GormStore) TransitionWorkItem(ctx context.Context, scope Scope, t Transition) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	result := scoped(tx.Model(&models.WorkItem{}), scope).
		Where("id = ? AND phase = ? AND review_status = ? AND review_enabled = ?", t.WorkItemID, t.From, t.FromReview, t.FromEnabled).
		Updates(map[string]interface{}{"phase": t.To, "updated_at": t.At})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrConflict
	}

	entry := models.PhaseHistory{
		TeamID:      scope.TeamID,
		WorkspaceID: scope.WorkspaceID,
		WorkItemID:  t.WorkItemID,
		Phase:       t.To,
		EnteredAt:   t.At,
		EnteredBy:   t.ActorID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("appending phase history: %w", err)
	}
	return tx.Commit().Error
}

func (s *GormStore) UpdateReview(ctx context.Context, scope Scope, u ReviewUpdate) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	result := scoped(s.DB.WithContext(ctx).Model(&models.WorkItem{}), scope).
		Where("id = ? AND phase = ? AND review_status = ? AND review_enabled = ?", u.WorkItemID, u.ExpectPhase, u.ExpectStatus, u.ExpectEnabled).
		Updates(map[string]interface{}{
			"review_enabled":      u.Enabled,
			"review_status":       u.Status,
			"review_reason":       u.Reason,
			"review_requested_at": u.RequestedAt,
			"review_decided_at":   u.DecidedAt,
			"review_decided_by":   u.DecidedBy,
			"review_reminded_at":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) ListHistory(ctx context.Context, scope Scope, workItemID uint) ([]models.PhaseHistory, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var rows []models.PhaseHistory
	err := scoped(s.DB.WithContext(ctx), scope).
		Where("work_item_id = ?", workItemID).
		Order("entered_at, id").
		Find(&rows).Error
	return rows, err
}

// Review reminders

// ListStaleReviews returns pending reviews requested before cutoff that have
// not been reminded since cutoff. Items of deleted workspaces are skipped.
func (s *GormStore) ListStaleReviews(ctx context.Context, teamID uint, cutoff time.Time) ([]models.WorkItem, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	db := s.DB.WithContext(ctx)
	live := db.Model(&models.Workspace{}).Select("id").Where("team_id = ?", teamID)
	var items []models.WorkItem
	err := db.
		Where("team_id = ? AND review_enabled = ? AND review_status = ?", teamID, true, phase.ReviewPending).
		Where("workspace_id IN (?)", live).
		Where("review_requested_at <= ?", cutoff).
		Where("review_reminded_at IS NULL OR review_reminded_at <= ?", cutoff).
		Order("review_requested_at").
		Find(&items).Error
	return items, err
}

func (s *GormStore) MarkReviewReminded(ctx context.Context, scope Scope, id uint, at time.Time) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return scoped(s.DB.WithContext(ctx).Model(&models.WorkItem{}), scope).
		Where("id = ?", id).
		UpdateColumn("review_reminded_at", at).Error
}
