package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"productflow/models"
	"productflow/phase"
)

// MemoryStore keeps everything in process. It mirrors GormStore semantics,
// compare-and-set included, and backs tests and local runs without
// Postgres.
type MemoryStore struct {
	mu sync.Mutex

	nextID      uint
	users       map[uint]*models.User
	teams       map[uint]*models.Team
	members     map[memberKey]*models.TeamMember
	workspaces  map[uint]*models.Workspace
	assignments map[assignmentKey]*models.PhaseAssignment
	items       map[uint]*models.WorkItem
	history     []models.PhaseHistory

	now func() time.Time
}

type memberKey struct{ team, user uint }

type assignmentKey struct {
	workspace, user uint
	phase           phase.Phase
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uint]*models.User),
		teams:       make(map[uint]*models.Team),
		members:     make(map[memberKey]*models.TeamMember),
		workspaces:  make(map[uint]*models.Workspace),
		assignments: make(map[assignmentKey]*models.PhaseAssignment),
		items:       make(map[uint]*models.WorkItem),
		now:         time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) stamp(model *gorm.Model) {
	now := m.now()
	model.ID = m.id()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
}

func copyItem(item *models.WorkItem) models.WorkItem {
	out := *item
	if item.Details != nil {
		out.Details = make(map[string]interface{}, len(item.Details))
		for k, v := range item.Details {
			out.Details[k] = v
		}
	}
	out.History = nil
	return out
}

// Users

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicate
		}
	}
	m.stamp(&user.Model)
	if !user.IsActive {
		user.IsActive = true
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) BumpTokenVersion(_ context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TokenVersion++
	return nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, userID uint, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// Teams and memberships

func (m *MemoryStore) CreateTeam(_ context.Context, team *models.Team, ownerID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&team.Model)
	cp := *team
	cp.Members, cp.Workspaces = nil, nil
	m.teams[team.ID] = &cp

	owner := &models.TeamMember{TeamID: team.ID, UserID: ownerID, Role: phase.RoleOwner}
	m.stamp(&owner.Model)
	m.members[memberKey{team.ID, ownerID}] = owner
	return nil
}

func (m *MemoryStore) GetTeam(_ context.Context, teamID uint) (*models.Team, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTeamsForUser(_ context.Context, userID uint) ([]models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Team
	for key := range m.members {
		if key.user != userID {
			continue
		}
		if t, ok := m.teams[key.team]; ok {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListTeamIDs(_ context.Context) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.teams))
	for id := range m.teams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) GetMembership(_ context.Context, teamID, userID uint) (*models.TeamMember, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey{teamID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *MemoryStore) ListMembers(_ context.Context, teamID uint) ([]models.TeamMember, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TeamMember
	for key, mem := range m.members {
		if key.team != teamID {
			continue
		}
		cp := *mem
		if u, ok := m.users[key.user]; ok {
			cp.User = *u
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AddMember(_ context.Context, member *models.TeamMember) error {
	if member.TeamID == 0 {
		return ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{member.TeamID, member.UserID}
	if _, exists := m.members[key]; exists {
		return ErrDuplicate
	}
	m.stamp(&member.Model)
	cp := *member
	m.members[key] = &cp
	return nil
}

func (m *MemoryStore) UpdateMemberRole(_ context.Context, teamID, userID uint, role phase.Role) error {
	if teamID == 0 {
		return ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey{teamID, userID}]
	if !ok {
		return ErrNotFound
	}
	mem.Role = role
	mem.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) RemoveMember(_ context.Context, teamID, userID uint) error {
	if teamID == 0 {
		return ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{teamID, userID}
	if _, ok := m.members[key]; !ok {
		return ErrNotFound
	}
	delete(m.members, key)
	for k, a := range m.assignments {
		if a.TeamID == teamID && a.UserID == userID {
			delete(m.assignments, k)
		}
	}
	return nil
}

func (m *MemoryStore) TeamAdmins(_ context.Context, teamID uint) ([]models.User, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for key, mem := range m.members {
		if key.team != teamID || !mem.Role.IsAdmin() {
			continue
		}
		if u, ok := m.users[key.user]; ok {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Workspaces

func (m *MemoryStore) CreateWorkspace(_ context.Context, ws *models.Workspace) error {
	if ws.TeamID == 0 {
		return ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&ws.Model)
	cp := *ws
	cp.EnabledTypes = append([]phase.WorkItemType(nil), ws.EnabledTypes...)
	m.workspaces[ws.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWorkspace(_ context.Context, scope Scope) (*models.Workspace, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[scope.WorkspaceID]
	if !ok || ws.TeamID != scope.TeamID {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (m *MemoryStore) ListWorkspaces(_ context.Context, teamID uint) ([]models.Workspace, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Workspace
	for _, ws := range m.workspaces {
		if ws.TeamID == teamID {
			out = append(out, *ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteWorkspace(_ context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[scope.WorkspaceID]
	if !ok || ws.TeamID != scope.TeamID {
		return ErrNotFound
	}
	delete(m.workspaces, scope.WorkspaceID)
	for k, a := range m.assignments {
		if a.TeamID == scope.TeamID && a.WorkspaceID == scope.WorkspaceID {
			delete(m.assignments, k)
		}
	}
	return nil
}

// Assignments

func (m *MemoryStore) listAssignments(scope Scope, match func(*models.PhaseAssignment) bool) []models.PhaseAssignment {
	var out []models.PhaseAssignment
	for _, a := range m.assignments {
		if a.TeamID == scope.TeamID && a.WorkspaceID == scope.WorkspaceID && match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Phase < out[j].Phase
	})
	return out
}

func (m *MemoryStore) ListAssignments(_ context.Context, scope Scope) ([]models.PhaseAssignment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAssignments(scope, func(*models.PhaseAssignment) bool { return true }), nil
}

func (m *MemoryStore) ListAssignmentsForUser(_ context.Context, scope Scope, userID uint) ([]models.PhaseAssignment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAssignments(scope, func(a *models.PhaseAssignment) bool { return a.UserID == userID }), nil
}

func (m *MemoryStore) UpsertAssignment(_ context.Context, scope Scope, a *models.PhaseAssignment) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.TeamID = scope.TeamID
	a.WorkspaceID = scope.WorkspaceID
	a.UpdatedAt = m.now()
	key := assignmentKey{scope.WorkspaceID, a.UserID, a.Phase}
	if existing, ok := m.assignments[key]; ok {
		a.ID = existing.ID
	} else {
		a.ID = m.id()
	}
	cp := *a
	m.assignments[key] = &cp
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, scope Scope, userID uint, p phase.Phase) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{scope.WorkspaceID, userID, p}
	a, ok := m.assignments[key]
	if !ok || a.TeamID != scope.TeamID {
		return ErrNotFound
	}
	delete(m.assignments, key)
	return nil
}

func (m *MemoryStore) PhaseLeads(_ context.Context, scope Scope, p phase.Phase) ([]models.User, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, a := range m.listAssignments(scope, func(a *models.PhaseAssignment) bool { return a.Phase == p && a.IsLead }) {
		if u, ok := m.users[a.UserID]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

// Work items

func (m *MemoryStore) CreateWorkItem(_ context.Context, scope Scope, item *models.WorkItem) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.TeamID = scope.TeamID
	item.WorkspaceID = scope.WorkspaceID
	if item.ReviewStatus == "" {
		item.ReviewStatus = phase.ReviewNone
	}
	if item.Version == 0 {
		item.Version = 1
	}
	m.stamp(&item.Model)
	cp := copyItem(item)
	m.items[item.ID] = &cp
	m.history = append(m.history, models.PhaseHistory{
		ID:          m.id(),
		TeamID:      scope.TeamID,
		WorkspaceID: scope.WorkspaceID,
		WorkItemID:  item.ID,
		Phase:       item.Phase,
		EnteredAt:   item.CreatedAt,
		EnteredBy:   item.CreatedBy,
	})
	return nil
}

func (m *MemoryStore) scopedItem(scope Scope, id uint) (*models.WorkItem, bool) {
	item, ok := m.items[id]
	if !ok || item.TeamID != scope.TeamID || item.WorkspaceID != scope.WorkspaceID {
		return nil, false
	}
	return item, true
}

func (m *MemoryStore) GetWorkItem(_ context.Context, scope Scope, id uint) (*models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, id)
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyItem(item)
	return &cp, nil
}

func (m *MemoryStore) ListWorkItems(_ context.Context, scope Scope, filter WorkItemFilter) ([]models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkItem
	for _, item := range m.items {
		if item.TeamID != scope.TeamID || item.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.Phase != "" && item.Phase != filter.Phase {
			continue
		}
		if filter.ReviewStatus != "" && item.ReviewStatus != filter.ReviewStatus {
			continue
		}
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateWorkItemFields(_ context.Context, scope Scope, id uint, expectPhase phase.Phase, fields map[string]interface{}) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := checkColumns(fields); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, id)
	if !ok || item.Phase != expectPhase {
		return ErrConflict
	}
	for k, v := range fields {
		switch k {
		case ColumnName:
			item.Name, _ = v.(string)
		case ColumnDescription:
			item.Description, _ = v.(string)
		case ColumnPriority:
			item.Priority, _ = v.(string)
		case ColumnPlannedStartDate:
			item.PlannedStartDate, _ = v.(*time.Time)
		case ColumnPlannedEndDate:
			item.PlannedEndDate, _ = v.(*time.Time)
		case ColumnDetails:
			item.Details, _ = v.(map[string]interface{})
		}
	}
	item.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteWorkItem(_ context.Context, scope Scope, id uint, expectPhase phase.Phase) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, id)
	if !ok || item.Phase != expectPhase {
		return ErrConflict
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) FindSuccessorVersion(_ context.Context, scope Scope, parentID uint) (*models.WorkItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.TeamID == scope.TeamID && item.WorkspaceID == scope.WorkspaceID &&
			item.EnhancesWorkItemID != nil && *item.EnhancesWorkItemID == parentID {
			cp := copyItem(item)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) TransitionWorkItem(_ context.Context, scope Scope, t Transition) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, t.WorkItemID)
	if !ok || item.Phase != t.From || item.ReviewStatus != t.FromReview || item.ReviewEnabled != t.FromEnabled {
		return ErrConflict
	}
	item.Phase = t.To
	item.UpdatedAt = t.At
	m.history = append(m.history, models.PhaseHistory{
		ID:          m.id(),
		TeamID:      scope.TeamID,
		WorkspaceID: scope.WorkspaceID,
		WorkItemID:  t.WorkItemID,
		Phase:       t.To,
		EnteredAt:   t.At,
		EnteredBy:   t.ActorID,
	})
	return nil
}

func (m *MemoryStore) UpdateReview(_ context.Context, scope Scope, u ReviewUpdate) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, u.WorkItemID)
	if !ok || item.Phase != u.ExpectPhase || item.ReviewStatus != u.ExpectStatus || item.ReviewEnabled != u.ExpectEnabled {
		return ErrConflict
	}
	item.ReviewEnabled = u.Enabled
	item.ReviewStatus = u.Status
	item.ReviewReason = u.Reason
	item.ReviewRequestedAt = u.RequestedAt
	item.ReviewDecidedAt = u.DecidedAt
	item.ReviewDecidedBy = u.DecidedBy
	item.ReviewRemindedAt = nil
	item.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, scope Scope, workItemID uint) ([]models.PhaseHistory, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PhaseHistory
	for _, h := range m.history {
		if h.TeamID == scope.TeamID && h.WorkspaceID == scope.WorkspaceID && h.WorkItemID == workItemID {
			out = append(out, h)
		}
	}
	return out, nil
}

// Review reminders

func (m *MemoryStore) ListStaleReviews(_ context.Context, teamID uint, cutoff time.Time) ([]models.WorkItem, error) {
	if teamID == 0 {
		return nil, ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkItem
	for _, item := range m.items {
		if item.TeamID != teamID || !item.ReviewEnabled || item.ReviewStatus != phase.ReviewPending {
			continue
		}
		if _, ok := m.workspaces[item.WorkspaceID]; !ok {
			continue
		}
		if item.ReviewRequestedAt == nil || item.ReviewRequestedAt.After(cutoff) {
			continue
		}
		if item.ReviewRemindedAt != nil && item.ReviewRemindedAt.After(cutoff) {
			continue
		}
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewRequestedAt.Before(*out[j].ReviewRequestedAt) })
	return out, nil
}

func (m *MemoryStore) MarkReviewReminded(_ context.Context, scope Scope, id uint, at time.Time) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.scopedItem(scope, id)
	if !ok {
		return ErrNotFound
	}
	reminded := at
	item.ReviewRemindedAt = &reminded
	return nil
}
