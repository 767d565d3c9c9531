package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"productflow/models"
	"productflow/phase"
	"productflow/realtime"
	"productflow/store"
	"productflow/telemetry"
)

// CreateWorkItemInput carries the fields of a new work item. Details keys
// are catalog field identifiers.
type CreateWorkItemInput struct {
	Type               phase.WorkItemType
	Name               string
	Description        string
	Priority           string
	PlannedStartDate   *time.Time
	PlannedEndDate     *time.Time
	Details            map[string]interface{}
	ReviewEnabled      bool
	EnhancesWorkItemID *uint
}

// fields lists the catalog fields the input writes.
func (in CreateWorkItemInput) fields() []string {
	fields := []string{store.ColumnName}
	if in.Description != "" {
		fields = append(fields, store.ColumnDescription)
	}
	if in.Priority != "" {
		fields = append(fields, store.ColumnPriority)
	}
	if in.PlannedStartDate != nil {
		fields = append(fields, store.ColumnPlannedStartDate)
	}
	if in.PlannedEndDate != nil {
		fields = append(fields, store.ColumnPlannedEndDate)
	}
	return append(fields, detailKeys(in.Details)...)
}

// UpdateWorkItemInput carries a partial update; nil fields are untouched and
// a nil Details value removes that key.
type UpdateWorkItemInput struct {
	Name             *string
	Description      *string
	Priority         *string
	PlannedStartDate *time.Time
	PlannedEndDate   *time.Time
	Details          map[string]interface{}
}

func (in UpdateWorkItemInput) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if in.Name != nil {
		cols[store.ColumnName] = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		cols[store.ColumnDescription] = *in.Description
	}
	if in.Priority != nil {
		cols[store.ColumnPriority] = *in.Priority
	}
	if in.PlannedStartDate != nil {
		cols[store.ColumnPlannedStartDate] = in.PlannedStartDate
	}
	if in.PlannedEndDate != nil {
		cols[store.ColumnPlannedEndDate] = in.PlannedEndDate
	}
	return cols
}

func detailKeys(details map[string]interface{}) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReviewView is the review gate state of a work item.
type ReviewView struct {
	Enabled     bool               `json:"enabled"`
	Status      phase.ReviewStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	RequestedAt *time.Time         `json:"requested_at,omitempty"`
	DecidedAt   *time.Time         `json:"decided_at,omitempty"`
	DecidedBy   *uint              `json:"decided_by,omitempty"`
}

// WorkItemView is a work item as one actor sees it: only the fields visible
// in its phase, plus what the actor may do there.
type WorkItemView struct {
	ID                 uint                   `json:"id"`
	WorkspaceID        uint                   `json:"workspace_id"`
	Type               phase.WorkItemType     `json:"type"`
	Phase              phase.Phase            `json:"phase"`
	Terminal           bool                   `json:"terminal"`
	NextPhases         []phase.Phase          `json:"next_phases"`
	Timeline           phase.Bucket           `json:"timeline"`
	Version            int                    `json:"version"`
	EnhancesWorkItemID *uint                  `json:"enhances_work_item_id,omitempty"`
	Fields             map[string]interface{} `json:"fields"`
	VisibleFields      []string               `json:"visible_fields"`
	EditableFields     []string               `json:"editable_fields"`
	Review             ReviewView             `json:"review"`
	Permission         phase.Permission       `json:"permission"`
	CreatedBy          uint                   `json:"created_by"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// WorkItemSummary is the actor-independent part of a work item carried by
// workspace events; subscribers fetch their own view for the rest.
type WorkItemSummary struct {
	ID                 uint               `json:"id"`
	Type               phase.WorkItemType `json:"type"`
	Phase              phase.Phase        `json:"phase"`
	Name               string             `json:"name"`
	Version            int                `json:"version"`
	EnhancesWorkItemID *uint              `json:"enhances_work_item_id,omitempty"`
	ReviewEnabled      bool               `json:"review_enabled"`
	ReviewStatus       phase.ReviewStatus `json:"review_status"`
	CreatedBy          uint               `json:"created_by"`
}

func summarize(item *models.WorkItem) WorkItemSummary {
	return WorkItemSummary{
		ID:                 item.ID,
		Type:               item.Type,
		Phase:              item.Phase,
		Name:               item.Name,
		Version:            item.Version,
		EnhancesWorkItemID: item.EnhancesWorkItemID,
		ReviewEnabled:      item.ReviewEnabled,
		ReviewStatus:       item.ReviewStatus,
		CreatedBy:          item.CreatedBy,
	}
}

func (l *Lifecycle) view(item *models.WorkItem, perms phase.PermissionSet) WorkItemView {
	p := phase.EffectivePhase(item.PhaseItem())
	perm := perms.For(p)

	values := make(map[string]interface{}, len(item.Details)+5)
	for k, v := range item.Details {
		values[k] = v
	}
	values[store.ColumnName] = item.Name
	values[store.ColumnDescription] = item.Description
	values[store.ColumnPriority] = item.Priority
	values[store.ColumnPlannedStartDate] = item.PlannedStartDate
	values[store.ColumnPlannedEndDate] = item.PlannedEndDate

	editable := []string{}
	if perm.CanEdit {
		editable = l.catalog.EditableFields(item.Type, p)
	}
	next := l.catalog.Successors(item.Type, p)
	if next == nil {
		next = []phase.Phase{}
	}

	return WorkItemView{
		ID:                 item.ID,
		WorkspaceID:        item.WorkspaceID,
		Type:               item.Type,
		Phase:              p,
		Terminal:           l.catalog.IsTerminal(item.Type, p),
		NextPhases:         next,
		Timeline:           phase.TimelineBucket(item.PlannedStartDate, item.PlannedEndDate, l.now()),
		Version:            item.Version,
		EnhancesWorkItemID: item.EnhancesWorkItemID,
		Fields:             l.catalog.FilterVisible(item.Type, p, values),
		VisibleFields:      l.catalog.VisibleFields(item.Type, p),
		EditableFields:     editable,
		Review: ReviewView{
			Enabled:     item.ReviewEnabled,
			Status:      item.ReviewStatus,
			Reason:      item.ReviewReason,
			RequestedAt: item.ReviewRequestedAt,
			DecidedAt:   item.ReviewDecidedAt,
			DecidedBy:   item.ReviewDecidedBy,
		},
		Permission: perm,
		CreatedBy:  item.CreatedBy,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

// CreateWorkItem creates an item in the first phase of its type. The actor
// needs edit permission on that phase and every field written must be
// editable there.
func (l *Lifecycle) CreateWorkItem(ctx context.Context, actorID uint, scope store.Scope, in CreateWorkItemInput) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.CreateWorkItem", actorID, scope)
	v, err := l.createWorkItem(ctx, actorID, scope, in)
	telemetry.End(span, err)
	return v, err
}

func (l *Lifecycle) createWorkItem(ctx context.Context, actorID uint, scope store.Scope, in CreateWorkItemInput) (*WorkItemView, error) {
	a, err := l.resolve(ctx, actorID, scope)
	if err != nil {
		return nil, err
	}
	if !l.catalog.Known(in.Type) {
		return nil, phase.Block(phase.ReasonUnknownType, "unknown work item type %q", in.Type)
	}
	if !a.workspace.Accepts(in.Type) {
		return nil, phase.Block(phase.ReasonUnknownType, "workspace %q does not accept %s items", a.workspace.Name, in.Type)
	}

	first := l.catalog.FirstPhase(in.Type)
	draft := phase.Item{Type: in.Type, Phase: first}
	if err := l.catalog.CheckFieldEdit(draft, in.fields(), a.perms).Err(); err != nil {
		return nil, err
	}

	item := &models.WorkItem{
		Type:             in.Type,
		Phase:            first,
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		Priority:         in.Priority,
		PlannedStartDate: in.PlannedStartDate,
		PlannedEndDate:   in.PlannedEndDate,
		Details:          in.Details,
		Version:          1,
		ReviewEnabled:    in.ReviewEnabled,
		ReviewStatus:     phase.ReviewNone,
		CreatedBy:        actorID,
	}
	if item.Priority == "" {
		item.Priority = "medium"
	}
	if in.EnhancesWorkItemID != nil {
		parent, err := l.checkVersionChain(ctx, scope, in.Type, *in.EnhancesWorkItemID)
		if err != nil {
			return nil, err
		}
		item.Version = parent.Version + 1
		item.EnhancesWorkItemID = &parent.ID
	}

	if err := l.store.CreateWorkItem(ctx, scope, item); err != nil {
		return nil, fmt.Errorf("creating work item: %w", err)
	}
	view := l.view(item, a.perms)
	l.event(realtime.EventWorkItemCreated, scope, actorID, item, summarize(item))
	return &view, nil
}

// checkVersionChain validates a new enhancement of parentID. Only
// enhancements extend a chain, the parent must be a feature or enhancement
// of the same workspace, and a parent has at most one successor. Since the
// parent exists before its successor, chains cannot form cycles.
func (l *Lifecycle) checkVersionChain(ctx context.Context, scope store.Scope, t phase.WorkItemType, parentID uint) (*models.WorkItem, error) {
	if t != phase.TypeEnhancement {
		return nil, phase.Block(phase.ReasonInvalidVersionChain, "only enhancements can extend another work item")
	}
	parent, err := l.store.GetWorkItem(ctx, scope, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, phase.Block(phase.ReasonInvalidVersionChain, "work item %d does not exist in this workspace", parentID)
	}
	if err != nil {
		return nil, err
	}
	if parent.Type != phase.TypeFeature && parent.Type != phase.TypeEnhancement {
		return nil, phase.Block(phase.ReasonInvalidVersionChain, "a %s cannot be enhanced", parent.Type)
	}
	next, err := l.store.FindSuccessorVersion(ctx, scope, parentID)
	switch {
	case err == nil:
		return nil, phase.Block(phase.ReasonInvalidVersionChain, "work item %d already has version %d (item %d)", parentID, next.Version, next.ID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return parent, nil
}

// GetWorkItem returns the actor's view of one item.
func (l *Lifecycle) GetWorkItem(ctx context.Context, actorID uint, scope store.Scope, id uint) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.GetWorkItem", actorID, scope)
	a, item, err := l.load(ctx, actorID, scope, id)
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	view := l.view(item, a.perms)
	return &view, nil
}

// ListWorkItems returns the actor's view of the items matching filter.
func (l *Lifecycle) ListWorkItems(ctx context.Context, actorID uint, scope store.Scope, filter store.WorkItemFilter) ([]WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.ListWorkItems", actorID, scope)
	views, err := l.listWorkItems(ctx, actorID, scope, filter)
	telemetry.End(span, err)
	return views, err
}

func (l *Lifecycle) listWorkItems(ctx context.Context, actorID uint, scope store.Scope, filter store.WorkItemFilter) ([]WorkItemView, error) {
	a, err := l.resolve(ctx, actorID, scope)
	if err != nil {
		return nil, err
	}
	items, err := l.store.ListWorkItems(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	views := make([]WorkItemView, 0, len(items))
	for i := range items {
		views = append(views, l.view(&items[i], a.perms))
	}
	return views, nil
}

func (l *Lifecycle) load(ctx context.Context, actorID uint, scope store.Scope, id uint) (*access, *models.WorkItem, error) {
	a, err := l.resolve(ctx, actorID, scope)
	if err != nil {
		return nil, nil, err
	}
	item, err := l.store.GetWorkItem(ctx, scope, id)
	if err != nil {
		return nil, nil, err
	}
	return a, item, nil
}

// UpdateWorkItem writes the given fields if all of them are editable in
// the item's current phase. The write is lost with store.ErrConflict when
// the item changed phase meanwhile.
func (l *Lifecycle) UpdateWorkItem(ctx context.Context, actorID uint, scope store.Scope, id uint, in UpdateWorkItemInput) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.UpdateWorkItem", actorID, scope)
	v, err := l.updateWorkItem(ctx, actorID, scope, id, in)
	telemetry.End(span, err)
	return v, err
}

func (l *Lifecycle) updateWorkItem(ctx context.Context, actorID uint, scope store.Scope, id uint, in UpdateWorkItemInput) (*WorkItemView, error) {
	a, item, err := l.load(ctx, actorID, scope, id)
	if err != nil {
		return nil, err
	}

	cols := in.columns()
	fields := make([]string, 0, len(cols)+len(in.Details))
	for k := range cols {
		fields = append(fields, k)
	}
	fields = append(fields, detailKeys(in.Details)...)
	if len(fields) == 0 {
		view := l.view(item, a.perms)
		return &view, nil
	}
	if err := l.catalog.CheckFieldEdit(item.PhaseItem(), fields, a.perms).Err(); err != nil {
		return nil, err
	}

	if len(in.Details) > 0 {
		merged := make(map[string]interface{}, len(item.Details)+len(in.Details))
		for k, v := range item.Details {
			merged[k] = v
		}
		for k, v := range in.Details {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		cols[store.ColumnDetails] = merged
	}

	if err := l.store.UpdateWorkItemFields(ctx, scope, id, item.Phase, cols); err != nil {
		return nil, err
	}
	updated, err := l.store.GetWorkItem(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	view := l.view(updated, a.perms)
	l.event(realtime.EventWorkItemUpdated, scope, actorID, updated, map[string]interface{}{"fields": fields})
	return &view, nil
}

// DeleteWorkItem soft-deletes an item; the actor needs delete permission on
// its current phase.
func (l *Lifecycle) DeleteWorkItem(ctx context.Context, actorID uint, scope store.Scope, id uint) error {
	ctx, span := l.start(ctx, "lifecycle.DeleteWorkItem", actorID, scope)
	err := l.deleteWorkItem(ctx, actorID, scope, id)
	telemetry.End(span, err)
	return err
}

func (l *Lifecycle) deleteWorkItem(ctx context.Context, actorID uint, scope store.Scope, id uint) error {
	a, item, err := l.load(ctx, actorID, scope, id)
	if err != nil {
		return err
	}
	if !a.perms.For(item.Phase).CanDelete {
		return phase.Block(phase.ReasonForbidden, "no delete permission on phase %q", item.Phase)
	}
	if next, err := l.store.FindSuccessorVersion(ctx, scope, id); err == nil {
		return phase.Block(phase.ReasonInvalidVersionChain, "work item is extended by item %d", next.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := l.store.DeleteWorkItem(ctx, scope, id, item.Phase); err != nil {
		return err
	}
	l.event(realtime.EventWorkItemDeleted, scope, actorID, item, nil)
	return nil
}

// Transition moves an item to target when the guard allows it. The write is
// a compare-and-set on the phase and review status that were read; a
// concurrent change makes it fail with store.ErrConflict.
func (l *Lifecycle) Transition(ctx context.Context, actorID uint, scope store.Scope, id uint, target phase.Phase) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.Transition", actorID, scope)
	v, err := l.transition(ctx, actorID, scope, id, target)
	telemetry.End(span, err)
	return v, err
}

func (l *Lifecycle) transition(ctx context.Context, actorID uint, scope store.Scope, id uint, target phase.Phase) (*WorkItemView, error) {
	a, item, err := l.load(ctx, actorID, scope, id)
	if err != nil {
		return nil, err
	}
	if err := l.catalog.CanTransition(item.PhaseItem(), target, a.perms).Err(); err != nil {
		return nil, err
	}

	from := item.Phase
	err = l.store.TransitionWorkItem(ctx, scope, store.Transition{
		WorkItemID:  item.ID,
		From:        from,
		FromReview:  item.ReviewStatus,
		FromEnabled: item.ReviewEnabled,
		To:          target,
		ActorID:     actorID,
		At:          l.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	item.Phase = target
	view := l.view(item, a.perms)
	l.event(realtime.EventWorkItemTransitioned, scope, actorID, item, map[string]interface{}{
		"from": from,
		"to":   target,
	})
	return &view, nil
}

// History returns the phases the item entered, oldest first.
func (l *Lifecycle) History(ctx context.Context, actorID uint, scope store.Scope, id uint) ([]models.PhaseHistory, error) {
	ctx, span := l.start(ctx, "lifecycle.History", actorID, scope)
	_, _, err := l.load(ctx, actorID, scope, id)
	var rows []models.PhaseHistory
	if err == nil {
		rows, err = l.store.ListHistory(ctx, scope, id)
	}
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
