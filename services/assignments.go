package services

import (
	"context"
	"errors"

	"productflow/models"
	"productflow/phase"
	"productflow/realtime"
	"productflow/store"
	"productflow/telemetry"
)

// AssignInput grants a member capabilities on one phase.
type AssignInput struct {
	UserID  uint
	Phase   phase.Phase
	CanEdit bool
	IsLead  bool
}

// ListAssignments returns every assignment of the workspace.
func (l *Lifecycle) ListAssignments(ctx context.Context, actorID uint, scope store.Scope) ([]models.PhaseAssignment, error) {
	if _, err := l.resolve(ctx, actorID, scope); err != nil {
		return nil, err
	}
	return l.store.ListAssignments(ctx, scope)
}

// checkManage requires the phase to apply to the workspace and the actor to
// manage its assignments. Granting or revoking lead is reserved to admins.
func (l *Lifecycle) checkManage(a *access, p phase.Phase, lead bool) error {
	applicable := false
	for _, ap := range a.perms.Phases() {
		if ap == p {
			applicable = true
			break
		}
	}
	if !applicable {
		return phase.Block(phase.ReasonInvalidPhaseForType, "phase %q does not apply to this workspace", p)
	}
	if !a.perms.For(p).CanManageAssignments {
		return phase.Block(phase.ReasonForbidden, "no permission to manage assignments of phase %q", p)
	}
	if lead && !a.perms.IsAdmin() {
		return phase.Block(phase.ReasonForbidden, "only team owners and admins can assign phase leads")
	}
	return nil
}

// AssignPhase creates or replaces the target member's assignment.
func (l *Lifecycle) AssignPhase(ctx context.Context, actorID uint, scope store.Scope, in AssignInput) (*models.PhaseAssignment, error) {
	ctx, span := l.start(ctx, "lifecycle.AssignPhase", actorID, scope)
	row, err := l.assignPhase(ctx, actorID, scope, in)
	telemetry.End(span, err)
	return row, err
}

func (l *Lifecycle) assignPhase(ctx context.Context, actorID uint, scope store.Scope, in AssignInput) (*models.PhaseAssignment, error) {
	a, err := l.resolve(ctx, actorID, scope)
	if err != nil {
		return nil, err
	}

	var current *models.PhaseAssignment
	rows, err := l.store.ListAssignmentsForUser(ctx, scope, in.UserID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Phase == in.Phase {
			current = &rows[i]
		}
	}
	leadChange := in.IsLead || (current != nil && current.IsLead)
	if err := l.checkManage(a, in.Phase, leadChange); err != nil {
		return nil, err
	}

	if _, err := l.store.GetMembership(ctx, scope.TeamID, in.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, phase.Block(phase.ReasonNotAMember, "user %d is not a member of this team", in.UserID)
		}
		return nil, err
	}

	row := &models.PhaseAssignment{
		UserID:     in.UserID,
		Phase:      in.Phase,
		CanEdit:    in.CanEdit,
		IsLead:     in.IsLead,
		AssignedBy: actorID,
		AssignedAt: l.now().UTC(),
	}
	if err := l.store.UpsertAssignment(ctx, scope, row); err != nil {
		return nil, err
	}
	l.event(realtime.EventAssignmentChanged, scope, actorID, nil, row)
	return row, nil
}

// RevokePhase deletes the target member's assignment on one phase.
func (l *Lifecycle) RevokePhase(ctx context.Context, actorID uint, scope store.Scope, userID uint, p phase.Phase) error {
	ctx, span := l.start(ctx, "lifecycle.RevokePhase", actorID, scope)
	err := l.revokePhase(ctx, actorID, scope, userID, p)
	telemetry.End(span, err)
	return err
}

func (l *Lifecycle) revokePhase(ctx context.Context, actorID uint, scope store.Scope, userID uint, p phase.Phase) error {
	a, err := l.resolve(ctx, actorID, scope)
	if err != nil {
		return err
	}
	rows, err := l.store.ListAssignmentsForUser(ctx, scope, userID)
	if err != nil {
		return err
	}
	var current *models.PhaseAssignment
	for i := range rows {
		if rows[i].Phase == p {
			current = &rows[i]
		}
	}
	if current == nil {
		return store.ErrNotFound
	}
	if err := l.checkManage(a, p, current.IsLead); err != nil {
		return err
	}
	if err := l.store.DeleteAssignment(ctx, scope, userID, p); err != nil {
		return err
	}
	l.event(realtime.EventAssignmentRevoked, scope, actorID, nil, map[string]interface{}{
		"user_id": userID,
		"phase":   p,
	})
	return nil
}
