package services

import (
	"context"
	"fmt"
	"time"

	"productflow/models"
	"productflow/phase"
	"productflow/realtime"
	"productflow/store"
	"productflow/telemetry"
	"productflow/utils"
)

// RequestReview moves the item's review gate to pending and notifies the
// reviewers of its current phase.
func (l *Lifecycle) RequestReview(ctx context.Context, actorID uint, scope store.Scope, id uint) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.RequestReview", actorID, scope)
	v, err := l.review(ctx, actorID, scope, id, func(item phase.Item, perms phase.PermissionSet) (phase.Item, phase.Decision) {
		return l.catalog.RequestReview(item, perms, l.now().UTC())
	})
	telemetry.End(span, err)
	return v, err
}

// ApproveReview approves a pending review.
func (l *Lifecycle) ApproveReview(ctx context.Context, actorID uint, scope store.Scope, id uint) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.ApproveReview", actorID, scope)
	v, err := l.review(ctx, actorID, scope, id, l.catalog.ApproveReview)
	telemetry.End(span, err)
	return v, err
}

// RejectReview rejects a pending review; reason is mandatory.
func (l *Lifecycle) RejectReview(ctx context.Context, actorID uint, scope store.Scope, id uint, reason string) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.RejectReview", actorID, scope)
	v, err := l.review(ctx, actorID, scope, id, func(item phase.Item, perms phase.PermissionSet) (phase.Item, phase.Decision) {
		return l.catalog.RejectReview(item, reason, perms)
	})
	telemetry.End(span, err)
	return v, err
}

// SetReviewEnabled turns the item's review gate on or off.
func (l *Lifecycle) SetReviewEnabled(ctx context.Context, actorID uint, scope store.Scope, id uint, enabled bool) (*WorkItemView, error) {
	ctx, span := l.start(ctx, "lifecycle.SetReviewEnabled", actorID, scope)
	v, err := l.review(ctx, actorID, scope, id, func(item phase.Item, perms phase.PermissionSet) (phase.Item, phase.Decision) {
		return l.catalog.SetReviewEnabled(item, enabled, perms)
	})
	telemetry.End(span, err)
	return v, err
}

type reviewStep func(item phase.Item, perms phase.PermissionSet) (phase.Item, phase.Decision)

func (l *Lifecycle) review(ctx context.Context, actorID uint, scope store.Scope, id uint, step reviewStep) (*WorkItemView, error) {
	a, item, err := l.load(ctx, actorID, scope, id)
	if err != nil {
		return nil, err
	}
	before := item.ReviewStatus
	wasEnabled := item.ReviewEnabled

	next, d := step(item.PhaseItem(), a.perms)
	if err := d.Err(); err != nil {
		return nil, err
	}

	update := store.ReviewUpdate{
		WorkItemID:    item.ID,
		ExpectPhase:   item.Phase,
		ExpectStatus:  before,
		ExpectEnabled: wasEnabled,
		Enabled:       next.ReviewEnabled,
		Status:        next.ReviewStatus,
		Reason:        next.ReviewReason,
		RequestedAt:   next.ReviewRequestedAt,
		DecidedAt:     item.ReviewDecidedAt,
		DecidedBy:     item.ReviewDecidedBy,
	}
	switch {
	case next.ReviewStatus == phase.ReviewApproved || next.ReviewStatus == phase.ReviewRejected:
		decided := l.now().UTC()
		decider := actorID
		update.DecidedAt = &decided
		update.DecidedBy = &decider
	case next.ReviewStatus != before || next.ReviewEnabled != wasEnabled:
		update.DecidedAt = nil
		update.DecidedBy = nil
	}
	if err := l.store.UpdateReview(ctx, scope, update); err != nil {
		return nil, err
	}

	item.ApplyReview(next)
	item.ReviewDecidedAt = update.DecidedAt
	item.ReviewDecidedBy = update.DecidedBy
	view := l.view(item, a.perms)

	eventType := realtime.EventReviewSettings
	switch {
	case next.ReviewEnabled != wasEnabled:
	case next.ReviewStatus == phase.ReviewPending:
		eventType = realtime.EventReviewRequested
	case next.ReviewStatus == phase.ReviewApproved:
		eventType = realtime.EventReviewApproved
	case next.ReviewStatus == phase.ReviewRejected:
		eventType = realtime.EventReviewRejected
	}
	l.event(eventType, scope, actorID, item, view.Review)
	l.notifyReview(ctx, eventType, scope, actorID, a.workspace, item)
	return &view, nil
}

// Reviewers returns the leads of the item's current phase, or the team
// admins when the phase has no lead.
func (l *Lifecycle) Reviewers(ctx context.Context, scope store.Scope, p phase.Phase) ([]models.User, error) {
	leads, err := l.store.PhaseLeads(ctx, scope, p)
	if err != nil {
		return nil, err
	}
	if len(leads) > 0 {
		return leads, nil
	}
	return l.store.TeamAdmins(ctx, scope.TeamID)
}

// WorkItemLink is the UI address of an item.
func (l *Lifecycle) WorkItemLink(scope store.Scope, id uint) string {
	return fmt.Sprintf("%s/teams/%d/workspaces/%d/work-items/%d", l.appURL, scope.TeamID, scope.WorkspaceID, id)
}

// notifyReview emails the reviewers of a new request, or the creator of the
// item about a decision. Failures are logged, never returned.
func (l *Lifecycle) notifyReview(ctx context.Context, eventType string, scope store.Scope, actorID uint, ws *models.Workspace, item *models.WorkItem) {
	if l.mail == nil {
		return
	}

	var (
		recipients []models.User
		template   string
		subject    string
	)
	switch eventType {
	case realtime.EventReviewRequested:
		users, err := l.Reviewers(ctx, scope, item.Phase)
		if err != nil {
			utils.LogError("review_reviewers_lookup", err, map[string]interface{}{"work_item_id": item.ID})
			return
		}
		recipients, template = users, "review_requested"
		subject = fmt.Sprintf("Review requested: %s", item.Name)
	case realtime.EventReviewApproved, realtime.EventReviewRejected:
		creator, err := l.store.UserByID(ctx, item.CreatedBy)
		if err != nil {
			utils.LogError("review_creator_lookup", err, map[string]interface{}{"work_item_id": item.ID})
			return
		}
		recipients, template = []models.User{*creator}, "review_decided"
		subject = fmt.Sprintf("Review %s: %s", item.ReviewStatus, item.Name)
	default:
		return
	}

	actorName := "A teammate"
	if actor, err := l.store.UserByID(ctx, actorID); err == nil {
		actorName = actor.DisplayName()
	}
	for _, u := range recipients {
		if u.ID == actorID {
			continue
		}
		err := l.mail.Send(utils.EmailData{
			Subject:  subject,
			To:       []string{u.Email},
			Template: template,
			Data: utils.ReviewEmail{
				Recipient:     u.DisplayName(),
				Actor:         actorName,
				WorkItemName:  item.Name,
				WorkItemType:  string(item.Type),
				Phase:         string(item.Phase),
				Status:        string(item.ReviewStatus),
				Reason:        item.ReviewReason,
				Link:          l.WorkItemLink(scope, item.ID),
				WorkspaceName: ws.Name,
				Year:          time.Now().Year(),
			},
		})
		if err != nil {
			utils.LogError("review_email", err, map[string]interface{}{
				"work_item_id": item.ID,
				"recipient":    u.ID,
				"template":     template,
			})
		}
	}
}
