package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"productflow/models"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

// ReviewReminderWorker periodically reminds reviewers of reviews that have
// been pending longer than After. An item is reminded again once its last
// reminder is itself older than After.
type ReviewReminderWorker struct {
	Store     store.Store
	Lifecycle *services.Lifecycle
	Mailer    services.Notifier
	After     time.Duration
	Interval  time.Duration
	Logger    *logrus.Entry

	now func() time.Time
}

func NewReviewReminderWorker(st store.Store, lc *services.Lifecycle, mailer services.Notifier, after, interval time.Duration) *ReviewReminderWorker {
	return &ReviewReminderWorker{
		Store:     st,
		Lifecycle: lc,
		Mailer:    mailer,
		After:     after,
		Interval:  interval,
		Logger:    utils.Component("worker"),
		now:       time.Now,
	}
}

func (rw *ReviewReminderWorker) Start(ctx context.Context) {
	rw.Logger.WithFields(logrus.Fields{
		"after":    rw.After.String(),
		"interval": rw.Interval.String(),
	}).Info("Review reminder worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Info("Review reminder worker shutting down...")
			return
		case <-ticker.C:
			if sent, err := rw.RunOnce(ctx); err != nil {
				utils.LogError("review_reminder_run", err, map[string]interface{}{"sent": sent})
			} else if sent > 0 {
				rw.Logger.WithField("sent", sent).Info("Review reminders sent")
			}
		}
	}
}

// RunOnce sends every reminder due now and returns how many items were
// reminded. A failing team is logged and skipped.
func (rw *ReviewReminderWorker) RunOnce(ctx context.Context) (int, error) {
	teamIDs, err := rw.Store.ListTeamIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing teams: %w", err)
	}

	now := rw.now().UTC()
	cutoff := now.Add(-rw.After)
	sent := 0
	for _, teamID := range teamIDs {
		items, err := rw.Store.ListStaleReviews(ctx, teamID, cutoff)
		if err != nil {
			rw.Logger.WithError(err).WithField("team_id", teamID).Error("Error fetching stale reviews")
			continue
		}
		for i := range items {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			if err := rw.remind(ctx, &items[i], now); err != nil {
				rw.Logger.WithError(err).WithField("work_item_id", items[i].ID).Error("Error sending review reminder")
				continue
			}
			sent++
		}
	}
	return sent, nil
}

func (rw *ReviewReminderWorker) remind(ctx context.Context, item *models.WorkItem, now time.Time) error {
	scope := store.Scope{TeamID: item.TeamID, WorkspaceID: item.WorkspaceID}
	ws, err := rw.Store.GetWorkspace(ctx, scope)
	if err != nil {
		return fmt.Errorf("loading workspace: %w", err)
	}
	reviewers, err := rw.Lifecycle.Reviewers(ctx, scope, item.Phase)
	if err != nil {
		return fmt.Errorf("loading reviewers: %w", err)
	}

	pendingFor := "a while"
	if item.ReviewRequestedAt != nil {
		pendingFor = humanDuration(now.Sub(*item.ReviewRequestedAt))
	}
	var (
		delivered int
		firstErr  error
	)
	for _, u := range reviewers {
		err := rw.Mailer.Send(utils.EmailData{
			Subject:  fmt.Sprintf("Reminder: review pending for %s", item.Name),
			To:       []string{u.Email},
			Template: "review_reminder",
			Data: utils.ReviewEmail{
				Recipient:     u.DisplayName(),
				WorkItemName:  item.Name,
				WorkItemType:  string(item.Type),
				Phase:         string(item.Phase),
				Status:        string(item.ReviewStatus),
				PendingFor:    pendingFor,
				Link:          rw.Lifecycle.WorkItemLink(scope, item.ID),
				WorkspaceName: ws.Name,
				Year:          now.Year(),
			},
		})
		if err != nil {
			utils.LogError("review_reminder_send", err, map[string]interface{}{
				"work_item_id": item.ID,
				"reviewer_id":  u.ID,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}
	// any delivery marks the item; failed recipients wait for the next period
	if delivered == 0 && firstErr != nil {
		return firstErr
	}
	return rw.Store.MarkReviewReminded(ctx, scope, item.ID, now)
}

func humanDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case days >= 2:
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
