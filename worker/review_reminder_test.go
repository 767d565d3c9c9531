package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productflow/models"
	"productflow/phase"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

type outbox struct {
	sent []utils.EmailData
	fail map[string]bool
}

func (o *outbox) Send(data utils.EmailData) error {
	if o.fail[data.To[0]] {
		return errors.New("smtp: mailbox unavailable")
	}
	o.sent = append(o.sent, data)
	return nil
}

type reminderFixture struct {
	ctx   context.Context
	store *store.MemoryStore
	owner models.User
	team  models.Team
	scope store.Scope
	now   time.Time
}

func newReminderFixture(t *testing.T) *reminderFixture {
	t.Helper()
	f := &reminderFixture{ctx: context.Background(), store: store.NewMemoryStore(), now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	f.owner = models.User{Email: "owner@example.com", PasswordHash: "x"}
	require.NoError(t, f.store.CreateUser(f.ctx, &f.owner))
	f.team = models.Team{Name: "Acme"}
	require.NoError(t, f.store.CreateTeam(f.ctx, &f.team, f.owner.ID))
	ws := models.Workspace{TeamID: f.team.ID, Name: "Platform"}
	require.NoError(t, f.store.CreateWorkspace(f.ctx, &ws))
	f.scope = store.Scope{TeamID: f.team.ID, WorkspaceID: ws.ID}
	return f
}

func (f *reminderFixture) pending(t *testing.T, requested time.Time) models.WorkItem {
	t.Helper()
	item := models.WorkItem{Type: phase.TypeFeature, Phase: "refine", Name: "Dark mode", CreatedBy: f.owner.ID}
	require.NoError(t, f.store.CreateWorkItem(f.ctx, f.scope, &item))
	require.NoError(t, f.store.UpdateReview(f.ctx, f.scope, store.ReviewUpdate{
		WorkItemID: item.ID, ExpectPhase: "refine", ExpectStatus: phase.ReviewNone,
		Enabled: true, Status: phase.ReviewPending, RequestedAt: &requested,
	}))
	return item
}

func (f *reminderFixture) worker(mail *outbox) *ReviewReminderWorker {
	lc := services.NewLifecycle(f.store, phase.MustDefaultCatalog(), nil, nil, "https://app.example.com")
	w := NewReviewReminderWorker(f.store, lc, mail, 48*time.Hour, time.Minute)
	w.now = func() time.Time { return f.now }
	return w
}

func TestPartialDeliveryMarksItemReminded(t *testing.T) {
	f := newReminderFixture(t)
	admin := models.User{Email: "admin@example.com", PasswordHash: "x"}
	require.NoError(t, f.store.CreateUser(f.ctx, &admin))
	require.NoError(t, f.store.AddMember(f.ctx, &models.TeamMember{TeamID: f.team.ID, UserID: admin.ID, Role: phase.RoleAdmin}))
	f.pending(t, f.now.Add(-72*time.Hour))

	mail := &outbox{fail: map[string]bool{"admin@example.com": true}}
	w := f.worker(mail)

	sent, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, mail.sent[0].To)

	// the reviewer who did get it is not emailed again on the next tick
	sent, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, mail.sent, 1)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	f := newReminderFixture(t)
	f.pending(t, f.now.Add(-72*time.Hour))

	mail := &outbox{fail: map[string]bool{"owner@example.com": true}}
	w := f.worker(mail)

	sent, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	delete(mail.fail, "owner@example.com")
	sent, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestDeletedWorkspaceIsNotReminded(t *testing.T) {
	f := newReminderFixture(t)
	f.pending(t, f.now.Add(-72*time.Hour))
	require.NoError(t, f.store.DeleteWorkspace(f.ctx, f.scope))

	mail := &outbox{}
	sent, err := f.worker(mail).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, mail.sent)
}

func TestRunOnceRemindsStaleReviewsOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	owner := models.User{Email: "owner@example.com", PasswordHash: "x"}
	require.NoError(t, st.CreateUser(ctx, &owner))
	team := models.Team{Name: "Acme"}
	require.NoError(t, st.CreateTeam(ctx, &team, owner.ID))
	ws := models.Workspace{TeamID: team.ID, Name: "Platform"}
	require.NoError(t, st.CreateWorkspace(ctx, &ws))
	scope := store.Scope{TeamID: team.ID, WorkspaceID: ws.ID}

	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	requested := now.Add(-72 * time.Hour)
	item := models.WorkItem{Type: phase.TypeFeature, Phase: "refine", Name: "Dark mode", CreatedBy: owner.ID}
	require.NoError(t, st.CreateWorkItem(ctx, scope, &item))
	require.NoError(t, st.UpdateReview(ctx, scope, store.ReviewUpdate{
		WorkItemID: item.ID, ExpectPhase: "refine", ExpectStatus: phase.ReviewNone,
		Enabled: true, Status: phase.ReviewPending, RequestedAt: &requested,
	}))

	mail := &outbox{}
	lc := services.NewLifecycle(st, phase.MustDefaultCatalog(), nil, nil, "https://app.example.com")
	w := NewReviewReminderWorker(st, lc, mail, 48*time.Hour, time.Minute)
	w.now = func() time.Time { return now }

	sent, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "review_reminder", mail.sent[0].Template)
	assert.Equal(t, []string{owner.Email}, mail.sent[0].To)
	data := mail.sent[0].Data.(utils.ReviewEmail)
	assert.Equal(t, "3 days", data.PendingFor)
	assert.Contains(t, data.Link, "/work-items/")

	sent, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	// two days later the previous reminder is itself stale
	w.now = func() time.Time { return now.Add(49 * time.Hour) }
	sent, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestStartStopsOnCancel(t *testing.T) {
	w := NewReviewReminderWorker(store.NewMemoryStore(), nil, &outbox{}, time.Hour, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "45 minutes", humanDuration(45*time.Minute))
	assert.Equal(t, "30 hours", humanDuration(30*time.Hour))
	assert.Equal(t, "4 days", humanDuration(100*time.Hour))
}
