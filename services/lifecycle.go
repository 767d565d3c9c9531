// Package services orchestrates the phase core around persistence: every
// operation resolves the actor's membership and phase permissions, asks the
// guard, writes through the store and then publishes and notifies.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"productflow/models"
	"productflow/phase"
	"productflow/realtime"
	"productflow/store"
	"productflow/telemetry"
	"productflow/utils"
)

// Publisher receives the events of successful mutations.
type Publisher interface {
	Publish(ev realtime.Event)
}

// Notifier delivers emails; *utils.Mailer satisfies it.
type Notifier interface {
	Send(data utils.EmailData) error
}

// Lifecycle is the application service behind the HTTP handlers.
type Lifecycle struct {
	store   store.Store
	catalog *phase.Catalog
	events  Publisher
	mail    Notifier
	appURL  string
	log     *logrus.Entry
	tracer  trace.Tracer
	now     func() time.Time
}

// NewLifecycle wires the service. events and mail may be nil.
func NewLifecycle(st store.Store, catalog *phase.Catalog, events Publisher, mail Notifier, appURL string) *Lifecycle {
	return &Lifecycle{
		store:   st,
		catalog: catalog,
		events:  events,
		mail:    mail,
		appURL:  appURL,
		log:     utils.Component("lifecycle"),
		tracer:  telemetry.Tracer("productflow/services"),
		now:     time.Now,
	}
}

// Catalog returns the phase catalog the service enforces.
func (l *Lifecycle) Catalog() *phase.Catalog {
	return l.catalog
}

// access is everything resolved about an actor inside one workspace.
type access struct {
	member    *models.TeamMember
	workspace *models.Workspace
	perms     phase.PermissionSet
}

func (l *Lifecycle) start(ctx context.Context, name string, actorID uint, scope store.Scope) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("actor.id", int64(actorID)),
		attribute.Int64("team.id", int64(scope.TeamID)),
		attribute.Int64("workspace.id", int64(scope.WorkspaceID)),
	))
}

// membership returns the actor's row in the team or phase.ErrNotAMember.
func (l *Lifecycle) membership(ctx context.Context, teamID, actorID uint) (*models.TeamMember, error) {
	m, err := l.store.GetMembership(ctx, teamID, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, phase.ErrNotAMember
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Lifecycle) requireAdmin(ctx context.Context, teamID, actorID uint) (*models.TeamMember, error) {
	m, err := l.membership(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !m.Role.IsAdmin() {
		return nil, phase.Block(phase.ReasonForbidden, "only team owners and admins can do this")
	}
	return m, nil
}

// resolve loads membership, workspace and assignments and runs the
// permission resolver. Owners and admins never trigger an assignment lookup.
func (l *Lifecycle) resolve(ctx context.Context, actorID uint, scope store.Scope) (*access, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	member, err := l.membership(ctx, scope.TeamID, actorID)
	if err != nil {
		return nil, err
	}
	ws, err := l.store.GetWorkspace(ctx, scope)
	if err != nil {
		return nil, err
	}

	var grants []phase.Assignment
	if !member.Role.IsAdmin() {
		rows, err := l.store.ListAssignmentsForUser(ctx, scope, actorID)
		if err != nil {
			return nil, err
		}
		grants = models.Grants(rows)
	}

	perms, err := phase.ResolvePermissions(member.Role, grants, ws.ApplicablePhases(l.catalog))
	if err != nil {
		return nil, err
	}
	return &access{member: member, workspace: ws, perms: perms}, nil
}

// Permissions resolves the actor's per-phase permissions in a workspace.
func (l *Lifecycle) Permissions(ctx context.Context, actorID uint, scope store.Scope) (phase.PermissionSet, error) {
	ctx, span := l.start(ctx, "lifecycle.Permissions", actorID, scope)
	a, err := l.resolve(ctx, actorID, scope)
	telemetry.End(span, err)
	if err != nil {
		return phase.PermissionSet{}, err
	}
	return a.perms, nil
}

func (l *Lifecycle) publish(ev realtime.Event) {
	if l.events == nil {
		return
	}
	l.events.Publish(ev)
}

func (l *Lifecycle) event(eventType string, scope store.Scope, actorID uint, item *models.WorkItem, data interface{}) {
	ev := realtime.NewEvent(eventType, scope.TeamID, scope.WorkspaceID, actorID)
	ev.At = l.now().UTC()
	if item != nil {
		ev.WorkItemID = item.ID
	}
	ev.Data = data
	l.publish(ev)

	fields := map[string]interface{}{
		"team_id":      scope.TeamID,
		"workspace_id": scope.WorkspaceID,
		"actor_id":     actorID,
	}
	if item != nil {
		fields["work_item_id"] = item.ID
		fields["phase"] = item.Phase
	}
	utils.LogEvent(eventType, fields)
}
