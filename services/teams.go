package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"productflow/models"
	"productflow/phase"
	"productflow/realtime"
	"productflow/store"
	"productflow/telemetry"
)

// CreateTeam creates a team owned by the actor.
func (l *Lifecycle) CreateTeam(ctx context.Context, actorID uint, name, description string) (*models.Team, error) {
	ctx, span := l.start(ctx, "lifecycle.CreateTeam", actorID, store.Scope{})
	team := &models.Team{Name: strings.TrimSpace(name), Description: description}
	err := l.store.CreateTeam(ctx, team, actorID)
	telemetry.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}
	l.log.WithFields(logrus.Fields{"team_id": team.ID, "owner_id": actorID}).Info("Team created")
	return team, nil
}

// ListTeams returns the teams the actor belongs to.
func (l *Lifecycle) ListTeams(ctx context.Context, actorID uint) ([]models.Team, error) {
	return l.store.ListTeamsForUser(ctx, actorID)
}

// ListMembers returns the members of a team the actor belongs to.
func (l *Lifecycle) ListMembers(ctx context.Context, actorID, teamID uint) ([]models.TeamMember, error) {
	if _, err := l.membership(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return l.store.ListMembers(ctx, teamID)
}

// AddMember adds the user registered under email. Only an owner can grant
// the owner role.
func (l *Lifecycle) AddMember(ctx context.Context, actorID, teamID uint, email string, role phase.Role) (*models.TeamMember, error) {
	ctx, span := l.start(ctx, "lifecycle.AddMember", actorID, store.Scope{TeamID: teamID})
	member, err := l.addMember(ctx, actorID, teamID, email, role)
	telemetry.End(span, err)
	return member, err
}

func (l *Lifecycle) addMember(ctx context.Context, actorID, teamID uint, email string, role phase.Role) (*models.TeamMember, error) {
	actor, err := l.requireAdmin(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, phase.Block(phase.ReasonInvalidRole, "invalid role %q", role)
	}
	if role == phase.RoleOwner && actor.Role != phase.RoleOwner {
		return nil, phase.Block(phase.ReasonForbidden, "only an owner can add another owner")
	}

	user, err := l.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	member := &models.TeamMember{TeamID: teamID, UserID: user.ID, Role: role}
	if err := l.store.AddMember(ctx, member); err != nil {
		return nil, err
	}
	member.User = *user
	l.log.WithFields(logrus.Fields{"team_id": teamID, "user_id": user.ID, "role": role}).Info("Member added")
	return member, nil
}

// UpdateMemberRole changes a member's role. The owner's own row is fixed;
// owners are the only ones who can promote to or demote from owner.
func (l *Lifecycle) UpdateMemberRole(ctx context.Context, actorID, teamID, userID uint, role phase.Role) error {
	ctx, span := l.start(ctx, "lifecycle.UpdateMemberRole", actorID, store.Scope{TeamID: teamID})
	err := l.updateMemberRole(ctx, actorID, teamID, userID, role)
	telemetry.End(span, err)
	return err
}

func (l *Lifecycle) updateMemberRole(ctx context.Context, actorID, teamID, userID uint, role phase.Role) error {
	actor, err := l.requireAdmin(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if !role.IsValid() {
		return phase.Block(phase.ReasonInvalidRole, "invalid role %q", role)
	}
	target, err := l.store.GetMembership(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if (target.Role == phase.RoleOwner || role == phase.RoleOwner) && actor.Role != phase.RoleOwner {
		return phase.Block(phase.ReasonForbidden, "only an owner can change ownership")
	}
	if userID == actorID && actor.Role == phase.RoleOwner && role != phase.RoleOwner {
		return phase.Block(phase.ReasonForbidden, "an owner cannot demote themselves")
	}
	return l.store.UpdateMemberRole(ctx, teamID, userID, role)
}

// RemoveMember removes a member and their phase assignments. Members may
// remove themselves; owners cannot be removed.
func (l *Lifecycle) RemoveMember(ctx context.Context, actorID, teamID, userID uint) error {
	ctx, span := l.start(ctx, "lifecycle.RemoveMember", actorID, store.Scope{TeamID: teamID})
	err := l.removeMember(ctx, actorID, teamID, userID)
	telemetry.End(span, err)
	return err
}

func (l *Lifecycle) removeMember(ctx context.Context, actorID, teamID, userID uint) error {
	if actorID == userID {
		if _, err := l.membership(ctx, teamID, actorID); err != nil {
			return err
		}
	} else if _, err := l.requireAdmin(ctx, teamID, actorID); err != nil {
		return err
	}

	target, err := l.store.GetMembership(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if target.Role == phase.RoleOwner {
		return phase.Block(phase.ReasonForbidden, "the team owner cannot be removed")
	}
	if err := l.store.RemoveMember(ctx, teamID, userID); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"team_id": teamID, "user_id": userID}).Info("Member removed")
	return nil
}

// CreateWorkspace creates a workspace accepting the given types (all of
// them when empty).
func (l *Lifecycle) CreateWorkspace(ctx context.Context, actorID, teamID uint, name, description string, types []phase.WorkItemType) (*models.Workspace, error) {
	ctx, span := l.start(ctx, "lifecycle.CreateWorkspace", actorID, store.Scope{TeamID: teamID})
	ws, err := l.createWorkspace(ctx, actorID, teamID, name, description, types)
	telemetry.End(span, err)
	return ws, err
}

func (l *Lifecycle) createWorkspace(ctx context.Context, actorID, teamID uint, name, description string, types []phase.WorkItemType) (*models.Workspace, error) {
	if _, err := l.requireAdmin(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	seen := make(map[phase.WorkItemType]bool, len(types))
	enabled := make([]phase.WorkItemType, 0, len(types))
	for _, t := range types {
		if !l.catalog.Known(t) {
			return nil, phase.Block(phase.ReasonUnknownType, "unknown work item type %q", t)
		}
		if !seen[t] {
			seen[t] = true
			enabled = append(enabled, t)
		}
	}

	ws := &models.Workspace{TeamID: teamID, Name: strings.TrimSpace(name), Description: description, EnabledTypes: enabled}
	if err := l.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	l.log.WithFields(logrus.Fields{"team_id": teamID, "workspace_id": ws.ID}).Info("Workspace created")
	return ws, nil
}

// ListWorkspaces returns the team's workspaces.
func (l *Lifecycle) ListWorkspaces(ctx context.Context, actorID, teamID uint) ([]models.Workspace, error) {
	if _, err := l.membership(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return l.store.ListWorkspaces(ctx, teamID)
}

// DeleteWorkspace soft-deletes a workspace and drops its assignments.
func (l *Lifecycle) DeleteWorkspace(ctx context.Context, actorID uint, scope store.Scope) error {
	ctx, span := l.start(ctx, "lifecycle.DeleteWorkspace", actorID, scope)
	err := l.deleteWorkspace(ctx, actorID, scope)
	telemetry.End(span, err)
	return err
}

func (l *Lifecycle) deleteWorkspace(ctx context.Context, actorID uint, scope store.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, err := l.requireAdmin(ctx, scope.TeamID, actorID); err != nil {
		return err
	}
	if err := l.store.DeleteWorkspace(ctx, scope); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting workspace: %w", err)
	}
	l.event(realtime.EventWorkspaceDeleted, scope, actorID, nil, nil)
	return nil
}
