package models

import (
	"gorm.io/gorm"

	"productflow/phase"
)

// Team represents the tenant that owns workspaces and work items
type Team struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Relations
	Members    []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
	Workspaces []Workspace  `gorm:"foreignKey:TeamID" json:"workspaces,omitempty"`
}

// TeamMember represents team members and their roles
type TeamMember struct {
	gorm.Model
	TeamID uint `gorm:"not null;uniqueIndex:idx_team_member" json:"team_id"`
	UserID uint `gorm:"not null;uniqueIndex:idx_team_member;index" json:"user_id"`

	Role phase.Role `gorm:"type:varchar(16);not null;default:'member'" json:"role"` // owner, admin, member

	// Relations
	Team Team `json:"-"`
	User User `json:"user,omitempty"`
}

// Workspace groups work items inside a team. EnabledTypes restricts which
// work item types it accepts; empty means all of them.
type Workspace struct {
	gorm.Model
	TeamID      uint   `gorm:"not null;index" json:"team_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	EnabledTypes []phase.WorkItemType `gorm:"type:jsonb;serializer:json" json:"enabled_types"`

	// Relations
	Team Team `json:"-"`
}

// Accepts reports whether items of type t may be created in the workspace.
func (w *Workspace) Accepts(t phase.WorkItemType) bool {
	if len(w.EnabledTypes) == 0 {
		return true
	}
	for _, enabled := range w.EnabledTypes {
		if enabled == t {
			return true
		}
	}
	return false
}

// ApplicablePhases is the union of the catalog phases of the enabled types.
func (w *Workspace) ApplicablePhases(c *phase.Catalog) []phase.Phase {
	return c.PhasesFor(w.EnabledTypes)
}
