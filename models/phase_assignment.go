package models

import (
	"time"

	"productflow/phase"
)

// PhaseAssignment grants a user edit or lead capability on one phase of one
// workspace, independent of the team-wide role.
type PhaseAssignment struct {
	ID          uint        `gorm:"primarykey" json:"id"`
	TeamID      uint        `gorm:"not null;index" json:"team_id"`
	WorkspaceID uint        `gorm:"not null;uniqueIndex:idx_assignment" json:"workspace_id"`
	UserID      uint        `gorm:"not null;uniqueIndex:idx_assignment" json:"user_id"`
	Phase       phase.Phase `gorm:"type:varchar(32);not null;uniqueIndex:idx_assignment" json:"phase"`

	CanEdit bool `gorm:"default:false" json:"can_edit"`
	IsLead  bool `gorm:"default:false" json:"is_lead"`

	AssignedBy uint      `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Grant projects the row for the permission resolver.
func (a PhaseAssignment) Grant() phase.Assignment {
	return phase.Assignment{Phase: a.Phase, CanEdit: a.CanEdit, IsLead: a.IsLead}
}

// Grants projects a list of rows for the permission resolver.
func Grants(rows []PhaseAssignment) []phase.Assignment {
	out := make([]phase.Assignment, len(rows))
	for i, r := range rows {
		out[i] = r.Grant()
	}
	return out
}
