package models

import (
	"time"

	"gorm.io/gorm"

	"productflow/phase"
)

// WorkItem is a feature, bug, concept or enhancement moving through the
// phases of its type. Items are soft-deleted only.
type WorkItem struct {
	gorm.Model
	TeamID      uint `gorm:"not null;index:idx_work_item_scope" json:"team_id"`
	WorkspaceID uint `gorm:"not null;index:idx_work_item_scope" json:"workspace_id"`

	Type  phase.WorkItemType `gorm:"type:varchar(32);not null" json:"type"` // feature, bug, concept, enhancement
	Phase phase.Phase        `gorm:"type:varchar(32);not null;index" json:"phase"`

	Name             string     `gorm:"not null" json:"name"`
	Description      string     `json:"description"`
	Priority         string     `gorm:"default:'medium'" json:"priority"` // low, medium, high, critical
	PlannedStartDate *time.Time `json:"planned_start_date"`
	PlannedEndDate   *time.Time `json:"planned_end_date"`

	// Type specific fields keyed by catalog field identifier
	Details map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"details"`

	// Version chain
	Version            int   `gorm:"not null;default:1" json:"version"`
	EnhancesWorkItemID *uint `gorm:"index" json:"enhances_work_item_id,omitempty"`

	// Review gate
	ReviewEnabled     bool               `gorm:"default:false" json:"review_enabled"`
	ReviewStatus      phase.ReviewStatus `gorm:"type:varchar(16);not null;default:'none'" json:"review_status"` // none, pending, approved, rejected
	ReviewReason      string             `json:"review_reason,omitempty"`
	ReviewRequestedAt *time.Time         `gorm:"index" json:"review_requested_at,omitempty"`
	ReviewDecidedAt   *time.Time         `json:"review_decided_at,omitempty"`
	ReviewDecidedBy   *uint              `json:"review_decided_by,omitempty"`
	ReviewRemindedAt  *time.Time         `json:"-"`

	CreatedBy uint `gorm:"not null" json:"created_by"`

	// Relations
	Workspace Workspace      `json:"-"`
	History   []PhaseHistory `gorm:"foreignKey:WorkItemID" json:"history,omitempty"`
}

// PhaseItem projects the fields the phase guard operates on.
func (w *WorkItem) PhaseItem() phase.Item {
	return phase.Item{
		Type:              w.Type,
		Phase:             w.Phase,
		ReviewEnabled:     w.ReviewEnabled,
		ReviewStatus:      w.ReviewStatus,
		ReviewReason:      w.ReviewReason,
		ReviewRequestedAt: w.ReviewRequestedAt,
		PlannedStart:      w.PlannedStartDate,
		PlannedEnd:        w.PlannedEndDate,
	}
}

// ApplyReview copies the review gate state of item back onto w.
func (w *WorkItem) ApplyReview(item phase.Item) {
	w.ReviewEnabled = item.ReviewEnabled
	w.ReviewStatus = item.ReviewStatus
	w.ReviewReason = item.ReviewReason
	w.ReviewRequestedAt = item.ReviewRequestedAt
}

// PhaseHistory is the append-only log of phases a work item entered.
type PhaseHistory struct {
	ID          uint        `gorm:"primarykey" json:"id"`
	TeamID      uint        `gorm:"not null;index" json:"team_id"`
	WorkspaceID uint        `gorm:"not null;index" json:"workspace_id"`
	WorkItemID  uint        `gorm:"not null;index" json:"work_item_id"`
	Phase       phase.Phase `gorm:"type:varchar(32);not null" json:"phase"`
	EnteredAt   time.Time   `gorm:"not null" json:"entered_at"`
	EnteredBy   uint        `gorm:"not null" json:"entered_by"`
}

// TableName overrides the default pluralised name.
func (PhaseHistory) TableName() string {
	return "phase_history"
}
