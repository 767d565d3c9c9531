package phase

import "time"

// ReviewStatus is the state of an item's review gate.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = "none"
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Item is the slice of a work item the guard and review gate operate on.
type Item struct {
	Type              WorkItemType
	Phase             Phase
	ReviewEnabled     bool
	ReviewStatus      ReviewStatus
	ReviewReason      string
	ReviewRequestedAt *time.Time
	PlannedStart      *time.Time
	PlannedEnd        *time.Time
}

// EffectivePhase is the phase used for display. It is the stored phase.
func EffectivePhase(item Item) Phase {
	return item.Phase
}

// Bucket is a coarse timeline horizon.
type Bucket string

const (
	BucketMVP   Bucket = "MVP"
	BucketShort Bucket = "SHORT"
	BucketLong  Bucket = "LONG"
)

const (
	mvpHorizon   = 30 * 24 * time.Hour
	shortHorizon = 90 * 24 * time.Hour
)

// TimelineBucket places a planned date range on the roadmap relative to now.
// The end date wins over the start date; items without either are LONG.
// Overdue items stay in MVP.
func TimelineBucket(start, end *time.Time, now time.Time) Bucket {
	ref := end
	if ref == nil {
		ref = start
	}
	if ref == nil {
		return BucketLong
	}
	switch {
	case !ref.After(now.Add(mvpHorizon)):
		return BucketMVP
	case !ref.After(now.Add(shortHorizon)):
		return BucketShort
	default:
		return BucketLong
	}
}
