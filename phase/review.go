package phase

import (
	"strings"
	"time"
)

// RequestReview moves the review gate to pending. It may be called any
// number of times; re-requesting after a rejection clears the reason.
func (c *Catalog) RequestReview(item Item, perms PermissionSet, now time.Time) (Item, Decision) {
	if d := c.validate(item); !d.Allowed {
		return item, d
	}
	if !item.ReviewEnabled {
		return item, Deny(ReasonReviewNotEnabled, "review is not enabled for this work item")
	}
	if c.IsTerminal(item.Type, item.Phase) {
		return item, Deny(ReasonAlreadyTerminal, "phase %q is terminal", item.Phase)
	}
	if !perms.For(item.Phase).CanEdit {
		return item, Deny(ReasonForbidden, "no edit permission on phase %q", item.Phase)
	}

	requested := now
	item.ReviewStatus = ReviewPending
	item.ReviewReason = ""
	item.ReviewRequestedAt = &requested
	return item, Allow()
}

// ApproveReview approves a pending review.
func (c *Catalog) ApproveReview(item Item, perms PermissionSet) (Item, Decision) {
	if d := c.validate(item); !d.Allowed {
		return item, d
	}
	if d := canDecide(item, perms); !d.Allowed {
		return item, d
	}
	if item.ReviewStatus != ReviewPending {
		return item, Deny(ReasonReviewNotPending, "review is %s, not pending", item.ReviewStatus)
	}

	item.ReviewStatus = ReviewApproved
	item.ReviewReason = ""
	return item, Allow()
}

// RejectReview rejects a pending review. The reason is mandatory.
func (c *Catalog) RejectReview(item Item, reason string, perms PermissionSet) (Item, Decision) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return item, Deny(ReasonMissingRejectionReason, "a rejection reason is required")
	}
	if d := c.validate(item); !d.Allowed {
		return item, d
	}
	if d := canDecide(item, perms); !d.Allowed {
		return item, d
	}
	if item.ReviewStatus != ReviewPending {
		return item, Deny(ReasonReviewNotPending, "review is %s, not pending", item.ReviewStatus)
	}

	item.ReviewStatus = ReviewRejected
	item.ReviewReason = reason
	return item, Allow()
}

// SetReviewEnabled turns the gate on or off and resets it to none.
func (c *Catalog) SetReviewEnabled(item Item, enabled bool, perms PermissionSet) (Item, Decision) {
	if d := c.validate(item); !d.Allowed {
		return item, d
	}
	if d := canDecide(item, perms); !d.Allowed {
		return item, d
	}

	item.ReviewEnabled = enabled
	item.ReviewStatus = ReviewNone
	item.ReviewReason = ""
	item.ReviewRequestedAt = nil
	return item, Allow()
}

func canDecide(item Item, perms PermissionSet) Decision {
	if perms.IsAdmin() || perms.For(item.Phase).IsLead {
		return Allow()
	}
	return Deny(ReasonForbidden, "only an admin or the lead of phase %q can decide reviews", item.Phase)
}
