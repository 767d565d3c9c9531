package phase

import "strings"

// validate reports the decision for an item whose type or current phase the
// catalog does not know, or Allow.
func (c *Catalog) validate(item Item) Decision {
	if !c.Known(item.Type) {
		return Deny(ReasonUnknownType, "unknown work item type %q", item.Type)
	}
	if !c.Contains(item.Type, item.Phase) {
		return Deny(ReasonInvalidPhaseForType, "%q is not a %s phase", item.Phase, item.Type)
	}
	return Allow()
}

// CanTransition decides whether an actor holding perms may move item to
// target. Rules apply in order: target valid for the type, edit permission
// on the current phase, current phase not terminal, review gate on the
// target, and target an immediate successor.
func (c *Catalog) CanTransition(item Item, target Phase, perms PermissionSet) Decision {
	if d := c.validate(item); !d.Allowed {
		return d
	}
	if !c.Contains(item.Type, target) {
		return Deny(ReasonInvalidPhaseForType, "%q is not a %s phase", target, item.Type)
	}
	if !perms.For(item.Phase).CanEdit {
		return Deny(ReasonForbidden, "no edit permission on phase %q", item.Phase)
	}
	if c.IsTerminal(item.Type, item.Phase) {
		return Deny(ReasonAlreadyTerminal, "phase %q is terminal", item.Phase)
	}
	if c.IsReviewGated(item.Type, target) && item.ReviewEnabled && item.ReviewStatus != ReviewApproved {
		return Deny(ReasonReviewRequired, "entering %q requires an approved review", target)
	}

	next := c.Successors(item.Type, item.Phase)
	for _, n := range next {
		if n == target {
			return Allow()
		}
	}
	names := make([]string, len(next))
	for i, n := range next {
		names[i] = string(n)
	}
	return Deny(ReasonOutOfOrder, "%s can only move from %q to %s", item.Type, item.Phase, strings.Join(names, " or "))
}
