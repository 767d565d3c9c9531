package phase

import (
	"sort"
	"strings"
)

// CheckFieldEdit decides whether an actor may write the given fields of
// item while it sits in its current phase.
func (c *Catalog) CheckFieldEdit(item Item, fields []string, perms PermissionSet) Decision {
	if d := c.validate(item); !d.Allowed {
		return d
	}
	if !perms.For(item.Phase).CanEdit {
		return Deny(ReasonForbidden, "no edit permission on phase %q", item.Phase)
	}

	var locked []string
	for _, f := range fields {
		if !c.IsEditableField(item.Type, item.Phase, f) {
			locked = append(locked, f)
		}
	}
	if len(locked) > 0 {
		sort.Strings(locked)
		return Deny(ReasonFieldNotEditable, "fields not editable in phase %q: %s", item.Phase, strings.Join(locked, ", "))
	}
	return Allow()
}

// FilterVisible drops the entries of values that are not visible for t in
// phase p.
func (c *Catalog) FilterVisible(t WorkItemType, p Phase, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for _, f := range c.VisibleFields(t, p) {
		if v, ok := values[f]; ok {
			out[f] = v
		}
	}
	return out
}
