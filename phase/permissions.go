package phase

// Role is a team-wide membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// IsValid reports whether r is one of the three membership roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// IsAdmin reports whether r bypasses phase assignments.
func (r Role) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Permission is the capability set of one actor on one phase.
type Permission struct {
	CanView              bool `json:"can_view"`
	CanEdit              bool `json:"can_edit"`
	CanDelete            bool `json:"can_delete"`
	IsLead               bool `json:"is_lead"`
	CanManageAssignments bool `json:"can_manage_assignments"`
}

func fullPermission() Permission {
	return Permission{CanView: true, CanEdit: true, CanDelete: true, IsLead: true, CanManageAssignments: true}
}

// Assignment is the per-phase grant loaded for one user in one workspace.
type Assignment struct {
	Phase   Phase
	CanEdit bool
	IsLead  bool
}

// PermissionSet maps each applicable phase to the actor's permission on it.
// Values are immutable; all derived queries are projections of the same
// snapshot.
type PermissionSet struct {
	role   Role
	phases []Phase
	perms  map[Phase]Permission
}

// ResolvePermissions computes the per-phase permissions of a team member.
//
// Owners and admins get full permission on every phase without looking at
// assignments. Everyone else can view every phase and gains edit, delete,
// lead and assignment management only from an assignment row. An empty role
// means the caller found no membership row and yields ErrNotAMember.
func ResolvePermissions(role Role, assignments []Assignment, phases []Phase) (PermissionSet, error) {
	if role == "" {
		return PermissionSet{}, ErrNotAMember
	}
	if !role.IsValid() {
		return PermissionSet{}, Block(ReasonInvalidRole, "unknown team role %q", role)
	}

	set := PermissionSet{
		role:   role,
		phases: append([]Phase(nil), phases...),
		perms:  make(map[Phase]Permission, len(phases)),
	}
	if role.IsAdmin() {
		for _, p := range phases {
			set.perms[p] = fullPermission()
		}
		return set, nil
	}

	byPhase := make(map[Phase]Assignment, len(assignments))
	for _, a := range assignments {
		prev := byPhase[a.Phase]
		byPhase[a.Phase] = Assignment{
			Phase:   a.Phase,
			CanEdit: prev.CanEdit || a.CanEdit,
			IsLead:  prev.IsLead || a.IsLead,
		}
	}
	for _, p := range phases {
		perm := Permission{CanView: true}
		if a, ok := byPhase[p]; ok {
			edit := a.CanEdit || a.IsLead
			perm.CanEdit = edit
			perm.CanDelete = edit
			perm.IsLead = a.IsLead
			perm.CanManageAssignments = a.IsLead
		}
		set.perms[p] = perm
	}
	return set, nil
}

// Role returns the membership role the set was resolved for.
func (s PermissionSet) Role() Role { return s.role }

// IsAdmin reports whether the actor is an owner or admin.
func (s PermissionSet) IsAdmin() bool { return s.role.IsAdmin() }

// For returns the permission on p. Phases outside the applicable set get
// the zero permission.
func (s PermissionSet) For(p Phase) Permission {
	return s.perms[p]
}

// Phases returns the applicable phases in catalog order.
func (s PermissionSet) Phases() []Phase {
	return append([]Phase(nil), s.phases...)
}

// Map returns a copy of the phase to permission mapping.
func (s PermissionSet) Map() map[Phase]Permission {
	out := make(map[Phase]Permission, len(s.perms))
	for p, perm := range s.perms {
		out[p] = perm
	}
	return out
}

func (s PermissionSet) HasAnyEditPermission() bool {
	return s.EditablePhaseCount() > 0
}

func (s PermissionSet) IsLeadInAnyPhase() bool {
	return s.LeadPhaseCount() > 0
}

func (s PermissionSet) EditablePhaseCount() int {
	return len(s.EditablePhases())
}

func (s PermissionSet) LeadPhaseCount() int {
	return len(s.LeadPhases())
}

// EditablePhases lists phases with CanEdit, in catalog order.
func (s PermissionSet) EditablePhases() []Phase {
	var out []Phase
	for _, p := range s.phases {
		if s.perms[p].CanEdit {
			out = append(out, p)
		}
	}
	return out
}

// LeadPhases lists phases with IsLead, in catalog order.
func (s PermissionSet) LeadPhases() []Phase {
	var out []Phase
	for _, p := range s.phases {
		if s.perms[p].IsLead {
			out = append(out, p)
		}
	}
	return out
}

// Summary is the serialisable form of a PermissionSet.
type Summary struct {
	Role                 Role                 `json:"role"`
	Phases               map[Phase]Permission `json:"phases"`
	HasAnyEditPermission bool                 `json:"has_any_edit_permission"`
	IsLeadInAnyPhase     bool                 `json:"is_lead_in_any_phase"`
	EditablePhaseCount   int                  `json:"editable_phase_count"`
	LeadPhaseCount       int                  `json:"lead_phase_count"`
	EditablePhases       []Phase              `json:"editable_phases"`
	LeadPhases           []Phase              `json:"lead_phases"`
}

func (s PermissionSet) Summary() Summary {
	return Summary{
		Role:                 s.role,
		Phases:               s.Map(),
		HasAnyEditPermission: s.HasAnyEditPermission(),
		IsLeadInAnyPhase:     s.IsLeadInAnyPhase(),
		EditablePhaseCount:   s.EditablePhaseCount(),
		LeadPhaseCount:       s.LeadPhaseCount(),
		EditablePhases:       s.EditablePhases(),
		LeadPhases:           s.LeadPhases(),
	}
}
