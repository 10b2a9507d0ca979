package rbac

// Builtin role ids.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
	RoleViewer   = "viewer"
)

// BuiltinRoles returns the fixed default role graph. Persisted custom
// definitions merged at startup win on id collision; deleting such an
// override restores the builtin.
func BuiltinRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			ID:          RoleAdmin,
			Name:        "Administrator",
			Description: "Full access to every resource.",
			Permissions: []Permission{
				{Resource: "*", Actions: []string{"*"}},
			},
		},
		{
			ID:          RoleOperator,
			Name:        "Operator",
			Description: "Runs and manages agent tasks.",
			InheritFrom: []string{RoleViewer},
			Permissions: []Permission{
				{Resource: "tasks", Actions: []string{"create", "update", "cancel"}},
				{Resource: "agents", Actions: []string{"spawn", "stop", "restart"}},
				{Resource: "apikeys", Actions: []string{"create", "list"}},
			},
		},
		{
			ID:          RoleAuditor,
			Name:        "Auditor",
			Description: "Reads and verifies the audit trail.",
			InheritFrom: []string{RoleViewer},
			Permissions: []Permission{
				{Resource: "audit", Actions: []string{"read", "verify", "export"}},
			},
		},
		{
			ID:          RoleViewer,
			Name:        "Viewer",
			Description: "Read-only visibility.",
			Permissions: []Permission{
				{Resource: "tasks", Actions: []string{"read"}},
				{Resource: "agents", Actions: []string{"read"}},
				{Resource: "system", Actions: []string{"read"}},
			},
		},
	}
}

func isBuiltinRole(id string) bool {
	switch id {
	case RoleAdmin, RoleOperator, RoleAuditor, RoleViewer:
		return true
	}
	return false
}

func builtinRole(id string) (RoleDefinition, bool) {
	for _, r := range BuiltinRoles() {
		if r.ID == id {
			return r, true
		}
	}
	return RoleDefinition{}, false
}
