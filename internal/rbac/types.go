package rbac

import "time"

// Operator compares a permission condition against caller-supplied
// attributes.
type Operator string

const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpIn Operator = "in"
)

// Condition gates a permission on a request attribute. A missing attribute
// fails the condition; permissions fail closed.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	// Value is a scalar for eq/ne and a list for in.
	Value any `json:"value"`
}

// Permission grants actions on a resource. "*" matches any value in either
// position.
type Permission struct {
	Resource   string      `json:"resource"`
	Actions    []string    `json:"actions"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// RoleDefinition is a node in the role graph. InheritFrom lists parent role
// ids whose permissions this role absorbs.
type RoleDefinition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	InheritFrom []string     `json:"inherit_from,omitempty"`
}

// Assignment binds a user to a role. At most one assignment per user is
// active (RevokedAt == nil) at any instant; history rows are append-only.
type Assignment struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Request names the resource/action pair being authorized.
type Request struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Decision is the outcome of a permission check. An ordinary denial is a
// value, never an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
