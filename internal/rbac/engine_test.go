package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(store, WithClock(func() time.Time { return clock }))
	return e, store
}

func TestAdminWildcardGrantsEverything(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, req := range []Request{
		{Resource: "tasks", Action: "create"},
		{Resource: "audit", Action: "verify"},
		{Resource: "anything", Action: "whatsoever"},
	} {
		if d := e.CheckPermission(RoleAdmin, req, nil); !d.Allowed {
			t.Fatalf("admin denied %s:%s: %s", req.Resource, req.Action, d.Reason)
		}
	}
}

func TestViewerDeniedWrites(t *testing.T) {
	e, _ := newTestEngine(t)

	if d := e.CheckPermission(RoleViewer, Request{Resource: "tasks", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("viewer denied tasks:read: %s", d.Reason)
	}
	d := e.CheckPermission(RoleViewer, Request{Resource: "tasks", Action: "create"}, nil)
	if d.Allowed {
		t.Fatal("viewer allowed tasks:create")
	}
	if d.Reason == "" {
		t.Fatal("denial carries no reason")
	}
}

func TestInheritanceUnionsParentPermissions(t *testing.T) {
	e, _ := newTestEngine(t)

	// operator inherits viewer: reads come from the parent, writes are its
	// own.
	if d := e.CheckPermission(RoleOperator, Request{Resource: "system", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("operator denied inherited system:read: %s", d.Reason)
	}
	if d := e.CheckPermission(RoleOperator, Request{Resource: "tasks", Action: "create"}, nil); !d.Allowed {
		t.Fatalf("operator denied own tasks:create: %s", d.Reason)
	}
	if d := e.CheckPermission(RoleOperator, Request{Resource: "audit", Action: "verify"}, nil); d.Allowed {
		t.Fatal("operator allowed auditor-only permission")
	}
}

func TestDiamondInheritanceResolves(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	base := RoleDefinition{ID: "base", Name: "Base", Permissions: []Permission{{Resource: "docs", Actions: []string{"read"}}}}
	left := RoleDefinition{ID: "left", Name: "Left", InheritFrom: []string{"base"}}
	right := RoleDefinition{ID: "right", Name: "Right", InheritFrom: []string{"base"}}
	top := RoleDefinition{ID: "top", Name: "Top", InheritFrom: []string{"left", "right"}}
	for _, r := range []RoleDefinition{base, left, right, top} {
		if err := e.SaveRole(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if d := e.CheckPermission("top", Request{Resource: "docs", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("diamond inheritance denied: %s", d.Reason)
	}
}

func TestInheritanceCycleDeniesInsteadOfCrashing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a := RoleDefinition{ID: "a", Name: "A", InheritFrom: []string{"b"},
		Permissions: []Permission{{Resource: "docs", Actions: []string{"read"}}}}
	b := RoleDefinition{ID: "b", Name: "B", InheritFrom: []string{"a"}}
	if err := e.SaveRole(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := e.SaveRole(ctx, b); err != nil {
		t.Fatal(err)
	}

	d := e.CheckPermission("a", Request{Resource: "docs", Action: "read"}, nil)
	if d.Allowed {
		t.Fatal("cyclic role graph granted a permission")
	}
	if d.Reason == "" {
		t.Fatal("cycle denial carries no reason")
	}
}

func TestDanglingParentIsIgnored(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	r := RoleDefinition{ID: "orphaned", Name: "Orphaned", InheritFrom: []string{"deleted-parent"},
		Permissions: []Permission{{Resource: "docs", Actions: []string{"read"}}}}
	if err := e.SaveRole(ctx, r); err != nil {
		t.Fatal(err)
	}

	if d := e.CheckPermission("orphaned", Request{Resource: "docs", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("own permission lost to a dangling parent: %s", d.Reason)
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	e, _ := newTestEngine(t)
	if d := e.CheckPermission("ghost", Request{Resource: "tasks", Action: "read"}, nil); d.Allowed {
		t.Fatal("unknown role granted a permission")
	}
	if d := e.CheckPermission("", Request{Resource: "tasks", Action: "read"}, nil); d.Allowed {
		t.Fatal("empty role granted a permission")
	}
}

func TestConditions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	role := RoleDefinition{
		ID: "team-lead", Name: "Team lead",
		Permissions: []Permission{
			{
				Resource: "tasks",
				Actions:  []string{"cancel"},
				Conditions: []Condition{
					{Attribute: "team", Operator: OpEq, Value: "core"},
					{Attribute: "env", Operator: OpNe, Value: "prod"},
					{Attribute: "region", Operator: OpIn, Value: []any{"eu", "us"}},
				},
			},
		},
	}
	if err := e.SaveRole(ctx, role); err != nil {
		t.Fatal(err)
	}
	req := Request{Resource: "tasks", Action: "cancel"}

	ok := map[string]any{"team": "core", "env": "staging", "region": "eu"}
	if d := e.CheckPermission("team-lead", req, ok); !d.Allowed {
		t.Fatalf("all conditions hold but denied: %s", d.Reason)
	}

	cases := map[string]map[string]any{
		"eq fails":          {"team": "infra", "env": "staging", "region": "eu"},
		"ne fails":          {"team": "core", "env": "prod", "region": "eu"},
		"in fails":          {"team": "core", "env": "staging", "region": "ap"},
		"missing attribute": {"team": "core", "env": "staging"},
		"no attributes":     nil,
	}
	for name, attrs := range cases {
		if d := e.CheckPermission("team-lead", req, attrs); d.Allowed {
			t.Fatalf("%s: granted", name)
		}
	}
}

func TestConditionNumericEquality(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	role := RoleDefinition{
		ID: "tier2", Name: "Tier 2",
		Permissions: []Permission{{
			Resource:   "tasks",
			Actions:    []string{"escalate"},
			Conditions: []Condition{{Attribute: "tier", Operator: OpEq, Value: float64(2)}},
		}},
	}
	if err := e.SaveRole(ctx, role); err != nil {
		t.Fatal(err)
	}

	// Attributes may arrive as int from Go callers or float64 from decoded
	// JSON; both must compare equal.
	req := Request{Resource: "tasks", Action: "escalate"}
	if d := e.CheckPermission("tier2", req, map[string]any{"tier": 2}); !d.Allowed {
		t.Fatalf("int attribute denied: %s", d.Reason)
	}
	if d := e.CheckPermission("tier2", req, map[string]any{"tier": float64(2)}); !d.Allowed {
		t.Fatalf("float64 attribute denied: %s", d.Reason)
	}
	if d := e.CheckPermission("tier2", req, map[string]any{"tier": 3}); d.Allowed {
		t.Fatal("wrong tier granted")
	}
}

func TestPersistedRoleWinsIdCollision(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	custom := RoleDefinition{
		ID: RoleViewer, Name: "Restricted viewer",
		Permissions: []Permission{{Resource: "tasks", Actions: []string{"read"}}},
	}
	if err := store.SaveRole(ctx, custom); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadPersisted(ctx); err != nil {
		t.Fatal(err)
	}

	// The override drops the builtin's system:read.
	if d := e.CheckPermission(RoleViewer, Request{Resource: "system", Action: "read"}, nil); d.Allowed {
		t.Fatal("builtin definition survived an id collision")
	}
	if d := e.CheckPermission(RoleViewer, Request{Resource: "tasks", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("override denied its own permission: %s", d.Reason)
	}
}

func TestDeleteOverrideRestoresBuiltin(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	override := RoleDefinition{
		ID: RoleViewer, Name: "Restricted viewer",
		Permissions: []Permission{{Resource: "tasks", Actions: []string{"read"}}},
	}
	if err := e.SaveRole(ctx, override); err != nil {
		t.Fatal(err)
	}
	if d := e.CheckPermission(RoleViewer, Request{Resource: "system", Action: "read"}, nil); d.Allowed {
		t.Fatal("override not in effect")
	}

	if err := e.DeleteRole(ctx, RoleViewer); err != nil {
		t.Fatal(err)
	}
	if d := e.CheckPermission(RoleViewer, Request{Resource: "system", Action: "read"}, nil); !d.Allowed {
		t.Fatalf("builtin not restored after override delete: %s", d.Reason)
	}
}

func TestDeleteBuiltinRefused(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.DeleteRole(context.Background(), RoleAdmin); !errors.Is(err, ErrBuiltinRole) {
		t.Fatalf("expected ErrBuiltinRole, got %v", err)
	}
}

func TestDeleteUnknownRole(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.DeleteRole(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleKeepsSingleActive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.AssignRole(ctx, "u1", RoleViewer, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AssignRole(ctx, "u1", RoleOperator, "admin"); err != nil {
		t.Fatal(err)
	}

	role, err := e.ActiveRole(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if role != RoleOperator {
		t.Fatalf("active role = %q, want operator", role)
	}

	history, err := e.AssignmentHistory(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
	active := 0
	for _, a := range history {
		if a.RevokedAt == nil {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active rows = %d, want exactly 1", active)
	}
}

func TestAssignUnknownRoleRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.AssignRole(context.Background(), "u1", "ghost", "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRole(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.AssignRole(ctx, "u1", RoleViewer, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := e.RevokeRole(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ActiveRole(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active role, got %v", err)
	}
	if err := e.RevokeRole(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke should report nothing active, got %v", err)
	}
}

func TestReadPathsDoNotMutate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.AssignRole(ctx, "u1", RoleViewer, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AssignRole(ctx, "u2", RoleViewer, "admin"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.ActiveRole(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ListActiveAssignments(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := e.UsersByRole(ctx, RoleViewer); err != nil {
			t.Fatal(err)
		}
		if _, err := e.AssignmentHistory(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
	}

	users, err := e.UsersByRole(ctx, RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("users by role = %v", users)
	}
	history, _ := e.AssignmentHistory(ctx, "u1")
	if len(history) != 1 {
		t.Fatalf("history grew to %d rows from reads", len(history))
	}
}

func TestPermissionStrings(t *testing.T) {
	e, _ := newTestEngine(t)

	admin, err := e.PermissionStrings(RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if len(admin) != 1 || admin[0] != "*:*" {
		t.Fatalf("admin permission strings = %v", admin)
	}

	operator, err := e.PermissionStrings(RoleOperator)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"tasks:read": true, "tasks:create": true, "system:read": true}
	got := make(map[string]bool, len(operator))
	for _, p := range operator {
		got[p] = true
	}
	for p := range want {
		if !got[p] {
			t.Fatalf("operator missing %q in %v", p, operator)
		}
	}
	for i := 1; i < len(operator); i++ {
		if operator[i-1] >= operator[i] {
			t.Fatalf("permission strings not sorted: %v", operator)
		}
	}

	if _, err := e.PermissionStrings("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissionStringsExcludeConditional(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	role := RoleDefinition{
		ID: "cond", Name: "Conditional",
		Permissions: []Permission{
			{Resource: "docs", Actions: []string{"read"}},
			{Resource: "docs", Actions: []string{"delete"},
				Conditions: []Condition{{Attribute: "owner", Operator: OpEq, Value: "self"}}},
		},
	}
	if err := e.SaveRole(ctx, role); err != nil {
		t.Fatal(err)
	}

	perms, err := e.PermissionStrings("cond")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 || perms[0] != "docs:read" {
		t.Fatalf("conditional permission leaked into snapshot: %v", perms)
	}
}

func TestSaveRoleValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	bad := []RoleDefinition{
		{ID: "", Name: "x"},
		{ID: "x", Name: ""},
		{ID: "x", Name: "x", Permissions: []Permission{{Resource: "", Actions: []string{"read"}}}},
		{ID: "x", Name: "x", Permissions: []Permission{{Resource: "docs", Actions: nil}}},
		{ID: "x", Name: "x", Permissions: []Permission{{Resource: "docs", Actions: []string{"read"},
			Conditions: []Condition{{Attribute: "a", Operator: "like", Value: "b"}}}}},
	}
	for i, r := range bad {
		if err := e.SaveRole(ctx, r); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}
