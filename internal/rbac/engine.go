// Package rbac resolves permissions over a role graph with inheritance.
// Roles are nodes; InheritFrom edges union a parent's permissions into the
// child. Resolution is a bounded traversal: a cycle in the graph denies the
// check instead of recursing forever.
package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine answers permission checks and manages role assignments. The merged
// role map (builtins overlaid with persisted custom definitions) is owned by
// the engine and mutated only through SaveRole/DeleteRole.
type Engine struct {
	storage Storage
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	roles map[string]RoleDefinition
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an engine with the builtin roles installed. Call
// LoadPersisted to merge custom definitions from storage.
func NewEngine(storage Storage, opts ...Option) *Engine {
	e := &Engine{
		storage: storage,
		logger:  zap.NewNop(),
		now:     time.Now,
		roles:   make(map[string]RoleDefinition),
	}
	for _, r := range BuiltinRoles() {
		e.roles[r.ID] = r
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("rbac")
	return e
}

// LoadPersisted merges stored custom roles over the builtins. A persisted
// definition wins an id collision with a builtin.
func (e *Engine) LoadPersisted(ctx context.Context) error {
	roles, err := e.storage.Roles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: load roles: %w", err)
	}
	e.mu.Lock()
	for _, r := range roles {
		e.roles[r.ID] = r
	}
	total := len(e.roles)
	e.mu.Unlock()

	e.logger.Info("rbac roles loaded",
		zap.Int("persisted", len(roles)),
		zap.Int("total", total))
	return nil
}

// CheckPermission resolves the role's flattened permission set and matches
// the request against it. Ordinary denials are values; the error return is
// reserved for storage problems, which this in-memory path never has.
func (e *Engine) CheckPermission(roleID string, req Request, attrs map[string]any) Decision {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Decision{Allowed: false, Reason: "no role"}
	}
	if req.Resource == "" || req.Action == "" {
		return Decision{Allowed: false, Reason: "resource and action are required"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.roles[roleID]; !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown role %q", roleID)}
	}
	perms, err := e.flatten(roleID)
	if err != nil {
		e.logger.Warn("rbac resolution failed", zap.String("role", roleID), zap.Error(err))
		return Decision{Allowed: false, Reason: err.Error()}
	}

	for _, p := range perms {
		if !permissionMatches(p, req) {
			continue
		}
		if conditionsHold(p.Conditions, attrs) {
			return Decision{Allowed: true}
		}
	}
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("role %q has no permission for %s:%s", roleID, req.Resource, req.Action),
	}
}

// flatten unions permissions along the inheritance graph. Callers hold at
// least the read lock. Parents already processed through another path are
// skipped (diamonds are fine); a parent still on the current path is a
// cycle and fails the resolution.
func (e *Engine) flatten(rootID string) ([]Permission, error) {
	var out []Permission
	visited := make(map[string]bool)
	onPath := make(map[string]bool)

	var walk func(id string) error
	walk = func(id string) error {
		if onPath[id] {
			return fmt.Errorf("rbac: inheritance cycle at role %q", id)
		}
		if visited[id] {
			return nil
		}
		role, ok := e.roles[id]
		if !ok {
			// Dangling parent reference contributes nothing.
			return nil
		}
		onPath[id] = true
		for _, parent := range role.InheritFrom {
			if err := walk(parent); err != nil {
				return err
			}
		}
		onPath[id] = false
		visited[id] = true
		out = append(out, role.Permissions...)
		return nil
	}
	if err := walk(rootID); err != nil {
		return nil, err
	}
	return out, nil
}

func permissionMatches(p Permission, req Request) bool {
	if p.Resource != "*" && p.Resource != req.Resource {
		return false
	}
	for _, a := range p.Actions {
		if a == "*" || a == req.Action {
			return true
		}
	}
	return false
}

func conditionsHold(conds []Condition, attrs map[string]any) bool {
	for _, c := range conds {
		v, ok := attrs[c.Attribute]
		if !ok {
			return false
		}
		switch c.Operator {
		case OpEq:
			if !valuesEqual(v, c.Value) {
				return false
			}
		case OpNe:
			if valuesEqual(v, c.Value) {
				return false
			}
		case OpIn:
			list, ok := c.Value.([]any)
			if !ok {
				return false
			}
			found := false
			for _, item := range list {
				if valuesEqual(v, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// valuesEqual compares attribute values across the numeric types JSON
// decoding produces.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// PermissionStrings flattens the role's permission set, inheritance
// included, into sorted resource:action strings with wildcards preserved.
// Conditional permissions are excluded: a token snapshot has no request
// attributes to evaluate them against later.
func (e *Engine) PermissionStrings(roleID string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.roles[roleID]; !ok {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, roleID)
	}
	perms, err := e.flatten(roleID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, p := range perms {
		if len(p.Conditions) > 0 {
			continue
		}
		for _, a := range p.Actions {
			set[p.Resource+":"+a] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Role returns a definition from the merged map.
func (e *Engine) Role(id string) (RoleDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.roles[id]
	return r, ok
}

// Roles lists the merged role map.
func (e *Engine) Roles() []RoleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RoleDefinition, 0, len(e.roles))
	for _, r := range e.roles {
		out = append(out, r)
	}
	return out
}

func validateRole(role RoleDefinition) error {
	if strings.TrimSpace(role.ID) == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(role.Name) == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	for _, p := range role.Permissions {
		if p.Resource == "" {
			return fmt.Errorf("%w: permission resource is required", ErrInvalidInput)
		}
		if len(p.Actions) == 0 {
			return fmt.Errorf("%w: permission needs at least one action", ErrInvalidInput)
		}
		for _, c := range p.Conditions {
			if c.Attribute == "" {
				return fmt.Errorf("%w: condition attribute is required", ErrInvalidInput)
			}
			switch c.Operator {
			case OpEq, OpNe, OpIn:
			default:
				return fmt.Errorf("%w: unknown condition operator %q", ErrInvalidInput, c.Operator)
			}
		}
	}
	return nil
}

// SaveRole persists a custom definition and installs it in the merged map.
// Saving under a builtin id overrides that builtin until the override is
// deleted.
func (e *Engine) SaveRole(ctx context.Context, role RoleDefinition) error {
	if err := validateRole(role); err != nil {
		return err
	}
	if err := e.storage.SaveRole(ctx, role); err != nil {
		return fmt.Errorf("rbac: save role: %w", err)
	}
	e.mu.Lock()
	e.roles[role.ID] = role
	e.mu.Unlock()

	e.logger.Info("role saved", zap.String("role", role.ID))
	return nil
}

// DeleteRole removes a custom definition. Deleting an override of a builtin
// restores the builtin; a builtin without an override cannot be deleted.
func (e *Engine) DeleteRole(ctx context.Context, id string) error {
	err := e.storage.DeleteRole(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if isBuiltinRole(id) {
			return ErrBuiltinRole
		}
		return ErrNotFound
	default:
		return fmt.Errorf("rbac: delete role: %w", err)
	}

	e.mu.Lock()
	if builtin, ok := builtinRole(id); ok {
		e.roles[id] = builtin
	} else {
		delete(e.roles, id)
	}
	e.mu.Unlock()

	e.logger.Info("role deleted", zap.String("role", id))
	return nil
}

// AssignRole gives the user a new active role. The storage layer revokes any
// prior active assignment and inserts the new row atomically.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID, assignedBy string) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return Assignment{}, fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, ok := e.Role(roleID); !ok {
		return Assignment{}, fmt.Errorf("%w: role %q", ErrNotFound, roleID)
	}

	a, err := e.storage.Assign(ctx, userID, roleID, assignedBy, e.now().UTC())
	if err != nil {
		return Assignment{}, fmt.Errorf("rbac: assign role: %w", err)
	}
	e.logger.Info("role assigned",
		zap.String("user_id", userID),
		zap.String("role", roleID),
		zap.String("assigned_by", assignedBy))
	return a, nil
}

// RevokeRole ends the user's active assignment, leaving the history row.
func (e *Engine) RevokeRole(ctx context.Context, userID string) error {
	found, err := e.storage.Revoke(ctx, userID, e.now().UTC())
	if err != nil {
		return fmt.Errorf("rbac: revoke role: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	e.logger.Info("role revoked", zap.String("user_id", userID))
	return nil
}

// ActiveRole reads the user's current role id.
func (e *Engine) ActiveRole(ctx context.Context, userID string) (string, error) {
	a, err := e.storage.ActiveAssignment(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.RoleID, nil
}

// ListActiveAssignments lists every user's current assignment.
func (e *Engine) ListActiveAssignments(ctx context.Context) ([]Assignment, error) {
	return e.storage.ListActive(ctx)
}

// UsersByRole lists users whose active assignment is the given role.
func (e *Engine) UsersByRole(ctx context.Context, roleID string) ([]string, error) {
	return e.storage.UsersByRole(ctx, roleID)
}

// AssignmentHistory returns every assignment row for the user, revoked ones
// included.
func (e *Engine) AssignmentHistory(ctx context.Context, userID string) ([]Assignment, error) {
	return e.storage.History(ctx, userID)
}
