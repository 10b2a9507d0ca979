package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/rbac"
)

func (s *Store) SaveRole(ctx context.Context, role rbac.RoleDefinition) error {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	var inheritJSON []byte
	if len(role.InheritFrom) > 0 {
		b, err := json.Marshal(role.InheritFrom)
		if err != nil {
			return fmt.Errorf("marshal inherit_from: %w", err)
		}
		inheritJSON = b
	}
	_, err = s.db.ExecContext(ctx, `
		insert into role_definitions
			(id, name, description, permissions_json, inherit_from_json, created_at)
		values ($1, $2, $3, $4, $5, now())
		on conflict (id) do update set
			name = excluded.name,
			description = excluded.description,
			permissions_json = excluded.permissions_json,
			inherit_from_json = excluded.inherit_from_json,
			updated_at = now()
	`, role.ID, role.Name, nullIfEmpty(role.Description), permsJSON, inheritJSON)
	return err
}

const roleColumns = `id, name, description, permissions_json, inherit_from_json`

func (s *Store) Role(ctx context.Context, id string) (rbac.RoleDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from role_definitions
		where id = $1
	`, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleDefinition{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) Roles(ctx context.Context) ([]rbac.RoleDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from role_definitions
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.RoleDefinition
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from role_definitions where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// Assign revokes the user's active assignment and inserts the new row in one
// transaction, upholding the single-active invariant that the partial unique
// index enforces.
func (s *Store) Assign(ctx context.Context, userID, roleID, assignedBy string, at time.Time) (rbac.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		update user_role_assignments set revoked_at = $2
		where user_id = $1 and revoked_at is null
	`, userID, at)
	if err != nil {
		return rbac.Assignment{}, err
	}

	a := rbac.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: at,
	}
	err = tx.QueryRowContext(ctx, `
		insert into user_role_assignments (user_id, role_id, assigned_by, assigned_at)
		values ($1, $2, $3, $4)
		returning id
	`, userID, roleID, assignedBy, at).Scan(&a.ID)
	if err != nil {
		return rbac.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return rbac.Assignment{}, err
	}
	return a, nil
}

func (s *Store) Revoke(ctx context.Context, userID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update user_role_assignments set revoked_at = $2
		where user_id = $1 and revoked_at is null
	`, userID, at)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

const assignmentColumns = `id, user_id, role_id, assigned_by, assigned_at, revoked_at`

func (s *Store) ActiveAssignment(ctx context.Context, userID string) (*rbac.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from user_role_assignments
		where user_id = $1 and revoked_at is null
	`, userID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListActive(ctx context.Context) ([]rbac.Assignment, error) {
	return s.queryAssignments(ctx, `
		select `+assignmentColumns+`
		from user_role_assignments
		where revoked_at is null
		order by user_id
	`)
}

func (s *Store) UsersByRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct user_id
		from user_role_assignments
		where role_id = $1 and revoked_at is null
		order by user_id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) History(ctx context.Context, userID string) ([]rbac.Assignment, error) {
	return s.queryAssignments(ctx, `
		select `+assignmentColumns+`
		from user_role_assignments
		where user_id = $1
		order by id
	`, userID)
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]rbac.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRole(sc interface{ Scan(dest ...any) error }) (rbac.RoleDefinition, error) {
	var (
		role        rbac.RoleDefinition
		desc        sql.NullString
		permsJSON   []byte
		inheritJSON []byte
	)
	if err := sc.Scan(&role.ID, &role.Name, &desc, &permsJSON, &inheritJSON); err != nil {
		return rbac.RoleDefinition{}, err
	}
	role.Description = desc.String
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
			return rbac.RoleDefinition{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if len(inheritJSON) > 0 {
		if err := json.Unmarshal(inheritJSON, &role.InheritFrom); err != nil {
			return rbac.RoleDefinition{}, fmt.Errorf("decode inherit_from: %w", err)
		}
	}
	return role, nil
}

func scanAssignment(sc interface{ Scan(dest ...any) error }) (rbac.Assignment, error) {
	var (
		a       rbac.Assignment
		revoked sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &revoked); err != nil {
		return rbac.Assignment{}, err
	}
	a.RevokedAt = timePtr(revoked)
	return a, nil
}
