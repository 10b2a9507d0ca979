package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/auth"
)

func (s *Store) RevokeToken(ctx context.Context, token auth.RevokedToken) error {
	if token.JTI == "" {
		return auth.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (jti, user_id, revoked_at, expires_at)
		values ($1, $2, $3, $4)
		on conflict (jti) do nothing
	`, token.JTI, token.UserID, token.RevokedAt, token.ExpiresAt)
	return err
}

func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where jti = $1)`, jti).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const apiKeyColumns = `id, name, key_hash, key_prefix, role, user_id, created_at, expires_at, revoked_at, last_used_at`

func (s *Store) CreateAPIKey(ctx context.Context, rec auth.APIKeyRecord) error {
	if rec.ID == "" || rec.KeyHash == "" {
		return auth.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys
			(id, name, key_hash, key_prefix, role, user_id, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.Name, rec.KeyHash, rec.KeyPrefix, rec.Role, rec.UserID,
		rec.CreatedAt, nullTime(rec.ExpiresAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate api key", auth.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *Store) APIKeyByHash(ctx context.Context, hash string) (auth.APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+apiKeyColumns+`
		from api_keys
		where key_hash = $1
	`, hash)
	return scanAPIKey(row)
}

func (s *Store) APIKeyByID(ctx context.Context, id string) (auth.APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+apiKeyColumns+`
		from api_keys
		where id = $1
	`, id)
	return scanAPIKey(row)
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]auth.APIKeyRecord, error) {
	query := `select ` + apiKeyColumns + ` from api_keys order by created_at desc, id desc`
	args := []any{}
	if userID != "" {
		query = `select ` + apiKeyColumns + ` from api_keys where user_id = $1 order by created_at desc, id desc`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.APIKeyRecord
	for rows.Next() {
		rec, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set revoked_at = $2
		where id = $1 and revoked_at is null
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return nil
	}
	// Either the key does not exist or it was already revoked; the latter
	// is a no-op.
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`select exists(select 1 from api_keys where id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update api_keys set last_used_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanAPIKey(sc interface{ Scan(dest ...any) error }) (auth.APIKeyRecord, error) {
	var (
		rec     auth.APIKeyRecord
		expires sql.NullTime
		revoked sql.NullTime
		used    sql.NullTime
	)
	err := sc.Scan(&rec.ID, &rec.Name, &rec.KeyHash, &rec.KeyPrefix, &rec.Role,
		&rec.UserID, &rec.CreatedAt, &expires, &revoked, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.APIKeyRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.APIKeyRecord{}, err
	}
	rec.ExpiresAt = timePtr(expires)
	rec.RevokedAt = timePtr(revoked)
	rec.LastUsedAt = timePtr(used)
	return rec, nil
}
