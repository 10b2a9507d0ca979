package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wardenhq/warden/internal/rotation"
)

// SaveMetadata upserts the full row. Preserve-on-reregister semantics live in
// the rotation manager, not here.
func (s *Store) SaveMetadata(ctx context.Context, meta rotation.SecretMetadata) error {
	if meta.Name == "" {
		return rotation.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into secret_metadata
			(name, created_at, expires_at, rotated_at, rotation_interval_days, auto_rotate, source, category)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (name) do update set
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			rotated_at = excluded.rotated_at,
			rotation_interval_days = excluded.rotation_interval_days,
			auto_rotate = excluded.auto_rotate,
			source = excluded.source,
			category = excluded.category
	`, meta.Name, meta.CreatedAt, nullTime(meta.ExpiresAt), nullTime(meta.RotatedAt),
		meta.RotationIntervalDays, meta.AutoRotate, string(meta.Source), string(meta.Category))
	return err
}

const secretMetadataColumns = `name, created_at, expires_at, rotated_at, rotation_interval_days, auto_rotate, source, category`

func (s *Store) Metadata(ctx context.Context, name string) (rotation.SecretMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+secretMetadataColumns+`
		from secret_metadata
		where name = $1
	`, name)
	meta, err := scanSecretMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rotation.SecretMetadata{}, rotation.ErrNotFound
	}
	return meta, err
}

func (s *Store) ListMetadata(ctx context.Context) ([]rotation.SecretMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+secretMetadataColumns+`
		from secret_metadata
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rotation.SecretMetadata
	for rows.Next() {
		meta, err := scanSecretMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SavePreviousValue(ctx context.Context, pv rotation.PreviousValue) error {
	if pv.Name == "" || pv.Value == "" {
		return rotation.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into secret_previous_values (name, value, stored_at, expires_at)
		values ($1, $2, $3, $4)
		on conflict (name) do update set
			value = excluded.value,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, pv.Name, pv.Value, pv.StoredAt, pv.ExpiresAt)
	return err
}

func (s *Store) PreviousValue(ctx context.Context, name string) (rotation.PreviousValue, error) {
	var pv rotation.PreviousValue
	err := s.db.QueryRowContext(ctx, `
		select name, value, stored_at, expires_at
		from secret_previous_values
		where name = $1
	`, name).Scan(&pv.Name, &pv.Value, &pv.StoredAt, &pv.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rotation.PreviousValue{}, rotation.ErrNotFound
	}
	if err != nil {
		return rotation.PreviousValue{}, err
	}
	return pv, nil
}

func (s *Store) DeletePreviousValue(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `delete from secret_previous_values where name = $1`, name)
	return err
}

func (s *Store) DeleteExpiredPreviousValues(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from secret_previous_values where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSecretMetadata(sc interface{ Scan(dest ...any) error }) (rotation.SecretMetadata, error) {
	var (
		meta      rotation.SecretMetadata
		expiresAt sql.NullTime
		rotatedAt sql.NullTime
		source    string
		category  string
	)
	err := sc.Scan(&meta.Name, &meta.CreatedAt, &expiresAt, &rotatedAt,
		&meta.RotationIntervalDays, &meta.AutoRotate, &source, &category)
	if err != nil {
		return rotation.SecretMetadata{}, err
	}
	meta.ExpiresAt = timePtr(expiresAt)
	meta.RotatedAt = timePtr(rotatedAt)
	meta.Source = rotation.Source(source)
	meta.Category = rotation.Category(category)
	return meta, nil
}
