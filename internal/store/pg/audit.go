package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wardenhq/warden/internal/audit"
)

// audit_entries carries a serial seq column so Iterate replays entries in
// exactly the order they were appended, independent of id or timestamp ties.
const auditColumns = `id, correlation_id, event, level, message, user_id, task_id, metadata, ts, integrity_version, signature, previous_entry_hash`

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	var metaJSON []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries
			(id, correlation_id, event, level, message, user_id, task_id, metadata, ts,
			 integrity_version, signature, previous_entry_hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, nullIfEmpty(e.CorrelationID), e.Event, string(e.Level), e.Message,
		nullIfEmpty(e.UserID), nullIfEmpty(e.TaskID), metaJSON, e.Timestamp,
		e.Integrity.Version, e.Integrity.Signature, e.Integrity.PreviousEntryHash)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate entry id %s", audit.ErrInvalidInput, e.ID)
		}
		return err
	}
	return nil
}

func (s *Store) Last(ctx context.Context) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+auditColumns+`
		from audit_entries
		order by seq desc
		limit 1
	`)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) Iterate(ctx context.Context, fn func(*audit.Entry) error) error {
	rows, err := s.db.QueryContext(ctx, `
		select `+auditColumns+`
		from audit_entries
		order by seq asc
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ByID(ctx context.Context, id string) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+auditColumns+`
		from audit_entries
		where id = $1
	`, id)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanAuditEntry(sc interface{ Scan(dest ...any) error }) (*audit.Entry, error) {
	var (
		e        audit.Entry
		level    string
		corr     sql.NullString
		userID   sql.NullString
		taskID   sql.NullString
		metaJSON []byte
	)
	err := sc.Scan(&e.ID, &corr, &e.Event, &level, &e.Message, &userID, &taskID,
		&metaJSON, &e.Timestamp, &e.Integrity.Version, &e.Integrity.Signature,
		&e.Integrity.PreviousEntryHash)
	if err != nil {
		return nil, err
	}
	e.Level = audit.Level(level)
	e.CorrelationID = corr.String
	e.UserID = userID.String
	e.TaskID = taskID.String
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}
