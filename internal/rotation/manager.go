// Package rotation tracks the lifecycle of the platform's secrets: when each
// was created, when it last rotated, and which are due. Secret values stay
// out of this package with one deliberate exception, the time-boxed previous
// value kept during a rotation grace period so a restarted process can keep
// honoring credentials signed under the outgoing secret.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultGrace = 24 * time.Hour

// Manager coordinates rotation bookkeeping over a Storage.
type Manager struct {
	storage Storage
	logger  *zap.Logger
	now     func() time.Time
	grace   time.Duration
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithGrace sets how long a rotated secret's previous value stays retrievable.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

func NewManager(storage Storage, opts ...Option) *Manager {
	m := &Manager{
		storage: storage,
		logger:  zap.NewNop(),
		now:     time.Now,
		grace:   defaultGrace,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("rotation")
	return m
}

// Register creates or updates a secret's metadata. CreatedAt and RotatedAt of
// an existing row are preserved; interval, auto-rotate, expiry, source and
// category take the registered values.
func (m *Manager) Register(ctx context.Context, meta SecretMetadata) error {
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !validSource(meta.Source) {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, meta.Source)
	}
	if !validCategory(meta.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, meta.Category)
	}
	if meta.RotationIntervalDays < 0 {
		return fmt.Errorf("%w: rotation interval must not be negative", ErrInvalidInput)
	}

	existing, err := m.storage.Metadata(ctx, meta.Name)
	switch {
	case err == nil:
		meta.CreatedAt = existing.CreatedAt
		meta.RotatedAt = existing.RotatedAt
	case errors.Is(err, ErrNotFound):
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = m.now().UTC()
		}
		meta.RotatedAt = nil
	default:
		return fmt.Errorf("load metadata: %w", err)
	}
	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	m.logger.Debug("secret registered",
		zap.String("name", meta.Name),
		zap.String("category", string(meta.Category)))
	return nil
}

// Rotated marks a registered secret as rotated now. A non-empty
// previousValue is kept, retrievable until the grace window closes.
func (m *Manager) Rotated(ctx context.Context, name, previousValue string) error {
	meta, err := m.storage.Metadata(ctx, name)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	meta.RotatedAt = &now
	if err := m.storage.SaveMetadata(ctx, meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	if previousValue != "" {
		pv := PreviousValue{
			Name:      name,
			Value:     previousValue,
			StoredAt:  now,
			ExpiresAt: now.Add(m.grace),
		}
		if err := m.storage.SavePreviousValue(ctx, pv); err != nil {
			return fmt.Errorf("save previous value: %w", err)
		}
	}
	m.logger.Info("secret rotated", zap.String("name", name))
	return nil
}

// PreviousValue returns the outgoing value of a rotated secret while its
// grace window is open. Expired or absent values are ErrNotFound.
func (m *Manager) PreviousValue(ctx context.Context, name string) (string, error) {
	pv, err := m.storage.PreviousValue(ctx, name)
	if err != nil {
		return "", err
	}
	if !m.now().UTC().Before(pv.ExpiresAt) {
		return "", ErrNotFound
	}
	return pv.Value, nil
}

// ClearPrevious drops a secret's previous value, closing its grace window
// early. Clearing an absent value is a no-op.
func (m *Manager) ClearPrevious(ctx context.Context, name string) error {
	return m.storage.DeletePreviousValue(ctx, name)
}

// Due lists secrets whose auto-rotation interval has elapsed since their last
// rotation (or creation, if never rotated).
func (m *Manager) Due(ctx context.Context) ([]SecretMetadata, error) {
	all, err := m.storage.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	var due []SecretMetadata
	for _, meta := range all {
		if !meta.AutoRotate || meta.RotationIntervalDays <= 0 {
			continue
		}
		base := meta.CreatedAt
		if meta.RotatedAt != nil {
			base = *meta.RotatedAt
		}
		if !now.Before(base.AddDate(0, 0, meta.RotationIntervalDays)) {
			due = append(due, meta)
		}
	}
	return due, nil
}

// PurgeExpired removes previous values whose grace window has closed.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	removed, err := m.storage.DeleteExpiredPreviousValues(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired previous values: %w", err)
	}
	if removed > 0 {
		m.logger.Debug("expired previous values removed", zap.Int64("removed", removed))
	}
	return removed, nil
}

// Metadata returns one secret's lifecycle row.
func (m *Manager) Metadata(ctx context.Context, name string) (SecretMetadata, error) {
	return m.storage.Metadata(ctx, name)
}

// List returns all tracked secrets sorted by name.
func (m *Manager) List(ctx context.Context) ([]SecretMetadata, error) {
	return m.storage.ListMetadata(ctx)
}
