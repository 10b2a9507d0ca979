package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []Option{WithClock(clock.now)}
	return NewManager(NewMemoryStore(), append(base, opts...)...), clock
}

func TestRegisterAndDue(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	err := mgr.Register(ctx, SecretMetadata{
		Name:                 SecretTokenSigning,
		Source:               SourceExternal,
		Category:             CategoryJWT,
		AutoRotate:           true,
		RotationIntervalDays: 30,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	due, err := mgr.Due(ctx)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("nothing should be due yet, got %d", len(due))
	}

	clock.advance(31 * 24 * time.Hour)
	due, err = mgr.Due(ctx)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Name != SecretTokenSigning {
		t.Fatalf("expected %s due, got %+v", SecretTokenSigning, due)
	}

	// Rotation resets the clock.
	if err := mgr.Rotated(ctx, SecretTokenSigning, ""); err != nil {
		t.Fatalf("rotated: %v", err)
	}
	due, err = mgr.Due(ctx)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("nothing should be due after rotation, got %d", len(due))
	}

	clock.advance(31 * 24 * time.Hour)
	due, err = mgr.Due(ctx)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected due again after another interval, got %d", len(due))
	}
}

func TestDueIgnoresManualSecrets(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	err := mgr.Register(ctx, SecretMetadata{
		Name:     SecretAuditSigning,
		Source:   SourceExternal,
		Category: CategoryAuditSigning,
		// AutoRotate off: operator rotates by hand.
		RotationIntervalDays: 7,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	clock.advance(365 * 24 * time.Hour)
	due, err := mgr.Due(ctx)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("manual secrets are never due, got %d", len(due))
	}
}

func TestRegisterPreservesRotationState(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	meta := SecretMetadata{
		Name:                 SecretTokenSigning,
		Source:               SourceExternal,
		Category:             CategoryJWT,
		RotationIntervalDays: 30,
	}
	if err := mgr.Register(ctx, meta); err != nil {
		t.Fatalf("register: %v", err)
	}
	created := clock.now()

	clock.advance(24 * time.Hour)
	if err := mgr.Rotated(ctx, SecretTokenSigning, ""); err != nil {
		t.Fatalf("rotated: %v", err)
	}
	rotatedAt := clock.now()

	// Re-registering with new settings keeps the lifecycle timestamps.
	meta.RotationIntervalDays = 7
	meta.AutoRotate = true
	if err := mgr.Register(ctx, meta); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	got, err := mgr.Metadata(ctx, SecretTokenSigning)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, created)
	}
	if got.RotatedAt == nil || !got.RotatedAt.Equal(rotatedAt) {
		t.Fatalf("rotated at = %v, want %v", got.RotatedAt, rotatedAt)
	}
	if got.RotationIntervalDays != 7 || !got.AutoRotate {
		t.Fatalf("settings not updated: %+v", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	cases := []SecretMetadata{
		{Name: "", Source: SourceExternal, Category: CategoryJWT},
		{Name: "x", Source: "elsewhere", Category: CategoryJWT},
		{Name: "x", Source: SourceExternal, Category: "mystery"},
		{Name: "x", Source: SourceExternal, Category: CategoryJWT, RotationIntervalDays: -1},
	}
	for i, meta := range cases {
		if err := mgr.Register(ctx, meta); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestPreviousValueGraceWindow(t *testing.T) {
	mgr, clock := newTestManager(t, WithGrace(time.Hour))
	ctx := context.Background()

	err := mgr.Register(ctx, SecretMetadata{
		Name:     SecretTokenSigning,
		Source:   SourceExternal,
		Category: CategoryJWT,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Rotated(ctx, SecretTokenSigning, "the-old-secret"); err != nil {
		t.Fatalf("rotated: %v", err)
	}

	got, err := mgr.PreviousValue(ctx, SecretTokenSigning)
	if err != nil {
		t.Fatalf("previous value: %v", err)
	}
	if got != "the-old-secret" {
		t.Fatalf("previous value = %q", got)
	}

	clock.advance(2 * time.Hour)
	if _, err := mgr.PreviousValue(ctx, SecretTokenSigning); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after grace, got %v", err)
	}

	removed, err := mgr.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestRotatedUnknownSecret(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Rotated(context.Background(), "ghost", "v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearPreviousIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	err := mgr.Register(ctx, SecretMetadata{
		Name:     SecretTokenSigning,
		Source:   SourceExternal,
		Category: CategoryJWT,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Rotated(ctx, SecretTokenSigning, "outgoing"); err != nil {
		t.Fatalf("rotated: %v", err)
	}
	if err := mgr.ClearPrevious(ctx, SecretTokenSigning); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := mgr.PreviousValue(ctx, SecretTokenSigning); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mgr.ClearPrevious(ctx, SecretTokenSigning); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestListSortedByName(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		err := mgr.Register(ctx, SecretMetadata{Name: name, Source: SourceInternal, Category: CategoryEncryption})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	all, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Name != "alpha" || all[1].Name != "mid" || all[2].Name != "zeta" {
		t.Fatalf("unexpected order: %+v", all)
	}
}
