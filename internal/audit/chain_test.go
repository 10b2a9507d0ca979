package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testClock() func() time.Time {
	var mu sync.Mutex
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
}

func newTestChain(t *testing.T) (*Chain, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	chain, err := NewChain(store, testSigningKey, WithClock(testClock()))
	if err != nil {
		t.Fatal(err)
	}
	return chain, store
}

func TestSigningKeyTooShort(t *testing.T) {
	if _, err := NewChain(NewMemoryStore(), "short"); !errors.Is(err, ErrSigningKeyTooShort) {
		t.Fatalf("expected ErrSigningKeyTooShort, got %v", err)
	}
}

func TestRecordVerifyRoundTrip(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := chain.Record(ctx, RecordParams{
			Event:   "task_spawned",
			Level:   LevelInfo,
			Message: "spawned worker",
			UserID:  "admin",
			Metadata: map[string]any{
				"attempt": i,
			},
		}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.EntriesChecked != 5 {
		t.Fatalf("verify = %+v, want valid with 5 entries checked", result)
	}
}

func TestGenesisPreviousHash(t *testing.T) {
	chain, store := newTestChain(t)
	ctx := context.Background()

	entry, err := chain.Record(ctx, RecordParams{Event: "startup", Message: "control plane up"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Integrity.PreviousEntryHash != strings.Repeat("0", 64) {
		t.Fatalf("genesis previous hash = %q", entry.Integrity.PreviousEntryHash)
	}

	stored, err := store.ByID(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Integrity.Signature != entry.Integrity.Signature {
		t.Fatalf("persisted signature differs from returned entry")
	}
}

func TestVerifyEmptyLedger(t *testing.T) {
	chain, _ := newTestChain(t)
	result, err := chain.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.EntriesChecked != 0 {
		t.Fatalf("verify of empty ledger = %+v", result)
	}
}

func TestTamperedContentDetected(t *testing.T) {
	chain, store := newTestChain(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := chain.Record(ctx, RecordParams{Event: "login", Level: LevelSecurity, Message: "admin login"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, entry.ID)
	}

	if !store.tamper(ids[1], func(e *Entry) { e.Message = "forged" }) {
		t.Fatal("tamper target not found")
	}

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Fatal("verify accepted a tampered ledger")
	}
	if result.BrokenAt != ids[1] {
		t.Fatalf("brokenAt = %q, want %q", result.BrokenAt, ids[1])
	}
	if result.EntriesChecked != 1 {
		t.Fatalf("entriesChecked = %d, want 1", result.EntriesChecked)
	}
}

func TestResignedEntryDetected(t *testing.T) {
	chain, store := newTestChain(t)
	ctx := context.Background()

	var entries []*Entry
	var lastTS int64
	for i := 0; i < 3; i++ {
		entry, err := chain.Record(ctx, RecordParams{Event: "key_created", Message: "api key minted"})
		if err != nil {
			t.Fatal(err)
		}
		if entry.Timestamp <= lastTS {
			t.Fatalf("timestamps not increasing: %d then %d", lastTS, entry.Timestamp)
		}
		lastTS = entry.Timestamp
		entries = append(entries, entry)
	}

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.EntriesChecked != 3 {
		t.Fatalf("verify before tamper = %+v", result)
	}

	// Re-sign entry #2 under a different key, keeping content and links
	// intact. Only the signature check can catch this.
	other, err := NewChain(NewMemoryStore(), "ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatal(err)
	}
	target := entries[1]
	hash, err := contentHash(target)
	if err != nil {
		t.Fatal(err)
	}
	forged := other.sign(hash, target.Integrity.PreviousEntryHash)
	store.tamper(target.ID, func(e *Entry) { e.Integrity.Signature = forged })

	result, err = chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Fatal("verify accepted a re-signed entry")
	}
	if result.BrokenAt != target.ID {
		t.Fatalf("brokenAt = %q, want %q", result.BrokenAt, target.ID)
	}
	if result.Reason != "signature mismatch" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestBrokenLinkDetected(t *testing.T) {
	chain, store := newTestChain(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := chain.Record(ctx, RecordParams{Event: "role_assigned", Message: "role change"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, entry.ID)
	}

	store.tamper(ids[2], func(e *Entry) {
		e.Integrity.PreviousEntryHash = strings.Repeat("a", 64)
	})

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.BrokenAt != ids[2] {
		t.Fatalf("verify = %+v, want broken at %s", result, ids[2])
	}
	if result.Reason != "previous-hash link mismatch" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestInitializeResumesChain(t *testing.T) {
	store := NewMemoryStore()
	clock := testClock()
	ctx := context.Background()

	first, err := NewChain(store, testSigningKey, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := first.Record(ctx, RecordParams{Event: "boot", Message: "first process"}); err != nil {
			t.Fatal(err)
		}
	}

	second, err := NewChain(store, testSigningKey, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Record(ctx, RecordParams{Event: "boot", Message: "second process"}); err != nil {
		t.Fatal(err)
	}

	result, err := second.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.EntriesChecked != 3 {
		t.Fatalf("verify after resume = %+v", result)
	}
}

func TestInitializeFailsClosedOnTamper(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	chain, err := NewChain(store, testSigningKey, WithClock(testClock()))
	if err != nil {
		t.Fatal(err)
	}
	entry, err := chain.Record(ctx, RecordParams{Event: "boot", Message: "trail start"})
	if err != nil {
		t.Fatal(err)
	}
	store.tamper(entry.ID, func(e *Entry) { e.Message = "rewritten" })

	restarted, err := NewChain(store, testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Initialize(ctx); !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}
}

func TestInitializeWrongKeyFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	chain, err := NewChain(store, testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Record(ctx, RecordParams{Event: "boot", Message: "trail start"}); err != nil {
		t.Fatal(err)
	}

	wrongKey, err := NewChain(store, "ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatal(err)
	}
	if err := wrongKey.Initialize(ctx); !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	if _, err := chain.Record(ctx, RecordParams{Event: "  ", Message: "no event"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty event, got %v", err)
	}
	if _, err := chain.Record(ctx, RecordParams{Event: "x", Level: Level("loud")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown level, got %v", err)
	}

	entry, err := chain.Record(ctx, RecordParams{Event: "x", Message: "default level"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Level != LevelInfo {
		t.Fatalf("level = %q, want info", entry.Level)
	}
}

func TestConcurrentRecordsKeepChainIntact(t *testing.T) {
	store := NewMemoryStore()
	chain, err := NewChain(store, testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = chain.Record(ctx, RecordParams{Event: "burst", Message: "concurrent write"})
		}()
	}
	wg.Wait()

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.EntriesChecked != N {
		t.Fatalf("verify after concurrent records = %+v, want %d valid entries", result, N)
	}
}

func TestStatsAndSnapshot(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	var lastID string
	for i := 0; i < 4; i++ {
		entry, err := chain.Record(ctx, RecordParams{Event: "tick", Message: "heartbeat"})
		if err != nil {
			t.Fatal(err)
		}
		lastID = entry.ID
	}

	stats, err := chain.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 4 || !stats.Integrity.Valid || stats.Integrity.EntriesChecked != 4 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.LastEntryID != lastID {
		t.Fatalf("stats last entry = %q, want %q", stats.LastEntryID, lastID)
	}

	snap, err := chain.CreateSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.EntriesCount != 4 || snap.LastEntryID != lastID {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.LastHash) != 64 || snap.LastHash == strings.Repeat("0", 64) {
		t.Fatalf("snapshot last hash = %q", snap.LastHash)
	}
	if snap.Timestamp == 0 {
		t.Fatal("snapshot timestamp not set")
	}
}

func TestMetadataSurvivesJSONRoundTrip(t *testing.T) {
	chain, store := newTestChain(t)
	ctx := context.Background()

	entry, err := chain.Record(ctx, RecordParams{
		Event:   "limit_exceeded",
		Level:   LevelWarn,
		Message: "rate limit hit",
		Metadata: map[string]any{
			"count":  42,
			"rule":   "api_requests",
			"nested": map[string]any{"ip": "10.0.0.1"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Numbers decode as float64 after a storage round trip; the canonical
	// form must hash identically either way.
	store.tamper(entry.ID, func(e *Entry) {
		e.Metadata["count"] = float64(42)
	})

	result, err := chain.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("verify = %+v, float64/int metadata forms should hash the same", result)
	}
}
