// Package audit implements the tamper-evident ledger at the heart of the
// control plane. Every entry carries an HMAC-SHA256 signature over its own
// content hash plus the hash of the entry before it, so rewriting any point
// of history breaks every signature after it.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/ids"
	"github.com/wardenhq/warden/internal/obs"
)

// genesisHash anchors the first entry of every ledger.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const minSigningKeyLen = 32

// Chain is a hash-linked, HMAC-signed append-only ledger. Record is
// serialized by a single mutex: the read of lastHash, the signature
// computation, the persist and the advance of lastHash form one critical
// section, otherwise two writers could fork the chain.
type Chain struct {
	storage    Storage
	signingKey []byte
	logger     *zap.Logger
	stream     *Stream
	now        func() time.Time

	mu       sync.Mutex
	lastHash string
}

// Option configures Chain behavior.
type Option func(*Chain)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Chain) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithLogger attaches a structured logger for entry echo and suppressed
// failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStream publishes every recorded entry to the given fan-out.
func WithStream(s *Stream) Option {
	return func(c *Chain) {
		c.stream = s
	}
}

// NewChain constructs a ledger over the given storage. The signing key must
// be at least 32 characters; shorter keys fail here, before any entry is
// written.
func NewChain(storage Storage, signingKey string, opts ...Option) (*Chain, error) {
	if len(signingKey) < minSigningKeyLen {
		return nil, ErrSigningKeyTooShort
	}
	c := &Chain{
		storage:    storage,
		signingKey: []byte(signingKey),
		logger:     zap.NewNop(),
		now:        time.Now,
		lastHash:   genesisHash,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("audit")
	return c, nil
}

// Initialize loads the tail of a persisted ledger and refuses to start on a
// broken one. A signature mismatch here means the trail was edited or the
// key is wrong; running on top of it would bury the evidence, so the error
// is meant to be fatal.
func (c *Chain) Initialize(ctx context.Context) error {
	last, err := c.storage.Last(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.mu.Lock()
			c.lastHash = genesisHash
			c.mu.Unlock()
			c.logger.Info("audit chain initialized", zap.Int64("entries", 0))
			return nil
		}
		return fmt.Errorf("audit: load last entry: %w", err)
	}

	hash, err := contentHash(last)
	if err != nil {
		return fmt.Errorf("audit: hash last entry: %w", err)
	}
	expected := c.sign(hash, last.Integrity.PreviousEntryHash)
	if !constantTimeEqual(expected, last.Integrity.Signature) {
		return fmt.Errorf("%w: entry %s failed startup verification", ErrIntegrityViolation, last.ID)
	}

	c.mu.Lock()
	c.lastHash = hash
	c.mu.Unlock()

	count, err := c.storage.Count(ctx)
	if err != nil {
		return fmt.Errorf("audit: count entries: %w", err)
	}
	c.logger.Info("audit chain initialized",
		zap.Int64("entries", count),
		zap.String("last_entry_id", last.ID))
	return nil
}

// Record stamps, signs and persists a new entry, then advances the chain
// head. Returns the persisted entry.
func (c *Chain) Record(ctx context.Context, p RecordParams) (*Entry, error) {
	event := strings.TrimSpace(p.Event)
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidInput)
	}
	level := p.Level
	if level == "" {
		level = LevelInfo
	}
	if !validLevel(level) {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, p.Level)
	}
	metadata, err := normalizeMetadata(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidInput, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	entry := &Entry{
		ID:            ids.NewWithTime(now),
		CorrelationID: strings.TrimSpace(p.CorrelationID),
		Event:         event,
		Level:         level,
		Message:       p.Message,
		UserID:        strings.TrimSpace(p.UserID),
		TaskID:        strings.TrimSpace(p.TaskID),
		Metadata:      metadata,
		Timestamp:     now.UnixMilli(),
	}
	hash, err := contentHash(entry)
	if err != nil {
		return nil, fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.Integrity = Integrity{
		Version:           integrityVersion,
		Signature:         c.sign(hash, c.lastHash),
		PreviousEntryHash: c.lastHash,
	}

	if err := c.storage.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append entry: %w", err)
	}
	c.lastHash = hash

	obs.AuditEntryRecorded(string(level))
	if c.stream != nil {
		c.stream.Publish(*entry)
	}
	if level == LevelSecurity || level == LevelError {
		c.logger.Warn("audit entry recorded",
			zap.String("id", entry.ID),
			zap.String("event", entry.Event),
			zap.String("level", string(level)))
	} else {
		c.logger.Debug("audit entry recorded",
			zap.String("id", entry.ID),
			zap.String("event", entry.Event),
			zap.String("level", string(level)))
	}
	return entry.clone(), nil
}

// Verify replays the whole ledger from the genesis hash, recomputing each
// entry's hash and signature. It stops at the first mismatch. Storage
// failures are returned as errors; a tampered ledger is a report, not an
// error.
func (c *Chain) Verify(ctx context.Context) (VerifyResult, error) {
	result := VerifyResult{Valid: true}
	prev := genesisHash

	err := c.storage.Iterate(ctx, func(e *Entry) error {
		hash, err := contentHash(e)
		if err != nil {
			return fmt.Errorf("audit: hash entry %s: %w", e.ID, err)
		}
		if !constantTimeEqual(e.Integrity.PreviousEntryHash, prev) {
			result = VerifyResult{
				Valid:          false,
				EntriesChecked: result.EntriesChecked,
				BrokenAt:       e.ID,
				Reason:         "previous-hash link mismatch",
			}
			return errStopIteration
		}
		expected := c.sign(hash, prev)
		if !constantTimeEqual(expected, e.Integrity.Signature) {
			result = VerifyResult{
				Valid:          false,
				EntriesChecked: result.EntriesChecked,
				BrokenAt:       e.ID,
				Reason:         "signature mismatch",
			}
			return errStopIteration
		}
		prev = hash
		result.EntriesChecked++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return VerifyResult{Valid: false, EntriesChecked: result.EntriesChecked}, err
	}
	if !result.Valid {
		obs.AuditVerifyFailed()
		c.logger.Error("audit chain verification failed",
			zap.String("broken_at", result.BrokenAt),
			zap.String("reason", result.Reason),
			zap.Int("entries_checked", result.EntriesChecked))
	}
	return result, nil
}

// Stats combines the entry count with a fresh verification pass.
func (c *Chain) Stats(ctx context.Context) (Stats, error) {
	count, err := c.storage.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("audit: count entries: %w", err)
	}
	verify, err := c.Verify(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: count, Integrity: verify}
	if last, err := c.storage.Last(ctx); err == nil {
		stats.LastEntryID = last.ID
	} else if !errors.Is(err, ErrNotFound) {
		return Stats{}, fmt.Errorf("audit: load last entry: %w", err)
	}
	return stats, nil
}

// CreateSnapshot captures the ledger tail. Operators take one before risky
// recovery work so any drift afterwards is provable.
func (c *Chain) CreateSnapshot(ctx context.Context) (Snapshot, error) {
	count, err := c.storage.Count(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("audit: count entries: %w", err)
	}
	snap := Snapshot{
		Timestamp:    c.now().UTC().UnixMilli(),
		EntriesCount: count,
	}
	c.mu.Lock()
	snap.LastHash = c.lastHash
	c.mu.Unlock()
	if last, err := c.storage.Last(ctx); err == nil {
		snap.LastEntryID = last.ID
	} else if !errors.Is(err, ErrNotFound) {
		return Snapshot{}, fmt.Errorf("audit: load last entry: %w", err)
	}
	return snap, nil
}

// errStopIteration is an internal signal used to halt Iterate early.
var errStopIteration = errors.New("audit: stop iteration")

// contentHash computes the SHA-256 of the entry's canonical JSON form: every
// non-integrity field, empty optionals omitted, keys sorted. json.Marshal
// sorts map keys, which is what makes the form canonical.
func contentHash(e *Entry) (string, error) {
	payload := map[string]any{
		"id":        e.ID,
		"event":     e.Event,
		"level":     string(e.Level),
		"message":   e.Message,
		"timestamp": e.Timestamp,
	}
	if e.CorrelationID != "" {
		payload["correlation_id"] = e.CorrelationID
	}
	if e.UserID != "" {
		payload["user_id"] = e.UserID
	}
	if e.TaskID != "" {
		payload["task_id"] = e.TaskID
	}
	if len(e.Metadata) > 0 {
		payload["metadata"] = e.Metadata
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Chain) sign(hash, prevHash string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write([]byte(hash + ":" + prevHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// normalizeMetadata round-trips the map through JSON so the form hashed at
// record time is byte-identical to the form reloaded from storage later.
func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
