package audit

// Level classifies the severity of a ledger entry.
type Level string

const (
	LevelTrace    Level = "trace"
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelSecurity Level = "security"
)

func validLevel(l Level) bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelSecurity:
		return true
	}
	return false
}

// integrityVersion tags the hashing/signing scheme so it can evolve without
// invalidating old entries.
const integrityVersion = 1

// Entry is one immutable record in the ledger. Entries are created only by
// Chain.Record and never mutated or deleted afterwards.
type Entry struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Event         string         `json:"event"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	UserID        string         `json:"user_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	// Timestamp is Unix milliseconds.
	Timestamp int64     `json:"timestamp"`
	Integrity Integrity `json:"integrity"`
}

// Integrity carries the tamper-evidence fields. Signature covers the entry's
// content hash concatenated with the previous entry's hash, so any rewrite of
// history invalidates every later signature.
type Integrity struct {
	Version           int    `json:"version"`
	Signature         string `json:"signature"`
	PreviousEntryHash string `json:"previous_entry_hash"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RecordParams describes a new entry. ID, timestamp and integrity fields are
// stamped by the chain.
type RecordParams struct {
	Event         string
	Level         Level
	Message       string
	UserID        string
	TaskID        string
	CorrelationID string
	Metadata      map[string]any
}

// VerifyResult reports the outcome of a full ledger replay.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       string `json:"broken_at,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Stats combines the entry count with a fresh verification pass.
type Stats struct {
	Entries     int64        `json:"entries"`
	LastEntryID string       `json:"last_entry_id,omitempty"`
	Integrity   VerifyResult `json:"integrity"`
}

// Snapshot captures the ledger tail before a risky operation so drift can be
// detected afterwards.
type Snapshot struct {
	// Timestamp is Unix milliseconds at capture time.
	Timestamp    int64  `json:"timestamp"`
	EntriesCount int64  `json:"entries_count"`
	LastHash     string `json:"last_hash"`
	LastEntryID  string `json:"last_entry_id,omitempty"`
}
