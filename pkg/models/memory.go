// Package models defines the core data models for the Mnemora platform.
//
// The models in this package represent the central data structures shared
// across the memory backend and its clients. They are designed for
// serialization (JSON), database persistence, and cross-service transport.
//
// Memory Model:
//
// The [MemoryRecord] type represents a single durable memory — the core
// record the write path creates and every recall path reads. Each record
// connects a pseudonymous user, the conversation it came from, the memory
// kind, and its indexing status.
//
// A record flows through a defined lifecycle:
//
//	pending → indexed → expired
//	        → failed
//
// Once a record reaches a terminal state (failed, expired), it cannot
// transition to another state. The [MemoryRecord.IsTerminal] method
// identifies terminal states.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemorySchemaVersion identifies the current schema version of the
// MemoryRecord model. Increment this when making breaking changes to the
// struct fields or serialization format to support schema migration.
const MemorySchemaVersion = 1

// MemoryKind categorizes what a memory captures.
type MemoryKind string

const (
	// MemoryKindEpisodic is a conversation event: something a user said
	// or did, tied to the session it happened in.
	MemoryKindEpisodic MemoryKind = "episodic"

	// MemoryKindSemantic is a distilled fact about the user or their
	// world, extracted from one or more episodic memories. Semantic
	// memories are session-independent.
	MemoryKindSemantic MemoryKind = "semantic"

	// MemoryKindProfile is a long-lived user preference or attribute
	// (tone, language, standing instructions).
	MemoryKindProfile MemoryKind = "profile"
)

// String returns the string representation of the memory kind.
func (k MemoryKind) String() string {
	return string(k)
}

// Valid reports whether the memory kind is one of the recognized values.
func (k MemoryKind) Valid() bool {
	switch k {
	case MemoryKindEpisodic, MemoryKindSemantic, MemoryKindProfile:
		return true
	default:
		return false
	}
}

// MemoryStatus represents the lifecycle state of a memory record.
// Records begin in [MemoryStatusPending] and progress through the
// lifecycle until reaching a terminal state.
type MemoryStatus string

const (
	// MemoryStatusPending indicates the record has been accepted but not
	// yet written to every index. This is the initial state set by
	// [NewMemoryRecord].
	MemoryStatusPending MemoryStatus = "pending"

	// MemoryStatusIndexed indicates the record is fully written and
	// recallable from every index.
	MemoryStatusIndexed MemoryStatus = "indexed"

	// MemoryStatusFailed indicates indexing could not complete. This is
	// a terminal state; the failure details belong in logs, not on the
	// record.
	MemoryStatusFailed MemoryStatus = "failed"

	// MemoryStatusExpired indicates the record aged out of its retention
	// window and is excluded from recall. This is a terminal state.
	MemoryStatusExpired MemoryStatus = "expired"
)

// String returns the string representation of the memory status.
func (s MemoryStatus) String() string {
	return string(s)
}

// Valid reports whether the memory status is one of the recognized values.
func (s MemoryStatus) Valid() bool {
	switch s {
	case MemoryStatusPending, MemoryStatusIndexed,
		MemoryStatusFailed, MemoryStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether this status represents a final state from
// which no further transitions are possible.
func (s MemoryStatus) IsTerminal() bool {
	switch s {
	case MemoryStatusFailed, MemoryStatusExpired:
		return true
	default:
		return false
	}
}

// MemoryRecord represents a single durable memory in the Mnemora
// platform. It is the core record type the write path creates and all
// recall paths reference.
//
// Every field is annotated with both JSON tags (for API serialization)
// and db tags (for database mapping). Optional fields use omitempty to
// exclude zero values from serialized output.
//
// Records are created via [NewMemoryRecord] and are immutable after
// creation except for status-related updates (Status, IndexedAt,
// ExpiresAt, Metadata, UpdatedAt). Status transition validation is the
// responsibility of the memory service, not this model.
type MemoryRecord struct {
	// ID is the unique identifier for this record (UUID v4).
	ID string `json:"id" db:"id"`

	// UserID is the derived pseudonymous identifier of the principal the
	// memory belongs to. It never holds an email or raw subject — only
	// the stable identifier the auth layer derives.
	UserID string `json:"user_id" db:"user_id"`

	// SessionID is the realtime session the memory was captured in.
	// Empty for semantic and profile memories, which outlive any single
	// conversation.
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	// Kind categorizes the memory. See [MemoryKind] for valid values.
	Kind MemoryKind `json:"kind" db:"kind"`

	// Status is the current lifecycle state of the record.
	// See [MemoryStatus] for valid values.
	Status MemoryStatus `json:"status" db:"status"`

	// Text is the memory content itself.
	Text string `json:"text" db:"text"`

	// Importance weights the memory for recall ranking, in [0, 1].
	// Higher values survive retention pruning longer.
	Importance float64 `json:"importance,omitempty" db:"importance"`

	// Tags are free-form labels used for filtered recall.
	Tags []string `json:"tags,omitempty" db:"tags"`

	// Metadata is an extensible key-value store for pipeline-specific
	// data. Nil metadata is normalized to an empty map by
	// [NewMemoryRecord], so this field is always present in JSON output
	// for constructor-created records (at minimum as an empty object).
	Metadata map[string]any `json:"metadata" db:"metadata"`

	// IndexedAt is the UTC timestamp when the record became recallable
	// from every index. Nil while the record is pending or failed.
	IndexedAt *time.Time `json:"indexed_at,omitempty" db:"indexed_at"`

	// ExpiresAt is the UTC timestamp when the record leaves its
	// retention window. Nil for records with no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	// CreatedAt is the UTC timestamp when the record was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the UTC timestamp when the record was last modified.
	// Updated on every status change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewMemoryRecord creates a new MemoryRecord with a generated UUID,
// pending status, and UTC timestamps. The metadata map is initialized to
// an empty map.
//
// Returns an error if userID or text is empty, or if kind is not a
// recognized value. These fields are required because a memory without
// an owner, content, or category cannot be stored or recalled.
func NewMemoryRecord(userID, text string, kind MemoryKind) (*MemoryRecord, error) {
	if userID == "" {
		return nil, errors.New("models: memory userID must not be empty")
	}
	if text == "" {
		return nil, errors.New("models: memory text must not be empty")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("models: invalid memory kind %q", kind)
	}

	now := time.Now().UTC()
	return &MemoryRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Status:    MemoryStatusPending,
		Text:      text,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks that all required fields are present and that the kind
// and status are recognized values. Returns the first validation error
// encountered, or nil if the record is valid.
//
// Required fields: ID, UserID, Text, Kind (must be valid), Status (must
// be valid). Timestamps (CreatedAt, UpdatedAt) must not be zero.
func (m *MemoryRecord) Validate() error {
	if m.ID == "" {
		return errors.New("models: memory ID is required")
	}
	if m.UserID == "" {
		return errors.New("models: memory user ID is required")
	}
	if m.Text == "" {
		return errors.New("models: memory text is required")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("models: invalid memory kind %q", m.Kind)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("models: invalid memory status %q", m.Status)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("models: memory importance must be in [0, 1], got %v", m.Importance)
	}
	if m.CreatedAt.IsZero() {
		return errors.New("models: memory created_at is required")
	}
	if m.UpdatedAt.IsZero() {
		return errors.New("models: memory updated_at is required")
	}
	return nil
}

// IsTerminal reports whether the record has reached a final state from
// which no further transitions are possible (failed or expired).
func (m *MemoryRecord) IsTerminal() bool {
	return m.Status.IsTerminal()
}

// Age returns how long ago the record was created. Returns zero if
// CreatedAt is zero.
func (m *MemoryRecord) Age() time.Duration {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return time.Since(m.CreatedAt)
}

// WriteReceipt is the acknowledgment the write path returns for an
// accepted memory. It carries enough to query the record later without
// echoing the memory content back.
type WriteReceipt struct {
	// MemoryID is the ID of the stored record.
	MemoryID string `json:"memory_id"`

	// UserID is the pseudonymous owner identifier.
	UserID string `json:"user_id"`

	// Kind is the stored record's kind.
	Kind MemoryKind `json:"kind"`

	// Status is the record's status at acknowledgment time.
	Status MemoryStatus `json:"status"`

	// Deduplicated is true when the write matched an existing record and
	// no new record was created; MemoryID then names the existing one.
	Deduplicated bool `json:"deduplicated,omitempty"`

	// ReceivedAt is the UTC timestamp when the write was accepted.
	ReceivedAt time.Time `json:"received_at"`
}
