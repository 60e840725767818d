// Package memory implements the long-term memory pipeline of the Mnemora
// platform: durable memory records in Postgres, semantic recall over a
// Qdrant vector index, relationship tracking in Neo4j, recency and rate
// accounting in Redis, and session transcript archival in MinIO.
//
// The package is organized around [Service], which orchestrates the write,
// recall, forget, and archive flows, and a set of narrow port interfaces
// ([RecordStore], [VectorIndex], [GraphStore], [RecencyCache], [RateWindow],
// [TranscriptArchive], [Embedder]) with one adapter per backing store. The
// ports are deliberately small so the service can be unit tested against
// in-memory fakes while the adapters are tested against their respective
// client packages.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	merr "github.com/mnemora/mnemora-core/pkg/errors"
	"github.com/mnemora/mnemora-core/pkg/models"
	"github.com/mnemora/mnemora-core/pkg/policy"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/mnemora/mnemora-core/pkg/memory"

// DefaultRecallLimit is the number of memories returned by [Service.Recall]
// when the request does not specify a limit.
const DefaultRecallLimit = 8

// recencyBoost is added to the similarity score of any candidate that also
// appears in the caller's recency window, so that recently touched memories
// rank ahead of equally similar cold ones.
const recencyBoost = 0.05

// RecordStore is the durable home of memory records. The canonical
// implementation is [PostgresStore].
type RecordStore interface {
	// Insert persists a new record. The record's status is stored as-is;
	// callers insert in StatusPending and promote via SetStatus once the
	// record is indexed.
	Insert(ctx context.Context, rec *models.MemoryRecord) error

	// Get returns the record with the given ID, scoped to the owning user.
	// A record belonging to a different user is reported as not found.
	Get(ctx context.Context, userID, memoryID string) (*models.MemoryRecord, error)

	// GetBatch returns the records matching ids for the given user, in no
	// particular order. IDs that do not resolve are silently omitted.
	GetBatch(ctx context.Context, userID string, ids []string) ([]*models.MemoryRecord, error)

	// FindDuplicate returns the ID of an existing non-terminal record for
	// the user with the same content hash, or "" when none exists.
	FindDuplicate(ctx context.Context, userID, contentHash string) (string, error)

	// SetStatus updates a record's lifecycle status. For StatusIndexed the
	// indexed-at timestamp is recorded alongside.
	SetStatus(ctx context.Context, memoryID string, status models.MemoryStatus, at time.Time) error

	// Delete removes a single record owned by the user. It reports whether
	// a row was actually deleted.
	Delete(ctx context.Context, userID, memoryID string) (bool, error)

	// DeleteAllForUser removes every record owned by the user and returns
	// the number of rows deleted.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// Embedder turns text into a vector suitable for the configured index.
// Implementations typically call an external embedding model; tests use a
// deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is a single vector search hit: the memory it points at and the
// similarity score the index assigned.
type Match struct {
	MemoryID string
	Score    float32
}

// VectorIndex is the semantic search surface over memory vectors. The
// canonical implementation is [QdrantIndex].
type VectorIndex interface {
	// Index stores or replaces the vector for a record.
	Index(ctx context.Context, rec *models.MemoryRecord, vector []float32) error

	// Search returns up to limit matches for the user, best first.
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]Match, error)

	// Remove drops the vectors for the given memory IDs.
	Remove(ctx context.Context, memoryIDs ...string) error

	// RemoveUser drops every vector belonging to the user.
	RemoveUser(ctx context.Context, userID string) error
}

// GraphStore tracks relationships between users, sessions, and memories.
// The canonical implementation is [Neo4jGraph].
type GraphStore interface {
	// Relate records that the user (and, when set, the session) produced
	// the memory.
	Relate(ctx context.Context, rec *models.MemoryRecord) error

	// Detach removes the graph nodes for the given memories.
	Detach(ctx context.Context, userID string, memoryIDs ...string) error

	// DetachUser removes the user node and everything hanging off it.
	DetachUser(ctx context.Context, userID string) error
}

// RecencyCache maintains a short per-user list of recently touched memory
// IDs, newest first. The canonical implementation is [RedisCache].
type RecencyCache interface {
	Touch(ctx context.Context, userID, memoryID string) error
	Recent(ctx context.Context, userID string, limit int) ([]string, error)
	Forget(ctx context.Context, userID string, memoryIDs ...string) error
	Flush(ctx context.Context, userID string) error
}

// RateWindow bounds how many writes a user may perform per window.
// The canonical implementation is [RedisRateWindow]. A nil RateWindow on
// the service disables rate accounting entirely.
type RateWindow interface {
	// Allow consumes one slot from the user's window and reports whether
	// the write may proceed.
	Allow(ctx context.Context, userID string) (bool, error)
}

// TranscriptArchive stores finished session transcripts. The canonical
// implementation is [MinioArchive].
type TranscriptArchive interface {
	// Store persists the transcript and returns the object key it was
	// stored under.
	Store(ctx context.Context, tr *Transcript) (string, error)
}

// TranscriptLine is one utterance in a session transcript.
type TranscriptLine struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transcript is the full record of a conversation session, archived when
// the session ends.
type Transcript struct {
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	Lines     []TranscriptLine `json:"lines"`
	EndedAt   time.Time        `json:"ended_at"`
}

// Validate checks that the transcript carries enough identity to be
// archived under a stable key.
func (t *Transcript) Validate() error {
	if t.UserID == "" {
		return merr.New(merr.CodeValidationRequired, "transcript user ID is required")
	}
	if t.SessionID == "" {
		return merr.New(merr.CodeValidationRequired, "transcript session ID is required")
	}
	if len(t.Lines) == 0 {
		return merr.New(merr.CodeValidationRequired, "transcript must contain at least one line")
	}
	return nil
}

// WriteRequest carries everything needed to remember one piece of text on
// behalf of a user.
type WriteRequest struct {
	// UserID is the pseudonymous owner of the memory.
	UserID string

	// SessionID optionally ties the memory to the conversation session
	// that produced it.
	SessionID string

	// Kind classifies the memory. Defaults to KindEpisodic when empty.
	Kind models.MemoryKind

	// Text is the content to remember.
	Text string

	// Importance optionally weights the memory in [0, 1].
	Importance float64

	// Tags are optional free-form labels.
	Tags []string

	// Metadata is optional additional context stored with the record.
	Metadata map[string]string
}

// RecallRequest describes a semantic recall query.
type RecallRequest struct {
	// UserID scopes recall to a single user's memories.
	UserID string

	// Query is the text to search against.
	Query string

	// Limit caps the number of results. Zero means DefaultRecallLimit.
	Limit int
}

// ForgetRequest names what to forget. Exactly one of MemoryID or All must
// be set.
type ForgetRequest struct {
	UserID   string
	MemoryID string

	// All requests removal of every memory the user owns, across all
	// backing stores.
	All bool
}

// ServiceConfig carries the collaborators and tuning knobs for [Service].
type ServiceConfig struct {
	Gate     policy.Gate
	Store    RecordStore
	Embedder Embedder
	Index    VectorIndex

	// Graph is optional; when nil, relationship tracking is skipped.
	Graph GraphStore

	// Recency is optional; when nil, recency boosting and touch tracking
	// are skipped.
	Recency RecencyCache

	// Rate is optional; when nil, writes are never rate limited.
	Rate RateWindow

	// Archive is optional; ArchiveSession fails when it is nil.
	Archive TranscriptArchive

	// RecallLimit overrides DefaultRecallLimit when positive.
	RecallLimit int

	Logger *slog.Logger
}

// Service orchestrates the memory pipeline. Create one with [NewService].
type Service struct {
	gate        policy.Gate
	store       RecordStore
	embedder    Embedder
	index       VectorIndex
	graph       GraphStore
	recency     RecencyCache
	rate        RateWindow
	archive     TranscriptArchive
	recallLimit int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewService validates the configuration and returns a ready Service.
// Gate, Store, Embedder, and Index are required; the remaining
// collaborators are optional and degrade the corresponding feature when
// absent.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gate == nil {
		return nil, merr.New(merr.CodeInternalConfiguration, "memory: policy gate is required")
	}
	if cfg.Store == nil {
		return nil, merr.New(merr.CodeInternalConfiguration, "memory: record store is required")
	}
	if cfg.Embedder == nil {
		return nil, merr.New(merr.CodeInternalConfiguration, "memory: embedder is required")
	}
	if cfg.Index == nil {
		return nil, merr.New(merr.CodeInternalConfiguration, "memory: vector index is required")
	}

	limit := cfg.RecallLimit
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		gate:        cfg.Gate,
		store:       cfg.Store,
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		graph:       cfg.Graph,
		recency:     cfg.Recency,
		rate:        cfg.Rate,
		archive:     cfg.Archive,
		recallLimit: limit,
		logger:      logger.With("component", "memory"),
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Write remembers one piece of text for a user.
//
// The pipeline is: rate window, policy gate, content dedup, durable insert
// in StatusPending, embed and index, relationship tracking, recency touch,
// and finally promotion to StatusIndexed. A failure before the insert
// leaves no trace; a failure during indexing leaves the record in
// StatusFailed so it can be retried or garbage collected later. Graph and
// recency failures are logged but do not fail the write.
func (s *Service) Write(ctx context.Context, req WriteRequest) (*models.WriteReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Write",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("memory.user_id", req.UserID),
			attribute.String("memory.kind", string(req.Kind)),
		),
	)
	defer span.End()

	if req.Kind == "" {
		req.Kind = models.MemoryKindEpisodic
	}

	if s.rate != nil {
		allowed, err := s.rate.Allow(ctx, req.UserID)
		if err != nil {
			return nil, s.fail(span, merr.Wrap(err, merr.CodeUnavailableDependency, "memory: rate window check failed"))
		}
		if !allowed {
			return nil, s.fail(span, merr.Newf(merr.CodeUnavailableOverloaded,
				"memory: write rate limit exceeded for user %s", req.UserID))
		}
	}

	decision := s.gate.Evaluate(ctx, policy.Input{
		UserID:     req.UserID,
		Operation:  policy.OperationWrite,
		Kind:       req.Kind,
		TextLength: len(req.Text),
	})
	if !decision.Allowed() {
		return nil, s.fail(span, merr.Newf(merr.CodeAuthorizationDenied,
			"memory: write denied by policy: %s", strings.Join(decision.ReasonCodes, ", ")))
	}

	hash := contentHash(req.Text)
	if existing, err := s.store.FindDuplicate(ctx, req.UserID, hash); err != nil {
		return nil, s.fail(span, err)
	} else if existing != "" {
		s.touchRecency(ctx, req.UserID, existing)
		span.SetAttributes(attribute.Bool("memory.deduplicated", true))
		return &models.WriteReceipt{
			MemoryID:     existing,
			UserID:       req.UserID,
			Kind:         req.Kind,
			Status:       models.MemoryStatusIndexed,
			Deduplicated: true,
			ReceivedAt:   time.Now().UTC(),
		}, nil
	}

	rec, err := models.NewMemoryRecord(req.UserID, req.Text, req.Kind)
	if err != nil {
		return nil, s.fail(span, err)
	}
	rec.SessionID = req.SessionID
	rec.Importance = req.Importance
	rec.Tags = req.Tags
	for k, v := range req.Metadata {
		rec.Metadata[k] = v
	}
	rec.Metadata["content_hash"] = hash
	if err := rec.Validate(); err != nil {
		return nil, s.fail(span, err)
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("memory.id", rec.ID))

	vector, err := s.embedder.Embed(ctx, rec.Text)
	if err != nil {
		s.markFailed(ctx, rec.ID)
		return nil, s.fail(span, merr.Wrap(err, merr.CodeUnavailableDependency, "memory: embedding failed"))
	}
	if err := s.index.Index(ctx, rec, vector); err != nil {
		s.markFailed(ctx, rec.ID)
		return nil, s.fail(span, err)
	}

	if s.graph != nil {
		if err := s.graph.Relate(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "graph relate failed",
				"memory_id", rec.ID,
				"error", err)
		}
	}
	s.touchRecency(ctx, req.UserID, rec.ID)

	now := time.Now().UTC()
	if err := s.store.SetStatus(ctx, rec.ID, models.MemoryStatusIndexed, now); err != nil {
		return nil, s.fail(span, err)
	}

	return &models.WriteReceipt{
		MemoryID:   rec.ID,
		UserID:     rec.UserID,
		Kind:       rec.Kind,
		Status:     models.MemoryStatusIndexed,
		ReceivedAt: now,
	}, nil
}

// Recall returns the user's memories most relevant to the query, best
// first. Relevance is the index similarity score plus a small boost for
// memories in the user's recency window, so recently touched memories win
// ties against cold ones.
func (s *Service) Recall(ctx context.Context, req RecallRequest) ([]*models.MemoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Recall",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("memory.user_id", req.UserID)),
	)
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = s.recallLimit
	}

	decision := s.gate.Evaluate(ctx, policy.Input{
		UserID:     req.UserID,
		Operation:  policy.OperationRecall,
		TextLength: len(req.Query),
	})
	if !decision.Allowed() {
		return nil, s.fail(span, merr.Newf(merr.CodeAuthorizationDenied,
			"memory: recall denied by policy: %s", strings.Join(decision.ReasonCodes, ", ")))
	}

	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, s.fail(span, merr.Wrap(err, merr.CodeUnavailableDependency, "memory: embedding failed"))
	}

	matches, err := s.index.Search(ctx, req.UserID, vector, limit)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if len(matches) == 0 {
		return []*models.MemoryRecord{}, nil
	}

	recent := map[string]bool{}
	if s.recency != nil {
		ids, err := s.recency.Recent(ctx, req.UserID, limit)
		if err != nil {
			s.logger.WarnContext(ctx, "recency lookup failed", "error", err)
		}
		for _, id := range ids {
			recent[id] = true
		}
	}

	scores := make(map[string]float32, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		score := m.Score
		if recent[m.MemoryID] {
			score += recencyBoost
		}
		scores[m.MemoryID] = score
		ids = append(ids, m.MemoryID)
	}

	records, err := s.store.GetBatch(ctx, req.UserID, ids)
	if err != nil {
		return nil, s.fail(span, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return scores[records[i].ID] > scores[records[j].ID]
	})

	span.SetAttributes(attribute.Int("memory.recall_count", len(records)))
	return records, nil
}

// Forget removes one memory, or all of a user's memories when req.All is
// set, from every backing store. It returns the number of records removed
// from the durable store.
func (s *Service) Forget(ctx context.Context, req ForgetRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Forget",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("memory.user_id", req.UserID),
			attribute.Bool("memory.forget_all", req.All),
		),
	)
	defer span.End()

	if req.All == (req.MemoryID != "") {
		return 0, s.fail(span, merr.New(merr.CodeValidation,
			"memory: forget requires exactly one of a memory ID or the all flag"))
	}

	decision := s.gate.Evaluate(ctx, policy.Input{
		UserID:    req.UserID,
		Operation: policy.OperationForget,
	})
	if !decision.Allowed() {
		return 0, s.fail(span, merr.Newf(merr.CodeAuthorizationDenied,
			"memory: forget denied by policy: %s", strings.Join(decision.ReasonCodes, ", ")))
	}

	if req.All {
		removed, err := s.store.DeleteAllForUser(ctx, req.UserID)
		if err != nil {
			return 0, s.fail(span, err)
		}
		if err := s.index.RemoveUser(ctx, req.UserID); err != nil {
			return removed, s.fail(span, err)
		}
		if s.graph != nil {
			if err := s.graph.DetachUser(ctx, req.UserID); err != nil {
				s.logger.WarnContext(ctx, "graph detach failed", "error", err)
			}
		}
		if s.recency != nil {
			if err := s.recency.Flush(ctx, req.UserID); err != nil {
				s.logger.WarnContext(ctx, "recency flush failed", "error", err)
			}
		}
		span.SetAttributes(attribute.Int64("memory.removed", removed))
		return removed, nil
	}

	deleted, err := s.store.Delete(ctx, req.UserID, req.MemoryID)
	if err != nil {
		return 0, s.fail(span, err)
	}
	if !deleted {
		return 0, s.fail(span, merr.Newf(merr.CodeNotFoundResource,
			"memory: no memory %s for user %s", req.MemoryID, req.UserID))
	}
	if err := s.index.Remove(ctx, req.MemoryID); err != nil {
		return 1, s.fail(span, err)
	}
	if s.graph != nil {
		if err := s.graph.Detach(ctx, req.UserID, req.MemoryID); err != nil {
			s.logger.WarnContext(ctx, "graph detach failed", "memory_id", req.MemoryID, "error", err)
		}
	}
	if s.recency != nil {
		if err := s.recency.Forget(ctx, req.UserID, req.MemoryID); err != nil {
			s.logger.WarnContext(ctx, "recency forget failed", "memory_id", req.MemoryID, "error", err)
		}
	}
	return 1, nil
}

// ArchiveSession stores a finished session transcript and returns the
// object key it was archived under.
func (s *Service) ArchiveSession(ctx context.Context, tr *Transcript) (string, error) {
	if tr == nil {
		return "", merr.New(merr.CodeValidation, "memory: transcript must not be nil")
	}

	ctx, span := s.tracer.Start(ctx, "memory.ArchiveSession",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("memory.user_id", tr.UserID),
			attribute.String("memory.session_id", tr.SessionID),
		),
	)
	defer span.End()

	if s.archive == nil {
		return "", s.fail(span, merr.New(merr.CodeInternalConfiguration,
			"memory: transcript archive is not configured"))
	}
	if err := tr.Validate(); err != nil {
		return "", s.fail(span, err)
	}
	if tr.EndedAt.IsZero() {
		tr.EndedAt = time.Now().UTC()
	}

	key, err := s.archive.Store(ctx, tr)
	if err != nil {
		return "", s.fail(span, err)
	}
	span.SetAttributes(attribute.String("memory.archive_key", key))
	return key, nil
}

// markFailed parks a record in StatusFailed after an indexing error. The
// original error is what the caller sees; a failure here is only logged.
func (s *Service) markFailed(ctx context.Context, memoryID string) {
	if err := s.store.SetStatus(ctx, memoryID, models.MemoryStatusFailed, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark memory as failed",
			"memory_id", memoryID,
			"error", err)
	}
}

func (s *Service) touchRecency(ctx context.Context, userID, memoryID string) {
	if s.recency == nil {
		return
	}
	if err := s.recency.Touch(ctx, userID, memoryID); err != nil {
		s.logger.WarnContext(ctx, "recency touch failed",
			"memory_id", memoryID,
			"error", err)
	}
}

// fail records the error on the span and returns it unchanged.
func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// contentHash produces the dedup key for a piece of memory text. Leading
// and trailing whitespace does not change identity.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// String implements fmt.Stringer for logging without dumping line bodies.
func (t *Transcript) String() string {
	return fmt.Sprintf("Transcript{user=%s session=%s lines=%d}", t.UserID, t.SessionID, len(t.Lines))
}
