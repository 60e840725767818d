package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora-core/internal/testutil"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
	"github.com/mnemora/mnemora-core/pkg/models"
	"github.com/mnemora/mnemora-core/pkg/policy"
)

const (
	svcTestUserID    = "u_4f2a9c1d8e3b7a65"
	svcTestSessionID = "sess-2917"
)

// ===========================================================================
// Fakes
// ===========================================================================

// fakeStore is an in-memory RecordStore that records mutations so tests
// can assert on pipeline side effects.
type fakeStore struct {
	records    map[string]*models.MemoryRecord
	duplicates map[string]string
	statuses   map[string]models.MemoryStatus

	insertErr error
	deleteAll int64
	deleted   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    map[string]*models.MemoryRecord{},
		duplicates: map[string]string{},
		statuses:   map[string]models.MemoryStatus{},
	}
}

func (f *fakeStore) Insert(_ context.Context, rec *models.MemoryRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	clone := *rec
	f.records[rec.ID] = &clone
	return nil
}

func (f *fakeStore) Get(_ context.Context, userID, memoryID string) (*models.MemoryRecord, error) {
	rec, ok := f.records[memoryID]
	if !ok || rec.UserID != userID {
		return nil, merr.Newf(merr.CodeNotFoundResource, "no memory %s", memoryID)
	}
	return rec, nil
}

func (f *fakeStore) GetBatch(_ context.Context, userID string, ids []string) ([]*models.MemoryRecord, error) {
	out := []*models.MemoryRecord{}
	for _, id := range ids {
		if rec, ok := f.records[id]; ok && rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) FindDuplicate(_ context.Context, _, contentHash string) (string, error) {
	return f.duplicates[contentHash], nil
}

func (f *fakeStore) SetStatus(_ context.Context, memoryID string, status models.MemoryStatus, _ time.Time) error {
	f.statuses[memoryID] = status
	if rec, ok := f.records[memoryID]; ok {
		rec.Status = status
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _, memoryID string) (bool, error) {
	if !f.deleted {
		return false, nil
	}
	delete(f.records, memoryID)
	return true, nil
}

func (f *fakeStore) DeleteAllForUser(_ context.Context, _ string) (int64, error) {
	return f.deleteAll, nil
}

// fakeEmbedder returns a fixed vector and counts calls.
type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeIndex records index and removal calls and serves canned matches.
type fakeIndex struct {
	matches   []Match
	indexErr  error
	searchErr error

	indexed      []string
	searchLimit  int
	removed      []string
	removedUsers []string
}

func (f *fakeIndex) Index(_ context.Context, rec *models.MemoryRecord, _ []float32) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, rec.ID)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, limit int) ([]Match, error) {
	f.searchLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeIndex) Remove(_ context.Context, memoryIDs ...string) error {
	f.removed = append(f.removed, memoryIDs...)
	return nil
}

func (f *fakeIndex) RemoveUser(_ context.Context, userID string) error {
	f.removedUsers = append(f.removedUsers, userID)
	return nil
}

// fakeGraph records relationship calls.
type fakeGraph struct {
	relateErr error

	related       []string
	detached      []string
	detachedUsers []string
}

func (f *fakeGraph) Relate(_ context.Context, rec *models.MemoryRecord) error {
	if f.relateErr != nil {
		return f.relateErr
	}
	f.related = append(f.related, rec.ID)
	return nil
}

func (f *fakeGraph) Detach(_ context.Context, _ string, memoryIDs ...string) error {
	f.detached = append(f.detached, memoryIDs...)
	return nil
}

func (f *fakeGraph) DetachUser(_ context.Context, userID string) error {
	f.detachedUsers = append(f.detachedUsers, userID)
	return nil
}

// fakeRecency records touches and serves a canned recency window.
type fakeRecency struct {
	recent []string

	touched   []string
	forgotten []string
	flushed   []string
}

func (f *fakeRecency) Touch(_ context.Context, _, memoryID string) error {
	f.touched = append(f.touched, memoryID)
	return nil
}

func (f *fakeRecency) Recent(_ context.Context, _ string, _ int) ([]string, error) {
	return f.recent, nil
}

func (f *fakeRecency) Forget(_ context.Context, _ string, memoryIDs ...string) error {
	f.forgotten = append(f.forgotten, memoryIDs...)
	return nil
}

func (f *fakeRecency) Flush(_ context.Context, userID string) error {
	f.flushed = append(f.flushed, userID)
	return nil
}

// fakeRate answers every Allow call the same way.
type fakeRate struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeRate) Allow(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

// fakeArchive records the last stored transcript.
type fakeArchive struct {
	err    error
	stored *Transcript
}

func (f *fakeArchive) Store(_ context.Context, tr *Transcript) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = tr
	return transcriptKey(tr.UserID, tr.SessionID), nil
}

// svcFixture bundles a service with its fakes for assertion access.
type svcFixture struct {
	svc      *Service
	store    *fakeStore
	embedder *fakeEmbedder
	index    *fakeIndex
	graph    *fakeGraph
	recency  *fakeRecency
	archive  *fakeArchive
}

func newSvcFixture(t *testing.T, mutate func(*ServiceConfig)) *svcFixture {
	t.Helper()
	f := &svcFixture{
		store:    newFakeStore(),
		embedder: &fakeEmbedder{},
		index:    &fakeIndex{},
		graph:    &fakeGraph{},
		recency:  &fakeRecency{},
		archive:  &fakeArchive{},
	}
	cfg := ServiceConfig{
		Gate:     policy.NewBasicGate(0),
		Store:    f.store,
		Embedder: f.embedder,
		Index:    f.index,
		Graph:    f.graph,
		Recency:  f.recency,
		Archive:  f.archive,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// ===========================================================================
// NewService Tests
// ===========================================================================

func TestNewService_RequiresCollaborators(t *testing.T) {
	base := func() ServiceConfig {
		return ServiceConfig{
			Gate:     policy.NewBasicGate(0),
			Store:    newFakeStore(),
			Embedder: &fakeEmbedder{},
			Index:    &fakeIndex{},
		}
	}

	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"missing gate", func(c *ServiceConfig) { c.Gate = nil }},
		{"missing store", func(c *ServiceConfig) { c.Store = nil }},
		{"missing embedder", func(c *ServiceConfig) { c.Embedder = nil }},
		{"missing index", func(c *ServiceConfig) { c.Index = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			_, err := NewService(cfg)
			testutil.RequireErrorCode(t, err, merr.CodeInternalConfiguration)
		})
	}
}

func TestNewService_OptionalCollaboratorsMayBeNil(t *testing.T) {
	svc, err := NewService(ServiceConfig{
		Gate:     policy.NewBasicGate(0),
		Store:    newFakeStore(),
		Embedder: &fakeEmbedder{},
		Index:    &fakeIndex{},
	})
	require.NoError(t, err)

	// A write through the degraded service must still succeed.
	receipt, err := svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "prefers tea over coffee",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MemoryStatusIndexed, receipt.Status)
}

// ===========================================================================
// Write Tests
// ===========================================================================

func TestWrite_RunsFullPipeline(t *testing.T) {
	f := newSvcFixture(t, nil)

	receipt, err := f.svc.Write(context.Background(), WriteRequest{
		UserID:    svcTestUserID,
		SessionID: svcTestSessionID,
		Kind:      models.MemoryKindSemantic,
		Text:      "allergic to shellfish",
		Tags:      []string{"health"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.MemoryID)
	assert.Equal(t, svcTestUserID, receipt.UserID)
	assert.Equal(t, models.MemoryKindSemantic, receipt.Kind)
	assert.Equal(t, models.MemoryStatusIndexed, receipt.Status)
	assert.False(t, receipt.Deduplicated)

	rec := f.store.records[receipt.MemoryID]
	require.NotNil(t, rec, "record should be durably stored")
	assert.Equal(t, svcTestSessionID, rec.SessionID)
	assert.Equal(t, models.MemoryStatusIndexed, rec.Status)
	assert.NotEmpty(t, rec.Metadata["content_hash"])

	assert.Equal(t, []string{receipt.MemoryID}, f.index.indexed)
	assert.Equal(t, []string{receipt.MemoryID}, f.graph.related)
	assert.Equal(t, []string{receipt.MemoryID}, f.recency.touched)
}

func TestWrite_DefaultsToEpisodicKind(t *testing.T) {
	f := newSvcFixture(t, nil)

	receipt, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "mentioned an upcoming trip to Lisbon",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MemoryKindEpisodic, receipt.Kind)
}

func TestWrite_PolicyDenialNamesReasons(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Write(context.Background(), WriteRequest{
		Text: "no user attached",
	})
	testutil.RequireErrorCode(t, err, merr.CodeAuthorizationDenied)
	assert.Contains(t, err.Error(), policy.ReasonMissingUser)
	assert.Empty(t, f.store.records, "denied write must not reach the store")
	assert.Zero(t, f.embedder.calls)
}

func TestWrite_RateLimited(t *testing.T) {
	rate := &fakeRate{allowed: false}
	f := newSvcFixture(t, func(c *ServiceConfig) { c.Rate = rate })

	_, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "one write too many",
	})
	testutil.RequireErrorCode(t, err, merr.CodeUnavailableOverloaded)
	assert.Equal(t, 1, rate.calls)
	assert.Empty(t, f.store.records)
}

func TestWrite_RateWindowFailureIsFailClosed(t *testing.T) {
	rate := &fakeRate{err: errors.New("redis down")}
	f := newSvcFixture(t, func(c *ServiceConfig) { c.Rate = rate })

	_, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "anything",
	})
	testutil.RequireErrorCode(t, err, merr.CodeUnavailableDependency)
	assert.Empty(t, f.store.records)
}

func TestWrite_DeduplicatesByContent(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.store.duplicates[contentHash("  allergic to shellfish \n")] = "mem-existing"

	receipt, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "allergic to shellfish",
	})
	require.NoError(t, err)

	assert.True(t, receipt.Deduplicated)
	assert.Equal(t, "mem-existing", receipt.MemoryID)
	assert.Equal(t, models.MemoryStatusIndexed, receipt.Status)
	assert.Empty(t, f.store.records, "duplicate must not insert a new record")
	assert.Zero(t, f.embedder.calls, "duplicate must not re-embed")
	assert.Equal(t, []string{"mem-existing"}, f.recency.touched,
		"duplicate should refresh the existing memory's recency")
}

func TestWrite_EmbedFailureParksRecordAsFailed(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.embedder.err = errors.New("embedding backend unreachable")

	_, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "never indexed",
	})
	testutil.RequireErrorCode(t, err, merr.CodeUnavailableDependency)

	require.Len(t, f.store.records, 1)
	for id := range f.store.records {
		assert.Equal(t, models.MemoryStatusFailed, f.store.statuses[id])
	}
	assert.Empty(t, f.index.indexed)
}

func TestWrite_IndexFailureParksRecordAsFailed(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.index.indexErr = merr.New(merr.CodeUnavailableDependency, "qdrant unreachable")

	_, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "never indexed",
	})
	testutil.RequireErrorCode(t, err, merr.CodeUnavailableDependency)

	for id := range f.store.records {
		assert.Equal(t, models.MemoryStatusFailed, f.store.statuses[id])
	}
}

func TestWrite_GraphFailureDoesNotFailTheWrite(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.graph.relateErr = errors.New("neo4j unreachable")

	receipt, err := f.svc.Write(context.Background(), WriteRequest{
		UserID: svcTestUserID,
		Text:   "survives graph outage",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MemoryStatusIndexed, receipt.Status)
	assert.Equal(t, models.MemoryStatusIndexed, f.store.statuses[receipt.MemoryID])
}

// ===========================================================================
// Recall Tests
// ===========================================================================

// seedRecord inserts a stored, indexed record directly into the fake store.
func seedRecord(t *testing.T, store *fakeStore, id, text string) {
	t.Helper()
	rec, err := models.NewMemoryRecord(svcTestUserID, text, models.MemoryKindEpisodic)
	require.NoError(t, err)
	rec.ID = id
	rec.Status = models.MemoryStatusIndexed
	store.records[id] = rec
}

func TestRecall_OrdersByScore(t *testing.T) {
	f := newSvcFixture(t, nil)
	seedRecord(t, f.store, "mem-a", "likes jazz")
	seedRecord(t, f.store, "mem-b", "likes hiking")
	seedRecord(t, f.store, "mem-c", "likes rain")
	f.index.matches = []Match{
		{MemoryID: "mem-b", Score: 0.91},
		{MemoryID: "mem-c", Score: 0.40},
		{MemoryID: "mem-a", Score: 0.77},
	}

	records, err := f.svc.Recall(context.Background(), RecallRequest{
		UserID: svcTestUserID,
		Query:  "what does the user like?",
	})
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "mem-b", records[0].ID)
	assert.Equal(t, "mem-a", records[1].ID)
	assert.Equal(t, "mem-c", records[2].ID)
}

func TestRecall_RecencyBoostBreaksTies(t *testing.T) {
	f := newSvcFixture(t, nil)
	seedRecord(t, f.store, "mem-cold", "old fact")
	seedRecord(t, f.store, "mem-warm", "fresh fact")
	f.index.matches = []Match{
		{MemoryID: "mem-cold", Score: 0.80},
		{MemoryID: "mem-warm", Score: 0.80},
	}
	f.recency.recent = []string{"mem-warm"}

	records, err := f.svc.Recall(context.Background(), RecallRequest{
		UserID: svcTestUserID,
		Query:  "facts",
	})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "mem-warm", records[0].ID,
		"recently touched memory should win the tie")
}

func TestRecall_EmptyIndexReturnsEmptySlice(t *testing.T) {
	f := newSvcFixture(t, nil)

	records, err := f.svc.Recall(context.Background(), RecallRequest{
		UserID: svcTestUserID,
		Query:  "anything at all",
	})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestRecall_AppliesDefaultLimit(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Recall(context.Background(), RecallRequest{
		UserID: svcTestUserID,
		Query:  "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultRecallLimit, f.index.searchLimit)
}

func TestRecall_HonorsRequestLimit(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Recall(context.Background(), RecallRequest{
		UserID: svcTestUserID,
		Query:  "anything",
		Limit:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.index.searchLimit)
}

func TestRecall_PolicyDenied(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Recall(context.Background(), RecallRequest{
		Query: "who am I?",
	})
	testutil.RequireErrorCode(t, err, merr.CodeAuthorizationDenied)
	assert.Zero(t, f.embedder.calls)
}

// ===========================================================================
// Forget Tests
// ===========================================================================

func TestForget_SingleMemoryRemovesFromAllStores(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.store.deleted = true
	seedRecord(t, f.store, "mem-gone", "to be forgotten")

	removed, err := f.svc.Forget(context.Background(), ForgetRequest{
		UserID:   svcTestUserID,
		MemoryID: "mem-gone",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), removed)
	assert.Equal(t, []string{"mem-gone"}, f.index.removed)
	assert.Equal(t, []string{"mem-gone"}, f.graph.detached)
	assert.Equal(t, []string{"mem-gone"}, f.recency.forgotten)
}

func TestForget_UnknownMemory(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Forget(context.Background(), ForgetRequest{
		UserID:   svcTestUserID,
		MemoryID: "mem-never-existed",
	})
	testutil.RequireErrorCode(t, err, merr.CodeNotFoundResource)
	assert.Empty(t, f.index.removed, "index must not be touched for unknown memories")
}

func TestForget_AllRemovesUserEverywhere(t *testing.T) {
	f := newSvcFixture(t, nil)
	f.store.deleteAll = 7

	removed, err := f.svc.Forget(context.Background(), ForgetRequest{
		UserID: svcTestUserID,
		All:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), removed)
	assert.Equal(t, []string{svcTestUserID}, f.index.removedUsers)
	assert.Equal(t, []string{svcTestUserID}, f.graph.detachedUsers)
	assert.Equal(t, []string{svcTestUserID}, f.recency.flushed)
}

func TestForget_RequiresExactlyOneTarget(t *testing.T) {
	f := newSvcFixture(t, nil)

	tests := []struct {
		name string
		req  ForgetRequest
	}{
		{"neither target", ForgetRequest{UserID: svcTestUserID}},
		{"both targets", ForgetRequest{UserID: svcTestUserID, MemoryID: "mem-1", All: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Forget(context.Background(), tt.req)
			testutil.RequireErrorCode(t, err, merr.CodeValidation)
		})
	}
}

func TestForget_PolicyDenied(t *testing.T) {
	f := newSvcFixture(t, nil)

	_, err := f.svc.Forget(context.Background(), ForgetRequest{
		MemoryID: "mem-1",
	})
	testutil.RequireErrorCode(t, err, merr.CodeAuthorizationDenied)
}

// ===========================================================================
// ArchiveSession Tests
// ===========================================================================

func svcTestTranscript() *Transcript {
	return &Transcript{
		UserID:    svcTestUserID,
		SessionID: svcTestSessionID,
		Lines: []TranscriptLine{
			{Role: "user", Text: "remember that I use vim", At: time.Now().UTC()},
			{Role: "assistant", Text: "noted", At: time.Now().UTC()},
		},
	}
}

func TestArchiveSession_StoresTranscript(t *testing.T) {
	f := newSvcFixture(t, nil)

	key, err := f.svc.ArchiveSession(context.Background(), svcTestTranscript())
	require.NoError(t, err)

	assert.Equal(t, "transcripts/"+svcTestUserID+"/"+svcTestSessionID+".json", key)
	require.NotNil(t, f.archive.stored)
	assert.False(t, f.archive.stored.EndedAt.IsZero(), "EndedAt should default to now")
}

func TestArchiveSession_NotConfigured(t *testing.T) {
	f := newSvcFixture(t, func(c *ServiceConfig) { c.Archive = nil })

	_, err := f.svc.ArchiveSession(context.Background(), svcTestTranscript())
	testutil.RequireErrorCode(t, err, merr.CodeInternalConfiguration)
}

func TestArchiveSession_NilTranscript(t *testing.T) {
	f := newSvcFixture(t, nil)

	// A nil transcript must come back as a validation error, not a panic.
	_, err := f.svc.ArchiveSession(context.Background(), nil)
	testutil.RequireErrorCode(t, err, merr.CodeValidation)
}

func TestArchiveSession_RejectsIncompleteTranscripts(t *testing.T) {
	f := newSvcFixture(t, nil)

	tests := []struct {
		name   string
		mutate func(*Transcript)
	}{
		{"missing user", func(tr *Transcript) { tr.UserID = "" }},
		{"missing session", func(tr *Transcript) { tr.SessionID = "" }},
		{"no lines", func(tr *Transcript) { tr.Lines = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := svcTestTranscript()
			tt.mutate(tr)
			_, err := f.svc.ArchiveSession(context.Background(), tr)
			testutil.RequireErrorCode(t, err, merr.CodeValidationRequired)
		})
	}
}
