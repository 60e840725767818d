package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/mnemora/mnemora-core/pkg/clients/minio"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

// DefaultArchiveBucket is the bucket session transcripts are archived in.
const DefaultArchiveBucket = "mnemora-transcripts"

// transcriptContentType is the content type stored with every archived
// transcript object.
const transcriptContentType = "application/json"

// MinioArchive implements [TranscriptArchive] on the platform MinIO
// client. Transcripts are stored as JSON under
// transcripts/<user_id>/<session_id>.json, so a user's history is one
// prefix listing away and forget-me deletion can walk a single prefix.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive wraps an existing MinIO client. An empty bucket selects
// DefaultArchiveBucket.
func NewMinioArchive(client *minio.Client, bucket string) *MinioArchive {
	if bucket == "" {
		bucket = DefaultArchiveBucket
	}
	return &MinioArchive{client: client, bucket: bucket}
}

// EnsureBucket creates the archive bucket if it does not already exist.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, miniogo.MakeBucketOptions{})
}

// Store persists the transcript and returns its object key. Archiving the
// same session twice overwrites the earlier object.
func (a *MinioArchive) Store(ctx context.Context, tr *Transcript) (string, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return "", merr.Wrap(err, merr.CodeInternal, "memory: transcript encoding failed")
	}
	key := transcriptKey(tr.UserID, tr.SessionID)
	_, err = a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		miniogo.PutObjectOptions{ContentType: transcriptContentType})
	if err != nil {
		return "", err
	}
	return key, nil
}

// transcriptKey builds the object key for a session's transcript.
func transcriptKey(userID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s.json", userID, sessionID)
}
