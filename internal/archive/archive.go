// Package archive stores a JSON snapshot of every ended poll in an S3
// compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"polity/engine/internal/poll"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Snapshot is the archived form of an ended poll.
type Snapshot struct {
	PollID     string    `json:"pollId"`
	TenantID   string    `json:"tenantId"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Question   string    `json:"question,omitempty"`
	Options    []string  `json:"options,omitempty"`
	PolicyID   string    `json:"policyId,omitempty"`
	Result     string    `json:"result"`
	CreatedAt  time.Time `json:"createdAt"`
	EndedAt    time.Time `json:"endedAt"`
	ArchivedAt time.Time `json:"archivedAt"`
}

func SnapshotOf(p poll.Poll, archivedAt time.Time) Snapshot {
	meta := p.Info()
	snapshot := Snapshot{
		PollID:     meta.ID,
		TenantID:   meta.TenantID,
		Kind:       string(p.Kind()),
		Name:       meta.Name,
		Question:   meta.Question,
		Options:    meta.Options,
		Result:     meta.Result,
		CreatedAt:  meta.CreatedAt.UTC(),
		EndedAt:    meta.Deadline.UTC(),
		ArchivedAt: archivedAt.UTC(),
	}
	if meta.PolicyID != nil {
		snapshot.PolicyID = *meta.PolicyID
	}
	return snapshot
}

// ObjectKey is tenants/<tenant>/polls/<poll>.json.
func ObjectKey(tenantID, pollID string) string {
	return path.Join("tenants", tenantID, "polls", pollID+".json")
}

type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// MinIO writes snapshots to one bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to the endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinIO) PutJSON(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func encodeSnapshot(snapshot Snapshot) ([]byte, error) {
	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snapshot.PollID, err)
	}
	return body, nil
}
