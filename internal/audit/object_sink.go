package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// ObjectSink appends audit entries as JSONL batch objects to an object
// store, one object per Append call.
type ObjectSink struct {
	store      ObjectStore
	bucket     string
	basePrefix string
}

// NewObjectSink creates a sink writing under bucket/basePrefix.
func NewObjectSink(store ObjectStore, bucket, basePrefix string) *ObjectSink {
	return &ObjectSink{store: store, bucket: bucket, basePrefix: basePrefix}
}

// NewSinkFromEnv builds an audit sink from AUDIT_* / MINIO_* settings. With
// MinIO credentials configured it writes to object storage; otherwise it
// falls back to a local directory under the temp dir.
func NewSinkFromEnv() (*ObjectSink, error) {
	bucket := getenv("AUDIT_BUCKET", "audit")
	prefix := getenv("AUDIT_PREFIX", "entries")

	endpoint := getenv("MINIO_ENDPOINT", "")
	access := getenv("MINIO_ACCESS_KEY", "")
	secret := getenv("MINIO_SECRET_KEY", "")
	useSSL := getenv("MINIO_USE_SSL", "false") == "true"

	var store ObjectStore
	if endpoint != "" && access != "" && secret != "" {
		client, err := NewS3Client(S3Config{
			EndpointURL:     endpoint,
			AccessKeyID:     access,
			SecretAccessKey: secret,
			UseSSL:          useSSL,
		})
		if err != nil {
			return nil, err
		}
		store = client
	} else {
		store = NewLocalStore(filepath.Join(os.TempDir(), "audit-store"))
	}
	return NewObjectSink(store, bucket, prefix), nil
}

// Append writes the entries as one JSONL object keyed by day and timestamp.
func (s *ObjectSink) Append(ctx context.Context, entries ...*core.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return fmt.Errorf("ensure audit bucket: %w", err)
	}

	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	now := time.Now().UTC()
	key := s.path(now.Format("2006-01-02"), fmt.Sprintf("%d-%s.jsonl", now.UnixNano(), entries[0].ID))
	if err := s.store.PutObject(ctx, s.bucket, key, buf.Bytes()); err != nil {
		return fmt.Errorf("write audit batch: %w", err)
	}
	return nil
}

func (s *ObjectSink) path(parts ...string) string {
	all := append([]string{s.basePrefix}, parts...)
	return strings.Trim(strings.Join(all, "/"), "/")
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
