package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

// ArchiveOptions configures the S3-compatible compliance archive
type ArchiveOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// objectStore is the subset of the MinIO client used by the archiver
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads ledger exports to object storage for long-term retention
type Archiver struct {
	store  objectStore
	bucket string
	prefix string
	now    func() time.Time
}

// ArchiveResult describes an uploaded archive object
type ArchiveResult struct {
	Bucket  string `json:"bucket"`
	Object  string `json:"object"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// NewArchiver connects to the configured endpoint
func NewArchiver(opts ArchiveOptions) (*Archiver, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}
	return newArchiver(client, opts.Bucket, opts.Prefix), nil
}

func newArchiver(store objectStore, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = "audit"
	}
	return &Archiver{store: store, bucket: bucket, prefix: prefix, now: time.Now}
}

// Archive exports the entries matching filter as JSON lines and uploads them as one object
func (a *Archiver) Archive(ctx context.Context, ledger *Ledger, filter models.AuditFilter) (ArchiveResult, error) {
	var buf bytes.Buffer
	n, err := ledger.Export(ctx, &buf, FormatJSONL, filter)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to export audit entries: %w", err)
	}

	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to check archive bucket: %w", err)
	}
	if !exists {
		if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return ArchiveResult{}, fmt.Errorf("failed to create archive bucket: %w", err)
		}
	}

	object := a.objectName()
	size := int64(buf.Len())
	_, err = a.store.PutObject(ctx, a.bucket, object, &buf, size, minio.PutObjectOptions{
		ContentType: FormatJSONL.ContentType(),
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	logger.InfoWithFields("audit archive uploaded", map[string]interface{}{
		"bucket":  a.bucket,
		"object":  object,
		"entries": n,
	})
	return ArchiveResult{Bucket: a.bucket, Object: object, Entries: n, Bytes: size}, nil
}

func (a *Archiver) objectName() string {
	ts := a.now().UTC()
	return path.Join(a.prefix, ts.Format("2006/01/02"), fmt.Sprintf("audit-%s.jsonl", ts.Format("20060102T150405.000000000Z")))
}
