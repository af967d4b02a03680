package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Package archive keeps versioned document snapshots in S3-compatible
// storage. It is a durability extra on top of the record store: every
// finished run and every manual save leaves a retrievable snapshot.

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func NewStore(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: init client: %w", err)
	}
	return &Store{client: client, bucket: bucket, region: region}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func snapshotKey(recordID, runID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", recordID, at.UTC().Format("20060102T150405Z"), runID)
}

// PutSnapshot archives one serialized document payload. A nil Store is a
// no-op so callers need no enabled-check.
func (s *Store) PutSnapshot(ctx context.Context, recordID, runID string, payload []byte) error {
	if s == nil {
		return nil
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return fmt.Errorf("archive: record id is required")
	}
	if runID = strings.TrimSpace(runID); runID == "" {
		runID = "manual"
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("archive: ensure bucket: %w", err)
	}
	key := snapshotKey(recordID, runID, time.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// ListSnapshots returns snapshot keys for a record, newest last.
func (s *Store) ListSnapshots(ctx context.Context, recordID string) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive: ensure bucket: %w", err)
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimSpace(recordID) + "/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("archive: list: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
