package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/pitchtrack/internal/config"
)

// MinIOStore keeps frame JPEGs and heatmap PNGs in a single bucket, laid out
// by FrameKey and HeatmapKey.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket on first start.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	case exists:
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PutObject stores data under key. Heatmap snapshots overwrite the previous
// one in place.
func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetObject reads a whole object. A frame removed by retention, or a heatmap
// not yet snapshotted, yields ErrNotFound.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readErr(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readErr(key, err)
	}
	return data, nil
}

func (s *MinIOStore) readErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", key, err)
}

// TrimPrefix keeps the newest keep objects under prefix and removes the rest,
// returning how many were removed. Keys must sort in age order, as FrameKey
// does.
func (s *MinIOStore) TrimPrefix(ctx context.Context, prefix string, keep int) (int, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) <= keep {
		return 0, nil
	}
	slices.Sort(keys)
	stale := keys[:len(keys)-keep]

	objects := make(chan minio.ObjectInfo, len(stale))
	for _, k := range stale {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	removed := len(stale)
	var firstErr error
	for res := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if res.Err != nil {
			removed--
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", res.ObjectName, res.Err)
			}
		}
	}
	return removed, firstErr
}

// Ping checks that the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
