package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/eventpix/internal/config"
)

// MinIOStore owns raw photo bytes, one bucket per event. Bucket names are the
// event code lower-cased: the MinIO namespace is case-sensitive while event
// codes are not.
type MinIOStore struct {
	client *minio.Client
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{client: client}, nil
}

// BucketName normalizes an event code to its bucket name.
func BucketName(eventCode string) string {
	return strings.ToLower(eventCode)
}

// EnsureBucket creates the event's bucket if it doesn't exist. Idempotent.
func (s *MinIOStore) EnsureBucket(ctx context.Context, eventCode string) (string, error) {
	bucket := BucketName(eventCode)
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return bucket, nil
}

// Upload stores data under key in the event's bucket and returns the blob URL.
func (s *MinIOStore) Upload(ctx context.Context, eventCode, key string, data []byte, contentType string) (string, error) {
	bucket := BucketName(eventCode)
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return s.ObjectURL(eventCode, key), nil
}

// Download retrieves a blob by key.
func (s *MinIOStore) Download(ctx context.Context, eventCode, key string) ([]byte, error) {
	bucket := BucketName(eventCode)
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *MinIOStore) Delete(ctx context.Context, eventCode, key string) error {
	bucket := BucketName(eventCode)
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ObjectURL resolves the public URL for a blob.
func (s *MinIOStore) ObjectURL(eventCode, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), BucketName(eventCode), key)
}

// StatObject reports whether a blob exists and when it was last written.
func (s *MinIOStore) StatObject(ctx context.Context, eventCode, key string) (bool, time.Time, error) {
	bucket := BucketName(eventCode)
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
	}
	return true, info.LastModified, nil
}

// ObjectInfo is one entry from ListObjects.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ListObjects returns blob keys under a prefix in the event's bucket.
func (s *MinIOStore) ListObjects(ctx context.Context, eventCode, prefix string) ([]ObjectInfo, error) {
	bucket := BucketName(eventCode)
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, obj.Err)
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, LastModified: obj.LastModified})
	}
	return objects, nil
}

// RenameBucket moves all blobs from the old event code's bucket to the new
// one: copy everything, then delete the originals and the old bucket. Used
// when an event code changes.
func (s *MinIOStore) RenameBucket(ctx context.Context, oldCode, newCode string) error {
	oldBucket := BucketName(oldCode)
	newBucket, err := s.EnsureBucket(ctx, newCode)
	if err != nil {
		return err
	}

	objects, err := s.ListObjects(ctx, oldCode, "")
	if err != nil {
		return err
	}

	for _, obj := range objects {
		_, err := s.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: newBucket, Object: obj.Key},
			minio.CopySrcOptions{Bucket: oldBucket, Object: obj.Key})
		if err != nil {
			return fmt.Errorf("copy %s/%s: %w", oldBucket, obj.Key, err)
		}
	}

	for _, obj := range objects {
		if err := s.client.RemoveObject(ctx, oldBucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s/%s: %w", oldBucket, obj.Key, err)
		}
	}

	if err := s.client.RemoveBucket(ctx, oldBucket); err != nil {
		return fmt.Errorf("remove bucket %s: %w", oldBucket, err)
	}
	return nil
}

// PurgeBucket deletes every blob in the event's bucket and the bucket itself.
// Used when an event is deleted. Missing bucket is not an error.
func (s *MinIOStore) PurgeBucket(ctx context.Context, eventCode string) error {
	bucket := BucketName(eventCode)
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		return nil
	}

	objects, err := s.ListObjects(ctx, eventCode, "")
	if err != nil {
		return err
	}
	if len(objects) > 0 {
		objectsCh := make(chan minio.ObjectInfo, len(objects))
		for _, obj := range objects {
			objectsCh <- minio.ObjectInfo{Key: obj.Key}
		}
		close(objectsCh)
		for result := range s.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
			if result.Err != nil {
				return fmt.Errorf("delete object %s/%s: %w", bucket, result.ObjectName, result.Err)
			}
		}
	}

	if err := s.client.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("remove bucket %s: %w", bucket, err)
	}
	return nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.ListBuckets(ctx)
	return err
}
