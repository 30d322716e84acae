package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("object not found")

// Store abstracts the S3-compatible object storage used for the landing and
// bronze zones.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// ReadAll reads at most limit bytes of the object at key.
func ReadAll(ctx context.Context, store Store, bucket, key string, limit int64) ([]byte, ObjectInfo, error) {
	rc, info, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if int64(len(data)) > limit {
		return nil, ObjectInfo{}, errors.New("object exceeds read limit")
	}
	return data, info, nil
}
