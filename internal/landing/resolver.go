package landing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/analyzer"
	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/storage/objectstore"
)

var (
	ErrNoPatternMatch = errors.New("no files found matching pattern")
	// ErrUnsupportedConnection is returned when a storage connection cannot be
	// copied into the landing zone.
	ErrUnsupportedConnection = errors.New("storage connection type is not copyable")
)

// Resolver locates the landed input of a source in the landing bucket.
type Resolver struct {
	store    objectstore.Store
	bucket   string
	analyzer analyzer.FileAnalyzer
	logger   *slog.Logger
}

func NewResolver(store objectstore.Store, bucket string, fa analyzer.FileAnalyzer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if fa == nil {
		fa = analyzer.NewNative()
	}
	return &Resolver{store: store, bucket: strings.TrimSpace(bucket), analyzer: fa, logger: logger}
}

// Resolve returns the landing key for a source. The newest object under the
// source-name folder wins, then the newest under the legacy pipeline/job
// folder, then a speculative key built from originalFilePath. ok is false
// when none apply.
func (r *Resolver) Resolve(ctx context.Context, pipelineID, jobID, jobName, originalFilePath string) (string, bool, error) {
	if r == nil || r.store == nil {
		return "", false, errors.New("landing resolver not initialized")
	}

	primary := SourcePrefix(jobName)
	if key, ok, err := r.newest(ctx, primary); err != nil {
		return "", false, err
	} else if ok {
		r.logger.Debug("landing file resolved", "key", key, "convention", "source_name")
		return key, true, nil
	}

	if strings.TrimSpace(pipelineID) != "" && strings.TrimSpace(jobID) != "" {
		if key, ok, err := r.newest(ctx, LegacyPrefix(pipelineID, jobID)); err != nil {
			return "", false, err
		} else if ok {
			r.logger.Debug("landing file resolved", "key", key, "convention", "legacy")
			return key, true, nil
		}
	}

	if base := path.Base(strings.TrimSpace(originalFilePath)); strings.TrimSpace(originalFilePath) != "" && base != "." && base != "/" {
		key := primary + base
		r.logger.Debug("landing file not listed, using speculative key", "key", key)
		return key, true, nil
	}
	return "", false, nil
}

// Match lists prefix and returns the keys whose base name matches pattern,
// newest first.
func (r *Resolver) Match(ctx context.Context, prefix, pattern string) ([]string, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("landing resolver not initialized")
	}
	objects, err := r.store.List(ctx, r.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	names := make([]string, 0, len(objects))
	modified := make(map[string]objectstore.ObjectInfo, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Key)
		modified[obj.Key] = obj
	}
	matched, err := r.analyzer.Match(ctx, names, pattern)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPatternMatch, pattern)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newer(modified[matched[i]], modified[matched[j]])
	})
	return matched, nil
}

// CopyFromConnection copies {prefix}/{filePath} from the connection's bucket
// into the source-name landing folder and returns the landing key.
func (r *Resolver) CopyFromConnection(ctx context.Context, conn domain.StorageConnection, filePath, jobName string) (string, error) {
	if r == nil || r.store == nil {
		return "", errors.New("landing resolver not initialized")
	}
	if t := strings.ToLower(strings.TrimSpace(conn.Type)); t != "s3" && t != "minio" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedConnection, conn.Type)
	}
	srcBucket := strings.TrimSpace(conn.Config.Bucket)
	if srcBucket == "" {
		return "", fmt.Errorf("storage connection %s has no bucket", conn.ID)
	}
	srcKey := conn.Config.ObjectKey(filePath)
	dstKey := SourcePrefix(jobName) + path.Base(srcKey)
	if err := r.store.Copy(ctx, srcBucket, srcKey, r.bucket, dstKey); err != nil {
		return "", fmt.Errorf("copy %s/%s to landing: %w", srcBucket, srcKey, err)
	}
	r.logger.Info("copied file into landing zone", "connection_id", conn.ID, "source_key", srcKey, "key", dstKey)
	return dstKey, nil
}

func (r *Resolver) newest(ctx context.Context, prefix string) (string, bool, error) {
	objects, err := r.store.List(ctx, r.bucket, prefix)
	if err != nil {
		return "", false, fmt.Errorf("list %s: %w", prefix, err)
	}
	var best objectstore.ObjectInfo
	found := false
	for _, obj := range objects {
		if obj.Key == prefix || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if !found || newer(obj, best) {
			best = obj
			found = true
		}
	}
	return best.Key, found, nil
}

func newer(a, b objectstore.ObjectInfo) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	return a.Key > b.Key
}
