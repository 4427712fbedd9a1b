package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"go.uber.org/zap"

	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/types"
)

const metaExpiresAt = "expires-at"

// objectAPI is the subset of *s3.Client the backend calls.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend stores assets as objects under a bucket prefix. It serves as the
// durable tier and, read-only, as an origin.
type Backend struct {
	api         objectAPI
	transporter *cargoships3.Transporter
	config      *Config
	logger      *zap.Logger
	metrics     *MetricsCollector
	now         func() time.Time
}

var (
	_ types.TierBackend   = (*Backend)(nil)
	_ types.OriginFetcher = (*Backend)(nil)
	_ types.StatsReporter = (*Backend)(nil)
)

// NewBackend creates a new S3 backend and checks that the bucket is reachable.
func NewBackend(ctx context.Context, cfg *Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := newBackend(client, cfg, logger)
	if cfg.EnableTransporter {
		b.transporter = newTransporter(client, cfg)
		logger.Info("cargoship transporter enabled",
			zap.String("bucket", cfg.Bucket),
			zap.Int64("multipart_threshold", cfg.MultipartThreshold),
			zap.Int("concurrency", cfg.Concurrency))
	}

	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("S3 backend health check failed: %w", err)
	}
	return b, nil
}

func newBackend(api objectAPI, cfg *Config, logger *zap.Logger) *Backend {
	return &Backend{
		api:     api,
		config:  cfg,
		logger:  logger.With(zap.String("component", "s3"), zap.String("bucket", cfg.Bucket)),
		metrics: NewMetricsCollector(),
		now:     time.Now,
	}
}

// Name implements types.TierBackend.
func (b *Backend) Name() string { return "s3" }

// Get returns the object for key. Missing or expired objects are a miss.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, meta, err := b.getObject(ctx, key)
	if isNotFound(err) {
		b.metrics.RecordMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeTierUnavailable, "s3 get failed", err).
			WithComponent("s3").WithKey(key)
	}

	if raw, ok := meta[metaExpiresAt]; ok {
		if ns, perr := strconv.ParseInt(raw, 10, 64); perr == nil && !b.now().Before(time.Unix(0, ns)) {
			b.metrics.RecordMiss()
			if derr := b.Delete(ctx, key); derr != nil {
				b.logger.Debug("failed to delete expired object", zap.String("key", key), zap.Error(derr))
			}
			return nil, false, nil
		}
	}

	b.metrics.RecordHit()
	return data, true, nil
}

// Fetch implements types.OriginFetcher. A missing object is NOT_FOUND.
func (b *Backend) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, _, err := b.getObject(ctx, key)
	switch {
	case err == nil:
		return data, nil
	case isNotFound(err):
		return nil, errors.NewError(errors.ErrCodeNotFound, "object not found").
			WithComponent("s3").WithKey(key)
	case stderrors.Is(err, context.DeadlineExceeded):
		return nil, errors.Wrap(errors.ErrCodeOperationTimeout, "s3 fetch timed out", err).WithKey(key)
	default:
		return nil, errors.Wrap(errors.ErrCodeOriginFailed, "s3 fetch failed", err).
			WithComponent("s3").WithKey(key)
	}
}

// Put stores data. Large payloads use the cargoship transporter when
// enabled, falling back to a plain PutObject if it fails.
func (b *Backend) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	start := b.now()
	if ttl <= 0 {
		ttl = b.config.TTL
	}
	meta := map[string]string{}
	if ttl > 0 {
		meta[metaExpiresAt] = strconv.FormatInt(start.Add(ttl).UnixNano(), 10)
	}
	size := int64(len(data))

	if b.transporter != nil && size >= b.config.MultipartThreshold {
		result, err := b.transporter.Upload(ctx, cargoships3.Archive{
			Key:          b.objectKey(key),
			Reader:       bytes.NewReader(data),
			Size:         size,
			StorageClass: toCargoShipStorageClass(b.config.StorageClass),
			Metadata:     meta,
		})
		if err == nil {
			b.metrics.RecordTransporterUpload(size)
			b.metrics.RecordLatency(time.Since(start), false)
			b.logger.Debug("transporter upload completed",
				zap.String("key", key),
				zap.Int64("size", size),
				zap.Any("throughput", result.Throughput),
				zap.Any("duration", result.Duration))
			return nil
		}
		b.logger.Warn("transporter upload failed, falling back to PutObject",
			zap.String("key", key), zap.Error(err))
	}

	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.config.Bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(key)),
		StorageClass:  toStorageClass(b.config.StorageClass),
		Metadata:      meta,
	})
	b.metrics.RecordLatency(time.Since(start), err != nil)
	if err != nil {
		b.metrics.RecordError(err)
		return errors.Wrap(errors.ErrCodeTierUnavailable, "s3 put failed", err).
			WithComponent("s3").WithKey(key)
	}
	b.metrics.RecordBytesUploaded(size)
	return nil
}

// Delete removes key. S3 treats deleting a missing key as success.
func (b *Backend) Delete(ctx context.Context, key string) error {
	start := b.now()
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	b.metrics.RecordLatency(time.Since(start), err != nil && !isNotFound(err))
	if err != nil && !isNotFound(err) {
		b.metrics.RecordError(err)
		return errors.Wrap(errors.ErrCodeTierUnavailable, "s3 delete failed", err).
			WithComponent("s3").WithKey(key)
	}
	return nil
}

// HealthCheck heads the bucket.
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.config.Bucket)})
	if err != nil {
		return b.translateError(err, "HeadBucket", "")
	}
	return nil
}

// TierStats implements types.StatsReporter. Entry counts would need a
// bucket listing and are not reported.
func (b *Backend) TierStats() types.TierStats {
	m := b.metrics.GetMetrics()
	s := types.TierStats{Backend: b.Name(), Hits: m.Hits, Misses: m.Misses}
	if total := m.Hits + m.Misses; total > 0 {
		s.HitRate = float64(m.Hits) / float64(total)
	}
	return s
}

// GetMetrics returns request counters.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

// Close is a no-op; the AWS client holds no resources needing release.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, map[string]string, error) {
	start := b.now()
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		b.metrics.RecordLatency(time.Since(start), !isNotFound(err))
		if !isNotFound(err) {
			b.metrics.RecordError(err)
		}
		return nil, nil, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	b.metrics.RecordLatency(time.Since(start), err != nil)
	if err != nil {
		b.metrics.RecordError(err)
		return nil, nil, fmt.Errorf("failed to read object body: %w", err)
	}
	b.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, out.Metadata, nil
}

func (b *Backend) objectKey(key string) string {
	return b.config.Prefix + key
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return fmt.Errorf("object not found: %s", key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s", b.config.Bucket)
	default:
		return fmt.Errorf("%s failed for %q: %w", operation, key, err)
	}
}

func isNotFound(err error) bool {
	return err != nil && (isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err))
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".cif"), strings.HasSuffix(key, ".mmcif"):
		return "chemical/x-mmcif"
	case strings.HasSuffix(key, ".pdb"):
		return "chemical/x-pdb"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
