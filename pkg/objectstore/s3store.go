package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/metrics"
)

// S3Config configures the S3-backed object store. Endpoint/AccessKey/
// SecretKey are optional and select an S3-compatible endpoint (MinIO,
// Hetzner, etc.) instead of AWS S3 proper.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	UsePathStyle bool
	AccessKey string
	SecretKey string

	MaxRetries int
}

// S3Store is a Store backed by an S3-compatible object store.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	retries  int
}

// NewS3Store builds an S3Store, loading AWS credentials from the standard
// chain unless AccessKey/SecretKey are supplied for a custom endpoint.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		retries:  retries,
	}, nil
}

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// withRetry runs op with jittered exponential backoff, making at most
// retries attempts in all; a missing key returns ErrNotFound at once.
func withRetry(ctx context.Context, op string, retries int, f func() error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ObjectStoreRequestDuration, op)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = f()
		if lastErr == nil {
			return nil
		}
		var notFound *types.NoSuchKey
		if errors.As(lastErr, &notFound) {
			return ErrNotFound
		}
		log.WithComponent("objectstore").Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Msg("object store request failed, retrying")
	}
	metrics.ObjectStoreRequestsFailed.WithLabelValues(op).Inc()
	return lastErr
}

func (s *S3Store) Get(ctx context.Context, key string, r *ByteRange) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, "get", s.retries, func() error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		}
		if r != nil {
			rangeHeader := fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
			input.Range = aws.String(rangeHeader)
		}
		out, err := s.client.GetObject(ctx, input)
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	return data, err
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	return withRetry(ctx, "put", s.retries, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

type s3WriteCloser struct {
	ctx      context.Context
	store    *S3Store
	key      string
	pr       *io.PipeReader
	pw       *io.PipeWriter
	uploadCh chan error
}

func (s *S3Store) StreamingPut(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	wc := &s3WriteCloser{ctx: ctx, store: s, key: key, pr: pr, pw: pw, uploadCh: make(chan error, 1)}

	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
			Body:   pr,
		})
		pr.CloseWithError(err)
		wc.uploadCh <- err
	}()

	return wc, nil
}

func (w *s3WriteCloser) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3WriteCloser) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.uploadCh
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, "list", s.retries, func() error {
		keys = nil
		var token *string
		for {
			out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(s.fullKey(prefix)),
				ContinuationToken: token,
			})
			if err != nil {
				return err
			}
			for _, obj := range out.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
			if !aws.ToBool(out.IsTruncated) {
				return nil
			}
			token = out.NextContinuationToken
		}
	})
	return keys, err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, "delete", s.retries, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		return err
	})
}

func (s *S3Store) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(s.fullKey(k))}
	}
	return withRetry(ctx, "delete_batch", s.retries, func() error {
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		return err
	})
}
