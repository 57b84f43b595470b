package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/readlater/readlater/internal/resilience"
)

const tracerName = "github.com/readlater/readlater/internal/storage"

// S3API is the subset of the S3 client used by S3Store, including the calls
// the upload manager makes.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Presigner signs GetObject requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	_ S3API     = (*s3.Client)(nil)
	_ Presigner = (*s3.PresignClient)(nil)
)

// S3StoreConfig holds the dependencies of an S3Store.
type S3StoreConfig struct {
	Client    S3API
	Presigner Presigner
	Bucket    string

	// ArchivePrefix is the key prefix archives are written under. Default: "archives".
	ArchivePrefix string

	// Executor retries uploads and guards them with a circuit breaker. Optional.
	Executor *resilience.Executor

	Logger zerolog.Logger
	Tracer trace.Tracer
}

// S3Store is an ObjectStore backed by an S3 bucket.
type S3Store struct {
	client        S3API
	presigner     Presigner
	uploader      *manager.Uploader
	bucket        string
	archivePrefix string
	executor      *resilience.Executor
	logger        zerolog.Logger
	tracer        trace.Tracer
}

var (
	_ ObjectStore = (*S3Store)(nil)
	_ URLSigner   = (*S3Store)(nil)
)

// NewS3Store creates an S3Store.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("s3 store requires a client")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store requires a bucket")
	}
	archivePrefix := cfg.ArchivePrefix
	if archivePrefix == "" {
		archivePrefix = "archives"
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &S3Store{
		client:        cfg.Client,
		presigner:     cfg.Presigner,
		uploader:      manager.NewUploader(cfg.Client),
		bucket:        cfg.Bucket,
		archivePrefix: archivePrefix,
		executor:      cfg.Executor,
		logger:        cfg.Logger.With().Str("bucket", cfg.Bucket).Logger(),
		tracer:        tracer,
	}, nil
}

// Write implements ObjectStore.
func (s *S3Store) Write(ctx context.Context, records Records, keyWithoutExt string, format Format) error {
	key := Key(keyWithoutExt, format)

	ctx, span := s.tracer.Start(ctx, "storage.s3.write",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
			attribute.Int("records", records.Len()),
		),
	)
	defer span.End()

	data, err := Encode(records, format)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	err = s.run(ctx, func(ctx context.Context) error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(format.ContentType()),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	recordUpload(ctx, s.bucket, int64(len(data)))
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("wrote object")
	return nil
}

// Exists implements ObjectStore.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.s3.exists",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	span.RecordError(err)
	return false, fmt.Errorf("head %s: %w", key, err)
}

// ZipByPrefix implements ObjectStore. The archive is streamed into the
// upload without being buffered in full.
func (s *S3Store) ZipByPrefix(ctx context.Context, prefix, archiveName string) (string, error) {
	archiveKey := path.Join(s.archivePrefix, archiveName)

	ctx, span := s.tracer.Start(ctx, "storage.s3.zip",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("prefix", prefix),
			attribute.String("archive", archiveKey),
		),
	)
	defer span.End()

	entries, err := s.list(ctx, prefix, archiveKey)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))

	err = s.run(ctx, func(ctx context.Context) error {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(writeZip(pw, prefix, entries))
		}()

		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(archiveKey),
			Body:        pr,
			ContentType: aws.String("application/zip"),
		})
		if err != nil {
			pr.CloseWithError(err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("archiving %s: %w", prefix, err)
	}

	s.logger.Info().
		Str("prefix", prefix).
		Str("archive", archiveKey).
		Int("entries", len(entries)).
		Msg("archived prefix")
	return archiveKey, nil
}

// DeleteByPrefix implements ObjectStore. Each listed page is removed with one
// DeleteObjects call, which accepts up to 1000 keys.
func (s *S3Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "storage.s3.delete_prefix",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(normalizePrefix(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return deleted, fmt.Errorf("listing %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}

		var out *s3.DeleteObjectsOutput
		err = s.run(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return deleted, fmt.Errorf("deleting under %s: %w", prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("deleting %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += len(ids)
	}

	span.SetAttributes(attribute.Int("deleted", deleted))
	s.logger.Debug().Str("prefix", prefix).Int("deleted", deleted).Msg("deleted prefix")
	return deleted, nil
}

// PresignGet implements URLSigner.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("s3 store has no presigner")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) list(ctx context.Context, prefix, skipKey string) ([]zipEntry, error) {
	var entries []zipEntry

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(normalizePrefix(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == skipKey {
				continue
			}
			entries = append(entries, zipEntry{
				key:      key,
				modified: aws.ToTime(obj.LastModified),
				open: func() (io.ReadCloser, error) {
					out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
						Bucket: aws.String(s.bucket),
						Key:    aws.String(key),
					})
					if err != nil {
						return nil, err
					}
					return out.Body, nil
				},
			})
		}
	}
	return entries, nil
}

func (s *S3Store) run(ctx context.Context, op func(ctx context.Context) error) error {
	if s.executor == nil {
		return op(ctx)
	}
	return s.executor.Run(ctx, op)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
