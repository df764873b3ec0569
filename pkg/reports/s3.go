package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/biller/pkg/billing"
)

var tracer = otel.Tracer("biller/reports")

// S3Config configures the S3 run archive
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// Validate checks the archive settings
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("s3 access key and secret key must be set together")
	}
	return nil
}

// S3API is the subset of the S3 client used by the archive
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archive stores every billing run report as a JSON object.
// Keys have the form <prefix>/runs/<yyyy-mm-dd>/<run id>.json.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
	logger logrus.FieldLogger
}

// NewS3Client builds an S3 client from cfg. Static credentials are used
// when given (MinIO, explicit keys), the default AWS chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Archive connects to S3 and creates the bucket if it is missing
func NewS3Archive(ctx context.Context, cfg S3Config, logger logrus.FieldLogger) (*S3Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := createBucketIfNotExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return NewS3ArchiveWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3ArchiveWithClient wraps an existing client
func NewS3ArchiveWithClient(client S3API, bucket, prefix string, logger logrus.FieldLogger) *S3Archive {
	if logger == nil {
		logger = logrus.New()
	}
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the object key for a report
func (a *S3Archive) Key(report *billing.RunReport) string {
	return path.Join(a.prefix, runKey(report))
}

// ReportRun implements billing.Reporter
func (a *S3Archive) ReportRun(ctx context.Context, report *billing.RunReport) error {
	key := a.Key(report)
	ctx, span := tracer.Start(ctx, "S3.PutRunReport",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.String("billing.run_id", report.RunID),
		),
	)
	defer span.End()

	data, err := json.Marshal(report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode report")
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"run-id":          report.RunID,
			"trigger":         report.Trigger,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload run report: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"bucket": a.bucket,
		"key":    key,
		"run_id": report.RunID,
	}).Debug("Archived billing run report")
	span.SetStatus(codes.Ok, "report archived")
	return nil
}

// Get reads an archived report back
func (a *S3Archive) Get(ctx context.Context, key string) (*billing.RunReport, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("run report %q: %w", key, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}
	var report billing.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}

// HealthCheck verifies the bucket is reachable
func (a *S3Archive) HealthCheck(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client S3API, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func runKey(report *billing.RunReport) string {
	return path.Join("runs", report.StartedAt.UTC().Format("2006-01-02"), report.RunID+".json")
}
