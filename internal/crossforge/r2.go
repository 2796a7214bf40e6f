package crossforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"crossforge/internal/pipeline"
)

// PublishStepName is the step uploading the archive to object storage.
const PublishStepName = "publish-toolchain"

// R2Client wraps the S3 client for Cloudflare R2 or any S3 compatible store.
type R2Client struct {
	Client     *s3.Client
	BucketName string
}

// endpoint is the explicit endpoint, or the R2 one derived from the account.
func (p PublishConfig) endpoint() string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", p.AccountID)
}

// NewR2Client initializes a client from the publish settings.
func NewR2Client(ctx context.Context, p PublishConfig) (*R2Client, error) {
	if p.Bucket == "" || p.AccessKeyID == "" || p.SecretAccessKey == "" {
		return nil, errors.New("publish credentials missing (R2_BUCKET_NAME, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY)")
	}
	if p.AccountID == "" && p.Endpoint == "" {
		return nil, errors.New("publish destination missing (R2_ACCOUNT_ID or CROSSFORGE_R2_ENDPOINT)")
	}

	endpoint := p.endpoint()
	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &R2Client{Client: client, BucketName: p.Bucket}, nil
}

// contentType guesses the upload content type from the key.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	case strings.HasSuffix(key, ".b3"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// UploadLocalFile uploads a file from disk.
func (r *R2Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType(key)),
	})
	return err
}

// objectKey places name under prefix using forward slashes.
func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// PublishStep uploads the packaged toolchain and its sidecar.
type PublishStep struct {
	pipeline.Named
	// newClient is replaced in tests.
	newClient func(context.Context, PublishConfig) (uploader, error)
}

type uploader interface {
	UploadLocalFile(ctx context.Context, key, filePath string) error
}

func NewPublishStep() *PublishStep {
	return &PublishStep{
		Named: pipeline.Named{StepName: PublishStepName},
		newClient: func(ctx context.Context, p PublishConfig) (uploader, error) {
			return NewR2Client(ctx, p)
		},
	}
}

func (s *PublishStep) Run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	archive := cfg.ArchivePath()
	files := []string{archive, archive + ".b3"}
	for _, f := range files {
		if !fileExists(f) {
			return &PreconditionError{What: "packaged toolchain", Path: f}
		}
	}

	client, err := s.newClient(ctx, cfg.Publish)
	if err != nil {
		return err
	}
	for _, f := range files {
		key := objectKey(cfg.Publish.Prefix, filepath.Base(f))
		logger.Info("uploading", "file", f, "bucket", cfg.Publish.Bucket, "key", key)
		if err := client.UploadLocalFile(ctx, key, f); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
