// internal/media/s3.go
package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint     string // S3 service endpoint URL, empty for AWS
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	PublicURL    string // Base URL objects are publicly readable under
	MaxDimension int
}

// S3Store uploads assets to an S3-compatible bucket.
// It supports both AWS S3 and S3-compatible services like MinIO.
type S3Store struct {
	processor
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Store creates a new S3-backed asset store.
// Parameters:
//   - ctx: Context used while loading the AWS configuration
//   - opts: Endpoint, credentials, bucket and public URL of the store
//
// Returns:
//   - *S3Store: Initialized store
//   - error: Any error that occurred during initialization
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     opts.AccessKey,
					SecretAccessKey: opts.SecretKey,
				}, nil
			})),
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	return &S3Store{
		processor: processor{maxDimension: opts.MaxDimension},
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
	}, nil
}

func (s *S3Store) UploadAndPersist(ctx context.Context, f *File, info FileInfo) (*model.StoredAsset, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(info.Key),
		Body:          bytes.NewReader(f.Data),
		ContentType:   aws.String(info.MimeType),
		ContentLength: aws.Int64(int64(len(f.Data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}

	return storedAsset(info, s.publicURL+"/"+info.Key), nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
