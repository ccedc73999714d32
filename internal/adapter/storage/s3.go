package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/semmidev/keepsake/internal/config"
)

type S3Storage struct {
	client     *s3.Client
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
}

// NewS3 creates a new S3Storage instance using AWS SDK v2. Static keys are
// optional; without them the default credential chain applies.
func NewS3(ctx context.Context, cfg *appconfig.StorageConfig) (*S3Storage, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Storage{
		client:     client,
		uploader:   s3manager.NewUploader(client),
		downloader: s3manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
	}, nil
}

// Put uploads a local file and returns its object key.
func (s *S3Storage) Put(ctx context.Context, localPath string, name string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := path.Join(s.prefix, name)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return key, nil
}

func (s *S3Storage) Fetch(ctx context.Context, location string, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = s.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &location,
	})
	if err != nil {
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	return nil
}

func (s *S3Storage) Delete(ctx context.Context, location string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &location,
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

// List returns every object key under the configured prefix.
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	var files []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &s.prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && strings.TrimPrefix(*obj.Key, s.prefix) != "" {
				files = append(files, *obj.Key)
			}
		}
	}

	return files, nil
}
