package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	appconfig "github.com/semmidev/keepsake/internal/config"
)

// R2Storage talks to Cloudflare R2, or any S3-compatible endpoint, through
// the minio client.
type R2Storage struct {
	mc     *minio.Client
	bucket string
	prefix string
}

func NewR2(cfg *appconfig.StorageConfig) (*R2Storage, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating R2 client: %w", err)
	}

	return &R2Storage{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (r *R2Storage) Put(ctx context.Context, localPath string, name string) (string, error) {
	key := path.Join(r.prefix, name)

	_, err := r.mc.FPutObject(ctx, r.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return key, nil
}

func (r *R2Storage) Fetch(ctx context.Context, location string, localPath string) error {
	if err := r.mc.FGetObject(ctx, r.bucket, location, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("downloading %s: %w", location, err)
	}
	return nil
}

func (r *R2Storage) Delete(ctx context.Context, location string) error {
	if err := r.mc.RemoveObject(ctx, r.bucket, location, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting %s: %w", location, err)
	}
	return nil
}

func (r *R2Storage) List(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range r.mc.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
		Prefix:    r.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
