package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/keepsake/internal/config"
)

// GDriveStorage stores artifacts in a single Drive folder. Locations are
// Drive file ids.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(ctx context.Context, cfg *config.StorageConfig) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Put(ctx context.Context, localPath string, name string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    path.Base(name),
		Parents: []string{g.folderID},
	}

	created, err := g.service.Files.Create(fileMetadata).
		Media(file).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return created.Id, nil
}

func (g *GDriveStorage) Fetch(ctx context.Context, location string, localPath string) error {
	resp, err := g.service.Files.Get(location).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download from gdrive: %w", err)
	}
	defer resp.Body.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return nil
}

func (g *GDriveStorage) Delete(ctx context.Context, location string) error {
	if err := g.service.Files.Delete(location).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)

	var files []string
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				files = append(files, file.Id)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}
