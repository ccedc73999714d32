package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage keeps artifacts under a base directory. Locations are paths
// relative to that directory.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) resolve(location string) (string, error) {
	full := filepath.Join(l.basePath, filepath.FromSlash(location))
	rel, err := filepath.Rel(l.basePath, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("location %q escapes storage root", location)
	}
	return full, nil
}

func (l *LocalStorage) Put(ctx context.Context, localPath string, name string) (string, error) {
	destPath, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create dest directory: %w", err)
	}

	if err := copyFile(localPath, destPath); err != nil {
		return "", err
	}
	return filepath.ToSlash(name), nil
}

func (l *LocalStorage) Fetch(ctx context.Context, location string, localPath string) error {
	srcPath, err := l.resolve(location)
	if err != nil {
		return err
	}
	return copyFile(srcPath, localPath)
}

func (l *LocalStorage) Delete(ctx context.Context, location string) error {
	filePath, err := l.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) List(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func (l *LocalStorage) GetPath(location string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(location))
}

func copyFile(srcPath, destPath string) error {
	source, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return dest.Sync()
}
