package executor

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/keepsake/internal/adapter/compressor"
	"github.com/semmidev/keepsake/internal/domain"
)

const ToolArchive = "archive"

const (
	dataPrefix   = "data"
	configPrefix = "config"
)

// AppExecutor archives an application's data and config directories into a
// single tar.gz with data/ and config/ top-level entries.
type AppExecutor struct {
	pipeline *Pipeline
	gzip     *compressor.GzipCompressor
}

func NewApp(pipeline *Pipeline, gz *compressor.GzipCompressor) *AppExecutor {
	return &AppExecutor{pipeline: pipeline, gzip: gz}
}

func (a *AppExecutor) Capture(ctx context.Context, r *domain.Resource) (domain.Artifact, error) {
	spec, err := appSpec(r)
	if err != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", err)
	}

	return a.pipeline.Capture(ctx, r, ".tar.gz", false, func(ctx context.Context, dest string) error {
		return a.writeArchive(ctx, dest, spec)
	})
}

// Restore extracts each tree next to its target and swaps it in, so a
// failed extraction leaves the live directory untouched.
func (a *AppExecutor) Restore(ctx context.Context, r *domain.Resource, location string) error {
	spec, err := appSpec(r)
	if err != nil {
		return domain.NewExecutionError("restore", err)
	}

	return a.pipeline.Restore(ctx, location, ".tar.gz", false, func(ctx context.Context, src string) error {
		targets := map[string]string{dataPrefix: spec.DataLocation}
		if spec.ConfigLocation != "" {
			targets[configPrefix] = spec.ConfigLocation
		}

		staged := make(map[string]string, len(targets))
		defer func() {
			for _, dir := range staged {
				os.RemoveAll(dir)
			}
		}()
		for prefix, target := range targets {
			staged[prefix] = target + ".restoring"
			if err := os.RemoveAll(staged[prefix]); err != nil {
				return err
			}
			if err := os.MkdirAll(staged[prefix], 0755); err != nil {
				return fmt.Errorf("failed to stage %s: %w", target, err)
			}
		}

		if err := a.extract(ctx, src, staged); err != nil {
			return err
		}

		for prefix, target := range targets {
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("failed to clear %s: %w", target, err)
			}
			if err := os.Rename(staged[prefix], target); err != nil {
				return fmt.Errorf("failed to swap in %s: %w", target, err)
			}
		}
		return nil
	})
}

func (a *AppExecutor) writeArchive(ctx context.Context, dest string, spec *domain.AppSpec) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gw, err := a.gzip.NewWriter(out)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gw)

	if err := addTree(ctx, tw, spec.DataLocation, dataPrefix); err != nil {
		return err
	}
	if spec.ConfigLocation != "" {
		if err := addTree(ctx, tw, spec.ConfigLocation, configPrefix); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to flush gzip stream: %w", err)
	}
	return out.Sync()
}

func addTree(ctx context.Context, tw *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(prefix, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func (a *AppExecutor) extract(ctx context.Context, src string, staged map[string]string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	gr, err := a.gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		prefix, rel, _ := strings.Cut(strings.TrimSuffix(hdr.Name, "/"), "/")
		root, ok := staged[prefix]
		if !ok {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes its root", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

func appSpec(r *domain.Resource) (*domain.AppSpec, error) {
	if r.Kind != domain.KindApp || r.App == nil || r.App.DataLocation == "" {
		return nil, fmt.Errorf("resource %s has no app data location", r.ID)
	}
	return r.App, nil
}
