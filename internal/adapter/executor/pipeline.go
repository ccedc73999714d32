package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/semmidev/keepsake/internal/domain"
)

// Pipeline is the shared capture and restore plumbing: a scratch directory
// under the work dir, optional compression, and the sink.
type Pipeline struct {
	workDir    string
	storage    domain.Storage
	compressor domain.Compressor
	compress   bool
	timeout    time.Duration
	clock      clock.Clock
}

type PipelineOptions struct {
	WorkDir string
	Storage domain.Storage
	// Compressor is applied on capture to artifacts that are not already
	// compressed when Compress is set. Restore always uses it to undo
	// compression, so artifacts written under an earlier setting still load.
	Compressor domain.Compressor
	Compress   bool
	Timeout    time.Duration
	Clock      clock.Clock
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Pipeline{
		workDir:    opts.WorkDir,
		storage:    opts.Storage,
		compressor: opts.Compressor,
		compress:   opts.Compress,
		timeout:    opts.Timeout,
		clock:      opts.Clock,
	}, nil
}

// dumpFunc writes the raw capture of a resource to path.
type dumpFunc func(ctx context.Context, path string) error

// loadFunc restores a resource from the raw capture at path.
type loadFunc func(ctx context.Context, path string) error

// Capture runs dump into a scratch file, compresses it when asked and hands
// the result to the sink.
func (p *Pipeline) Capture(ctx context.Context, r *domain.Resource, ext string, compress bool, dump dumpFunc) (domain.Artifact, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	dir, err := os.MkdirTemp(p.workDir, "capture-*")
	if err != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "artifact"+ext)
	if err := dump(ctx, path); err != nil {
		return domain.Artifact{}, p.executionError(ctx, "capture", err)
	}

	if compress && p.compress && p.compressor != nil {
		compressed := path + p.compressor.Extension()
		if err := p.compressor.Compress(path, compressed); err != nil {
			return domain.Artifact{}, domain.NewExecutionError("compress", err)
		}
		path = compressed
		ext += p.compressor.Extension()
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", fmt.Errorf("artifact missing: %w", err))
	}

	location, err := p.storage.Put(ctx, path, p.artifactName(r, ext))
	if err != nil {
		return domain.Artifact{}, p.executionError(ctx, "upload", err)
	}

	return domain.Artifact{Location: location, Size: info.Size()}, nil
}

// Restore fetches the artifact at location and hands the raw capture to load.
// When the format is one Capture may compress, the fetched bytes are sniffed
// and decompressed if needed; locations are opaque and say nothing about it.
func (p *Pipeline) Restore(ctx context.Context, location string, ext string, compressible bool, load loadFunc) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	dir, err := os.MkdirTemp(p.workDir, "restore-*")
	if err != nil {
		return domain.NewExecutionError("restore", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "artifact"+ext)
	fetched := filepath.Join(dir, "fetched")
	if err := p.storage.Fetch(ctx, location, fetched); err != nil {
		return p.executionError(ctx, "fetch", err)
	}

	compressed := false
	if compressible && p.compressor != nil {
		if compressed, err = p.compressor.Compressed(fetched); err != nil {
			return domain.NewExecutionError("decompress", err)
		}
	}

	if compressed {
		if err := p.compressor.Decompress(fetched, path); err != nil {
			return domain.NewExecutionError("decompress", err)
		}
	} else if err := os.Rename(fetched, path); err != nil {
		return domain.NewExecutionError("restore", fmt.Errorf("failed to stage artifact: %w", err))
	}

	if err := load(ctx, path); err != nil {
		return p.executionError(ctx, "restore", err)
	}
	return nil
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Pipeline) executionError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewExecutionError(op, fmt.Errorf("timed out after %s: %w", p.timeout, err))
	}
	return domain.NewExecutionError(op, err)
}

// artifactName is <resource>/<UTC timestamp>-<short id><ext>.
func (p *Pipeline) artifactName(r *domain.Resource, ext string) string {
	stamp := p.clock.Now().UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s/%s-%s%s", r.ID, stamp, uuid.NewString()[:8], ext)
}
