package executor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/semmidev/keepsake/internal/domain"
)

const ToolVolumeTar = "volume-tar"

// ContainerExecutor archives a docker volume through a throwaway helper
// container that mounts the volume read-only next to the scratch directory.
type ContainerExecutor struct {
	runner   Runner
	pipeline *Pipeline
	docker   string
	image    string
}

func NewContainer(runner Runner, pipeline *Pipeline, docker, image string) *ContainerExecutor {
	return &ContainerExecutor{runner: runner, pipeline: pipeline, docker: docker, image: image}
}

func (c *ContainerExecutor) Capture(ctx context.Context, r *domain.Resource) (domain.Artifact, error) {
	spec, err := containerSpec(r)
	if err != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", err)
	}

	return c.pipeline.Capture(ctx, r, ".tar.gz", false, func(ctx context.Context, path string) error {
		return c.runner.Run(ctx, Command{
			Name: c.docker,
			Args: []string{
				"run", "--rm",
				"-v", spec.Volume + ":/data:ro",
				"-v", filepath.Dir(path) + ":/backup",
				c.image,
				"sh", "-c", fmt.Sprintf("cd /data && tar czf /backup/%s .", filepath.Base(path)),
			},
		})
	})
}

// Restore stops the owning container, replaces the volume contents and
// starts it again. The container is restarted even when the restore fails.
func (c *ContainerExecutor) Restore(ctx context.Context, r *domain.Resource, location string) error {
	spec, err := containerSpec(r)
	if err != nil {
		return domain.NewExecutionError("restore", err)
	}

	return c.pipeline.Restore(ctx, location, ".tar.gz", false, func(ctx context.Context, path string) error {
		if spec.Container != "" {
			if err := c.runner.Run(ctx, Command{Name: c.docker, Args: []string{"stop", spec.Container}}); err != nil {
				return err
			}
		}

		restoreErr := c.runner.Run(ctx, Command{
			Name: c.docker,
			Args: []string{
				"run", "--rm",
				"-v", spec.Volume + ":/data",
				"-v", filepath.Dir(path) + ":/backup:ro",
				c.image,
				"sh", "-c", fmt.Sprintf("find /data -mindepth 1 -delete && tar xzf /backup/%s -C /data", filepath.Base(path)),
			},
		})

		if spec.Container != "" {
			if err := c.runner.Run(ctx, Command{Name: c.docker, Args: []string{"start", spec.Container}}); err != nil && restoreErr == nil {
				return err
			}
		}
		return restoreErr
	})
}

func containerSpec(r *domain.Resource) (*domain.ContainerSpec, error) {
	if r.Kind != domain.KindContainer || r.Container == nil || r.Container.Volume == "" {
		return nil, fmt.Errorf("resource %s has no container volume", r.ID)
	}
	return r.Container, nil
}
