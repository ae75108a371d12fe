// Package warmup ensures sandbox container images are present before a
// job needs them, so the first generate -> validate -> fix cycle for a
// given language/runtime doesn't pay a cold docker pull.
package warmup

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// PerImageTimeout bounds how long a single image pull may take before
// WarmupSupervisor gives up on that image and moves to the next,
// matching spec.md §4.10's per-image timeout requirement.
const PerImageTimeout = 3 * time.Minute

// dockerClient is the subset of *client.Client WarmupSupervisor needs,
// narrowed to an interface so tests can substitute a fake without a real
// docker daemon.
type dockerClient interface {
	ImageInspect(ctx context.Context, imageID string) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Supervisor pre-pulls the sandbox images a deployment expects to use,
// per spec.md §4.10. Every failure is logged and non-fatal: a missing or
// unpullable image surfaces later as a Sandbox build failure on the first
// job that needs it, rather than blocking process startup.
type Supervisor struct {
	docker  dockerClient
	log     zerolog.Logger
	enabled bool
}

// New builds a Supervisor. If cli is nil, warmup is treated as disabled
// (e.g. no docker socket reachable in this environment).
func New(cli dockerClient, log zerolog.Logger, enabled bool) *Supervisor {
	return &Supervisor{docker: cli, log: log, enabled: enabled && cli != nil}
}

// Warm pre-pulls every image in images, skipping any already present
// locally. Disabled supervisors return immediately without touching the
// docker daemon.
func (s *Supervisor) Warm(ctx context.Context, images []string) {
	if !s.enabled {
		return
	}
	for _, img := range images {
		s.warmOne(ctx, img)
	}
}

func (s *Supervisor) warmOne(ctx context.Context, img string) {
	if _, err := s.docker.ImageInspect(ctx, img); err == nil {
		s.log.Debug().Str("image", img).Msg("sandbox image already present")
		return
	}

	pullCtx, cancel := context.WithTimeout(ctx, PerImageTimeout)
	defer cancel()

	rc, err := s.docker.ImagePull(pullCtx, img, image.PullOptions{})
	if err != nil {
		s.log.Warn().Err(err).Str("image", img).Msg("sandbox image warmup pull failed, continuing")
		return
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		s.log.Warn().Err(err).Str("image", img).Msg("sandbox image warmup pull stream failed, continuing")
		return
	}

	s.log.Info().Str("image", img).Msg("sandbox image warmed")
}

// NewDockerClient returns a real docker client configured from the
// environment (DOCKER_HOST etc.), for wiring into New at process start.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}
