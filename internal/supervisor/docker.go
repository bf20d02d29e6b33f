package supervisor

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/dyluth/boardlink/internal/config"
	dockerpkg "github.com/dyluth/boardlink/internal/docker"
)

// inspectTimeout bounds liveness checks against the daemon.
const inspectTimeout = 2 * time.Second

// DockerController runs processes as containers named
// boardlink-{session}-{process} and labelled with the session and run id.
type DockerController struct {
	cli     *client.Client
	session string
	runID   string
}

// NewDockerController creates a controller using an established client.
func NewDockerController(cli *client.Client, session string) *DockerController {
	return &DockerController{cli: cli, session: session, runID: dockerpkg.GenerateRunID()}
}

// RunID identifies containers created by this controller.
func (c *DockerController) RunID() string {
	return c.runID
}

func (c *DockerController) Launch(ctx context.Context, name string, p config.Process) (Handle, error) {
	exposed, bindings, err := portBindings(p.Ports)
	if err != nil {
		return nil, err
	}

	containerName := dockerpkg.ContainerName(c.session, name)
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:        p.Image,
		Cmd:          p.Command,
		Env:          p.Environment,
		Labels:       dockerpkg.BuildLabels(c.session, c.runID, name),
		ExposedPorts: exposed,
	}, &container.HostConfig{
		PortBindings: bindings,
	}, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", containerName, err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container %s: %w", containerName, err)
	}

	h := &dockerHandle{cli: c.cli, id: resp.ID, name: containerName}
	if info, err := c.cli.ContainerInspect(ctx, resp.ID); err == nil && info.State != nil {
		h.pid = info.State.Pid
	}
	return h, nil
}

// Cleanup removes every container of name in this session, whatever run
// created it.
func (c *DockerController) Cleanup(ctx context.Context, name string) error {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: dockerpkg.ProcessFilter(c.session, name),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, ctr := range containers {
		log.Printf("[WARN] [Supervisor] Removing stale container %s", ctr.ID[:min(12, len(ctr.ID))])
		if err := c.cli.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove container %s: %w", ctr.ID, err)
		}
	}
	return nil
}

// portBindings turns "host:container" specs into docker port maps.
func portBindings(specs []string) (nat.PortSet, nat.PortMap, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	exposed, bindings, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port spec: %w", err)
	}
	return nat.PortSet(exposed), nat.PortMap(bindings), nil
}

type dockerHandle struct {
	cli  *client.Client
	id   string
	name string
	pid  int
}

func (h *dockerHandle) ID() string { return h.id }

func (h *dockerHandle) PID() int { return h.pid }

func (h *dockerHandle) Alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	defer cancel()

	info, err := h.cli.ContainerInspect(ctx, h.id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false
		}
		log.Printf("[WARN] [Supervisor] Inspect of %s failed: %v", h.name, err)
		return true
	}
	return info.State != nil && info.State.Running
}

func (h *dockerHandle) Terminate(ctx context.Context, grace time.Duration) error {
	timeout := int(math.Ceil(grace.Seconds()))
	if err := h.cli.ContainerStop(ctx, h.id, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", h.name, err)
	}
	if err := h.cli.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", h.name, err)
	}
	return nil
}

func (h *dockerHandle) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := h.cli.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to force remove container %s: %w", h.name, err)
	}
	return nil
}
