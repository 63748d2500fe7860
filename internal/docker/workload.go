package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// HealthCheck mirrors the runtime health probe configuration.
type HealthCheck struct {
	Test        []string      `json:"Test,omitempty"`
	Interval    time.Duration `json:"Interval,omitempty"`
	Timeout     time.Duration `json:"Timeout,omitempty"`
	StartPeriod time.Duration `json:"StartPeriod,omitempty"`
	Retries     int           `json:"Retries,omitempty"`
}

// WorkloadSpec describes a container to create and start.
type WorkloadSpec struct {
	Name        string
	Image       string
	Env         []string
	Binds       []string
	Labels      map[string]string
	MemoryBytes int64
	Port        string
	Health      *HealthCheck
}

// LoadProgressCallback receives incremental image load messages.
type LoadProgressCallback func(string)

// LoadImage imports an image from an uploaded tar bundle, decoding the
// daemon's newline-delimited JSON progress body incrementally. A partial
// trailing fragment ends the stream; in strict mode it is surfaced instead.
func (c *Client) LoadImage(ctx context.Context, bundlePath string, onProgress LoadProgressCallback) error {
	if strings.TrimSpace(bundlePath) == "" {
		return fmt.Errorf("bundle path cannot be empty")
	}
	bundle, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("open image bundle: %w", err)
	}
	defer bundle.Close()

	resp, err := c.inner.ImageLoad(ctx, bundle, false)
	if err != nil {
		return fmt.Errorf("docker image load: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// The daemon can truncate the final chunk mid-object, which
			// surfaces as either an unexpected EOF or a syntax error
			// depending on where the cut lands.
			if !c.strict && isTruncatedFragment(err) {
				return nil
			}
			return fmt.Errorf("decode image load output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image load: %s", errMsg)
		}
		if line := msg.render(); line != "" && onProgress != nil {
			onProgress(line)
		}
	}
}

// ImageExists reports whether the image reference is present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := c.inner.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("image inspect: %w", err)
	}
	return true, nil
}

// StartWorkload creates and starts a container from the spec and returns the
// container id. An existing container with the same name is replaced.
func (c *Client) StartWorkload(ctx context.Context, spec WorkloadSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}
	if err := c.Remove(ctx, spec.Name); err != nil {
		return "", err
	}

	config := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	if port := strings.TrimSpace(spec.Port); port != "" {
		natPort, err := nat.NewPort("tcp", port)
		if err != nil {
			return "", fmt.Errorf("invalid port %q: %w", port, err)
		}
		config.ExposedPorts = nat.PortSet{natPort: struct{}{}}
	}
	if spec.Health != nil && len(spec.Health.Test) > 0 {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.Health.Test,
			Interval:    spec.Health.Interval,
			Timeout:     spec.Health.Timeout,
			StartPeriod: spec.Health.StartPeriod,
			Retries:     spec.Health.Retries,
		}
	}

	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
		RestartPolicy: container.RestartPolicy{
			// unless-stopped so the scale-to-zero middleware can stop the
			// container without the daemon restarting it.
			Name: "unless-stopped",
		},
	}
	if spec.MemoryBytes > 0 {
		hostCfg.Resources = container.Resources{Memory: spec.MemoryBytes}
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	return r.ID, nil
}

// WaitHealthy blocks until the container reports healthy, or running when no
// health check is configured. It fails when the container stops or reports
// unhealthy.
func (c *Client) WaitHealthy(ctx context.Context, containerID string) error {
	for {
		inspect, err := c.inner.ContainerInspect(ctx, containerID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return ErrContainerNotFound
			}
			return fmt.Errorf("container inspect: %w", err)
		}
		state := inspect.State
		if state == nil {
			return fmt.Errorf("container %s has no state", containerID)
		}
		if state.Health != nil {
			switch state.Health.Status {
			case types.Healthy:
				return nil
			case types.Unhealthy:
				return fmt.Errorf("container %s is unhealthy", containerID)
			}
		} else if state.Running {
			return nil
		}
		if !state.Running && state.Status != "created" {
			return fmt.Errorf("container %s exited with code %d", containerID, state.ExitCode)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// FindByName resolves a container by its exact name, including stopped ones.
func (c *Client) FindByName(ctx context.Context, name string) (*types.Container, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("container name cannot be empty")
	}
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	for i := range containers {
		for _, n := range containers[i].Names {
			if strings.TrimPrefix(n, "/") == name {
				return &containers[i], nil
			}
		}
	}
	return nil, ErrContainerNotFound
}

// ListByLabel returns containers carrying the given label key=value.
func (c *Client) ListByLabel(ctx context.Context, key, value string) ([]types.Container, error) {
	return c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", key+"="+value)),
	})
}

// Remove force-removes a container and its anonymous volumes. Missing
// containers are not an error.
func (c *Client) Remove(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// streamMessage is one NDJSON object from the daemon's load/build body.
type streamMessage struct {
	Stream      string            `json:"stream"`
	Status      string            `json:"status"`
	ID          string            `json:"id"`
	Progress    string            `json:"progress"`
	Error       string            `json:"error"`
	ErrorDetail streamErrorDetail `json:"errorDetail"`
}

type streamErrorDetail struct {
	Message string `json:"message"`
}

// isTruncatedFragment reports whether a decode failure looks like a cut-off
// final chunk rather than a malformed message.
func isTruncatedFragment(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr)
}

func (m streamMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m streamMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	if strings.TrimSpace(m.ID) != "" {
		parts = append(parts, strings.TrimSpace(m.ID))
	}
	parts = append(parts, strings.TrimSpace(m.Status))
	if progress := strings.TrimSpace(m.Progress); progress != "" {
		parts = append(parts, progress)
	}
	return strings.Join(parts, " ")
}
