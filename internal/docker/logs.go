package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// LogEntry is one demultiplexed container log line. Timestamp holds the
// RFC3339Nano token up to its literal Z terminator; lines without one carry
// an empty timestamp.
type LogEntry struct {
	Timestamp string `json:"timestamp,omitempty"`
	Text      string `json:"text"`
}

// Logs resolves a container by name and streams its combined stdout/stderr.
// When the container restarts, the stream switches to the new container
// generation: entries from the superseded attachment are dropped and its
// reader is cancelled. Cancelling ctx aborts the runtime calls and closes
// both channels.
func (c *Client) Logs(ctx context.Context, name string) (<-chan LogEntry, <-chan error, error) {
	target, err := c.FindByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan LogEntry)
	errs := make(chan error, 1)
	go c.followLogs(ctx, name, target.ID, out, errs)
	return out, errs, nil
}

func (c *Client) followLogs(ctx context.Context, name, initialID string, out chan<- LogEntry, errs chan<- error) {
	defer close(out)
	defer close(errs)

	events, eventErrs := c.Events(ctx, EventFilter{ResourceType: "container", Container: name})

	// Each container start bumps the generation; an attachment forwards only
	// while it is still the latest generation.
	var generation atomic.Int64

	attachCtx, cancelAttach := context.WithCancel(ctx)
	attachDone := make(chan error, 1)
	go c.attach(attachCtx, initialID, generation.Load(), &generation, out, attachDone)
	attached := true

	defer func() { cancelAttach() }()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-eventErrs:
			if !ok {
				eventErrs = nil
				continue
			}
			if err != nil {
				errs <- err
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Action != "start" {
				continue
			}
			// Container (re)started: supersede the current attachment. The
			// stream may already have ended on container stop, in which case
			// there is no reader to wait for.
			gen := generation.Add(1)
			if attached {
				cancelAttach()
				<-attachDone
			}
			attachCtx, cancelAttach = context.WithCancel(ctx)
			_ = cancelAttach // cancelled via the deferred closure; vet cannot see the capture
			attachDone = make(chan error, 1)
			go c.attach(attachCtx, ev.Actor, gen, &generation, out, attachDone)
			attached = true
		case err := <-attachDone:
			attached = false
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			// Container stopped; wait for a start event to re-attach.
			attachDone = make(chan error, 1)
		}
	}
}

// attach follows one container generation's log stream and demultiplexes it
// into discrete entries.
func (c *Client) attach(ctx context.Context, containerID string, myGen int64, current *atomic.Int64, out chan<- LogEntry, done chan<- error) {
	reader, err := c.inner.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Follow:     true,
	})
	if err != nil {
		done <- fmt.Errorf("container logs: %w", err)
		return
	}
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(copyErr)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if current.Load() != myGen {
			done <- nil
			return
		}
		entry := parseLogLine(scanner.Text())
		select {
		case out <- entry:
		case <-ctx.Done():
			done <- nil
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		done <- fmt.Errorf("read container logs: %w", err)
		return
	}
	done <- nil
}

// parseLogLine splits a timestamped log line. The timestamp token is
// delimited by its literal Z terminator.
func parseLogLine(line string) LogEntry {
	idx := strings.IndexByte(line, 'Z')
	if idx < 0 {
		return LogEntry{Text: line}
	}
	return LogEntry{
		Timestamp: line[:idx+1],
		Text:      strings.TrimPrefix(line[idx+1:], " "),
	}
}
