package trace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tail streams the lines of an append-only progress file. Existing content is
// replayed from offset zero before any live line is delivered; afterwards
// filesystem notifications trigger incremental reads of [lastSize, size).
// A shrinking file restarts from zero when autoRestart is set and otherwise
// stops advancing. Sends block until the consumer drains, so a slow consumer
// suspends the producer instead of growing a buffer. Cancelling ctx stops the
// watcher, closes the file handle, and closes the returned channel.
func Tail(ctx context.Context, path string, autoRestart bool) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the parent directory so creation and recreation of the file are
	// observed too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	out := make(chan string)
	t := &tailer{path: path, autoRestart: autoRestart, out: out}
	go t.run(ctx, watcher)
	return out, nil
}

type tailer struct {
	path        string
	autoRestart bool
	out         chan<- string

	offset  int64
	partial []byte
	stalled bool
}

func (t *tailer) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(t.out)
	defer watcher.Close()

	// Full replay of history before any live tail line.
	if err := t.drain(ctx); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := t.drain(ctx); err != nil {
				return
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// drain reads everything between the last-known size and the current size,
// emitting complete lines. Partial trailing data is carried until its newline
// arrives.
func (t *tailer) drain(ctx context.Context) error {
	file, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size < t.offset {
		// Unexpected truncation.
		if !t.autoRestart {
			t.stalled = true
			return nil
		}
		t.offset = 0
		t.partial = nil
		t.stalled = false
	}
	if t.stalled || size == t.offset {
		return nil
	}

	chunk := make([]byte, size-t.offset)
	if _, err := file.ReadAt(chunk, t.offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	t.offset = size

	data := append(t.partial, chunk...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		data = data[idx+1:]
		if line == "" {
			continue
		}
		select {
		case t.out <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.partial = append([]byte(nil), data...)
	return nil
}
