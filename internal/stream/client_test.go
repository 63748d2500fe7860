package stream

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type noopFlusher struct{}

func (noopFlusher) Flush() {}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("peer gone") }

func TestSSEClientSendWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	client := NewSSEClient(&buf, noopFlusher{}, slog.New(slog.DiscardHandler))

	if err := client.Send([]byte(`{"type":"log"}`)); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.HasPrefix(got, "data: ") || !strings.HasSuffix(got, "\n\n") {
		t.Errorf("frame = %q", got)
	}
}

func TestSSEClientCloseReleasesWaiters(t *testing.T) {
	client := NewSSEClient(&bytes.Buffer{}, noopFlusher{}, slog.New(slog.DiscardHandler))

	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("Done still open after Close")
	}
	if err := client.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Errorf("send after close: err = %v, want io.EOF", err)
	}
	client.Close()
}

func TestSSEClientSendFailureReleasesWaiters(t *testing.T) {
	client := NewSSEClient(failWriter{}, noopFlusher{}, slog.New(slog.DiscardHandler))

	if err := client.Send([]byte("x")); err == nil {
		t.Fatal("expected write error")
	}
	select {
	case <-client.Done():
	default:
		t.Fatal("Done still open after failed send")
	}
}
