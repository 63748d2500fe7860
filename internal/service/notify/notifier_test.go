package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnnouncePostsPlainText(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
	}))
	defer server.Close()

	n := New(testLogger(), WithWebhook(server.URL))
	n.Announce(context.Background(), "release shop restarted on dev")

	select {
	case got := <-received:
		if got != "release shop restarted on dev" {
			t.Fatalf("body = %q", got)
		}
	default:
		t.Fatalf("webhook not called")
	}
}

func TestAnnounceSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(testLogger(), WithWebhook(server.URL))
	// Must not panic or surface an error to the caller.
	n.Announce(context.Background(), "still fine")

	n = New(testLogger(), WithWebhook("http://127.0.0.1:1"))
	n.Announce(context.Background(), "unreachable sink")
}

func TestAnnounceSkipsEmptyMessage(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n := New(testLogger(), WithWebhook(server.URL))
	n.Announce(context.Background(), "   ")
	if called {
		t.Fatalf("empty message should not be delivered")
	}
}
