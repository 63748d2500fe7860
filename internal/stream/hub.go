package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// TailFunc opens a line stream over a trace file, replaying history before
// following live appends. The channel closes when ctx is cancelled.
type TailFunc func(ctx context.Context, path string, autoRestart bool) (<-chan string, error)

// Hub fans trace lines out to subscribers, keyed by trace ID. The first
// subscriber for a trace starts its tail; the last one leaving, or a terminal
// trace entry, stops it.
type Hub struct {
	tail      TailFunc
	traceFile func(traceID string) string
	logger    *slog.Logger

	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan string
}

type subscription struct {
	traceID string
	client  Subscriber
}

type message struct {
	traceID string
	payload []byte
}

type traceState struct {
	clients map[Subscriber]struct{}
	cancel  context.CancelFunc
}

// NewHub starts the hub's dispatch loop.
func NewHub(tail TailFunc, traceFile func(string) string, logger *slog.Logger) *Hub {
	h := &Hub{
		tail:      tail,
		traceFile: traceFile,
		logger:    logger,
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan string),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	traces := make(map[string]*traceState)
	for {
		select {
		case sub := <-h.register:
			state, ok := traces[sub.traceID]
			if !ok {
				ctx, cancel := context.WithCancel(context.Background())
				state = &traceState{clients: make(map[Subscriber]struct{}), cancel: cancel}
				traces[sub.traceID] = state
				go h.pump(ctx, sub.traceID)
			}
			state.clients[sub.client] = struct{}{}
		case sub := <-h.unreg:
			state, ok := traces[sub.traceID]
			if !ok {
				continue
			}
			delete(state.clients, sub.client)
			if len(state.clients) == 0 {
				state.cancel()
				delete(traces, sub.traceID)
			}
		case msg := <-h.broadcast:
			state, ok := traces[msg.traceID]
			if !ok {
				continue
			}
			for c := range state.clients {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(state.clients, c)
				}
			}
			if len(state.clients) == 0 {
				state.cancel()
				delete(traces, msg.traceID)
			}
		case traceID := <-h.done:
			state, ok := traces[traceID]
			if !ok {
				continue
			}
			for c := range state.clients {
				c.Close()
			}
			state.cancel()
			delete(traces, traceID)
		}
	}
}

// pump tails one trace file and feeds the hub until the trace ends or its
// last subscriber leaves.
func (h *Hub) pump(ctx context.Context, traceID string) {
	lines, err := h.tail(ctx, h.traceFile(traceID), false)
	if err != nil {
		h.logger.Warn("trace tail failed", "trace_id", traceID, "error", err)
		h.signalDone(ctx, traceID)
		return
	}
	for line := range lines {
		select {
		case h.broadcast <- message{traceID: traceID, payload: []byte(line)}:
		case <-ctx.Done():
			return
		}
		if isTerminal(line) {
			h.signalDone(ctx, traceID)
			return
		}
	}
}

func (h *Hub) signalDone(ctx context.Context, traceID string) {
	select {
	case h.done <- traceID:
	case <-ctx.Done():
	}
}

// isTerminal reports whether a trace line carries a complete or error entry.
func isTerminal(line string) bool {
	var entry domain.ProgressEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return false
	}
	return entry.Type == domain.ProgressTypeComplete || entry.Type == domain.ProgressTypeError
}

// Subscribe attaches a client to a trace stream.
func (h *Hub) Subscribe(traceID string, client Subscriber) {
	h.register <- subscription{traceID: traceID, client: client}
}

// Unsubscribe detaches a client.
func (h *Hub) Unsubscribe(traceID string, client Subscriber) {
	h.unreg <- subscription{traceID: traceID, client: client}
}
