package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

// Event is one structured entry from the runtime's event feed.
type Event struct {
	Type       string
	Action     string
	Actor      string
	ActorName  string
	Attributes map[string]string
}

// EventFilter narrows the daemon event subscription.
type EventFilter struct {
	ResourceType string
	Labels       map[string]string
	Container    string
}

// Events subscribes to the daemon's event feed. Cancelling ctx aborts the
// underlying API call and closes both channels; connection errors surface as
// one terminal error on the error channel rather than being dropped.
func (c *Client) Events(ctx context.Context, filter EventFilter) (<-chan Event, <-chan error) {
	out := make(chan Event)
	errs := make(chan error, 1)

	args := filters.NewArgs()
	if filter.ResourceType != "" {
		args.Add("type", filter.ResourceType)
	}
	for k, v := range filter.Labels {
		args.Add("label", k+"="+v)
	}
	if filter.Container != "" {
		args.Add("container", filter.Container)
	}

	msgs, errCh := c.inner.Events(ctx, types.EventsOptions{Filters: args})
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if !ok {
					return
				}
				if ctx.Err() == nil && err != nil {
					errs <- fmt.Errorf("docker events: %w", err)
				}
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev := toEvent(msg)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errs
}

func toEvent(msg events.Message) Event {
	attrs := make(map[string]string, len(msg.Actor.Attributes))
	for k, v := range msg.Actor.Attributes {
		attrs[k] = v
	}
	return Event{
		Type:       string(msg.Type),
		Action:     string(msg.Action),
		Actor:      msg.Actor.ID,
		ActorName:  attrs["name"],
		Attributes: attrs,
	}
}
