package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// Notifier posts plain-text release announcements to external channels.
// Delivery is best effort: failures are logged and never escalated to the
// caller.
type Notifier struct {
	webhookURL string
	client     *http.Client
	redis      *redis.Client
	channel    string
	logger     *slog.Logger
}

// Option configures a Notifier sink.
type Option func(*Notifier)

// WithWebhook posts each message to the given URL.
func WithWebhook(url string) Option {
	return func(n *Notifier) {
		n.webhookURL = strings.TrimSpace(url)
	}
}

// WithRedis publishes each message on a redis channel.
func WithRedis(addr, password string, db int, channel string) Option {
	return func(n *Notifier) {
		if strings.TrimSpace(addr) == "" {
			return
		}
		n.redis = redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
		n.channel = channel
	}
}

// New constructs a Notifier with the configured sinks. A Notifier with no
// sinks is valid and silently drops messages.
func New(logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Announce delivers one message to every configured sink.
func (n *Notifier) Announce(ctx context.Context, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if n.webhookURL != "" {
		req, err := http.NewRequestWithContext(opCtx, http.MethodPost, n.webhookURL, strings.NewReader(message))
		if err != nil {
			n.logger.Warn("notification request build failed", "error", err)
		} else {
			req.Header.Set("Content-Type", "text/plain")
			resp, err := n.client.Do(req)
			if err != nil {
				n.logger.Warn("notification webhook failed", "error", err)
			} else {
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					n.logger.Warn("notification webhook rejected", "status", resp.Status)
				}
			}
		}
	}

	if n.redis != nil {
		if err := n.redis.Publish(opCtx, n.channel, message).Err(); err != nil {
			n.logger.Warn("notification publish failed", "channel", n.channel, "error", err)
		}
	}
}

// Close releases the redis connection.
func (n *Notifier) Close() {
	if n.redis != nil {
		_ = n.redis.Close()
	}
}
