package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	retry "github.com/sethvargo/go-retry"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
)

// connectAttempts bounds the initial connection attempts; once connected,
// nats.go reconnects on its own
const connectAttempts = 5

// Connect dials NATS, retrying the initial connection with a Fibonacci
// backoff, and keeps the connection gauge in m up to date
func Connect(ctx context.Context, url string, m *metrics.Metrics, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("avclass"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.SetNatsConnected(false)
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			m.SetNatsConnected(true)
			logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			m.SetNatsConnected(false)
		}),
	}

	var nc *nats.Conn
	b := retry.NewFibonacci(1 * time.Second)
	err := retry.Do(ctx, retry.WithMaxRetries(connectAttempts-1, b), func(ctx context.Context) error {
		conn, err := nats.Connect(url, opts...)
		if err != nil {
			logger.Warn("Failed to connect to NATS, will retry", "url", url, "error", err)
			return retry.RetryableError(err)
		}
		nc = conn
		return nil
	})
	if err != nil {
		m.SetNatsConnected(false)
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	m.SetNatsConnected(true)
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}
