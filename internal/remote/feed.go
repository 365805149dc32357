package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

// Feed reconnect backoff constants.
const (
	feedBaseDelay = 1 * time.Second
	feedMaxDelay  = 30 * time.Second
)

// ChangeEvent is one change notification read from the feed: the remote
// service's equivalent of a row-level trigger.
type ChangeEvent struct {
	Table   string               `json:"table"`
	Op      engine.OperationType `json:"op"`
	Record  engine.Record        `json:"record"`
	OwnerID string               `json:"ownerId,omitempty"`
}

// FeedHandler consumes change events from the live feed.
type FeedHandler func(ctx context.Context, ev ChangeEvent)

// StateHandler is told when the feed connects or drops. The connection
// monitor consumes this as its "remote service reachable" signal.
type StateHandler func(connected bool)

// Feed maintains a websocket subscription to the remote change feed,
// reconnecting with exponential backoff when the connection drops.
type Feed struct {
	url    string
	logger *slog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context) (*websocket.Conn, error)
}

// NewFeed creates a feed for the given websocket URL (ws:// or wss://).
func NewFeed(url string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{url: url, logger: logger}
	f.dial = func(ctx context.Context) (*websocket.Conn, error) {
		conn, _, err := websocket.Dial(ctx, f.url, nil)
		return conn, err
	}

	return f
}

// Run connects and reads change events until the context is canceled,
// reconnecting on failure. onState fires on every connect and drop;
// onEvent fires once per decoded change. Run returns only when ctx ends.
func (f *Feed) Run(ctx context.Context, onState StateHandler, onEvent FeedHandler) error {
	delay := feedBaseDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := f.dial(ctx)
		if err != nil {
			f.logger.Warn("feed dial failed",
				slog.String("url", f.url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)

			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return sleepErr
			}

			delay = nextDelay(delay)

			continue
		}

		delay = feedBaseDelay

		onState(true)
		f.logger.Info("feed connected", slog.String("url", f.url))

		readErr := f.readLoop(ctx, conn, onEvent)

		onState(false)
		conn.Close(websocket.StatusNormalClosure, "reconnecting")

		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected",
			slog.String("error", readErr.Error()),
			slog.Duration("retry_in", delay),
		)

		if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
			return sleepErr
		}

		delay = nextDelay(delay)
	}
}

// readLoop decodes messages until the connection fails.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, onEvent FeedHandler) error {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("remote: feed read: %w", err)
		}

		var ev ChangeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			// A malformed message is logged and skipped; it must not tear
			// down the subscription.
			f.logger.Warn("feed message discarded", slog.String("error", err.Error()))
			continue
		}

		if ev.Table == "" || ev.Op == "" {
			f.logger.Warn("feed message missing table or op, discarded")
			continue
		}

		onEvent(ctx, ev)
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > feedMaxDelay {
		return feedMaxDelay
	}

	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
