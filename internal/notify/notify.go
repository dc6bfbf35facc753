// Package notify fans a site's status-change messages out to whichever
// channels its config names: DingTalk robot webhooks, WeChat Work app
// messages, and plain SMTP email. All sends are best-effort — a failing
// channel is logged and does not block the others.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier delivers a single plain-text message to one or more channels.
type Notifier interface {
	SendAll(ctx context.Context, message string) error
}

// Channel is a single delivery target. Most Notifier implementations wrap
// one Channel per configured destination.
type Channel interface {
	Send(ctx context.Context, message string) error
}

// FanOut delivers a message to every configured Channel concurrently,
// logging individual failures rather than aborting the rest.
type FanOut struct {
	channels []Channel
	logger   *slog.Logger
}

// NewFanOut creates a FanOut notifier over the given channels.
func NewFanOut(channels []Channel, logger *slog.Logger) *FanOut {
	return &FanOut{channels: channels, logger: logger}
}

// SendAll dispatches message to every channel and returns the first error
// encountered, if any, after all channels have been attempted.
func (f *FanOut) SendAll(ctx context.Context, message string) error {
	if len(f.channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(f.channels))

	for i, ch := range f.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, message); err != nil {
				f.logger.Error("notify channel failed", "channel", i, "error", err)
				errs[i] = err
			}
		}(i, ch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
