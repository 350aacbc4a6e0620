package telegram

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultPollTimeout = 30 * time.Second
	defaultErrorDelay  = 5 * time.Second
)

// Poller receives updates with getUpdates long polling.
type Poller struct {
	api        *APIClient
	dispatcher *Dispatcher
	timeout    time.Duration
	errorDelay time.Duration
	logger     *slog.Logger
}

// NewPoller creates a long-polling receiver.
func NewPoller(api *APIClient, dispatcher *Dispatcher, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		api:        api,
		dispatcher: dispatcher,
		timeout:    timeout,
		errorDelay: defaultErrorDelay,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled. Any registered webhook is removed first,
// since Telegram refuses getUpdates while one is set.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.api.DeleteWebhook(ctx, false); err != nil {
		p.logger.Warn("failed to delete webhook before polling", "error", err)
	}

	p.logger.Info("starting long polling", "timeout", p.timeout)

	var offset int64
	for {
		updates, err := p.api.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("failed to get updates", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.errorDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if err := p.dispatcher.Dispatch(ctx, u); err != nil {
				return nil
			}
		}
	}
}
