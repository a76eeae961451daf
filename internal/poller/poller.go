package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultInterval = time.Hour

// Cycler runs one poll cycle.
type Cycler interface {
	PollOnce(ctx context.Context) error
}

type Poller struct {
	service   Cycler
	interval  time.Duration
	refreshCh chan struct{}
	logger    *slog.Logger
}

func New(svc Cycler, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{service: svc, interval: interval, refreshCh: make(chan struct{}, 1), logger: logger}
}

// TriggerRefresh requests an immediate cycle. Requests made while one is
// already queued are merged.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		if err := p.service.PollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("poll failed", "err", err)
		}
	}
}
