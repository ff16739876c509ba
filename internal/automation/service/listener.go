package service

import (
	"context"
	"log/slog"

	"github.com/covecrm/cove/internal/eventbus"
)

// Listener bridges the domain event bus into the trigger matcher.
type Listener struct {
	bus     eventbus.Subscriber
	matcher *TriggerMatcher
	logger  *slog.Logger
}

func NewListener(bus eventbus.Subscriber, matcher *TriggerMatcher, logger *slog.Logger) *Listener {
	return &Listener{
		bus:     bus,
		matcher: matcher,
		logger:  logger.With("module", "automation.listener"),
	}
}

// Start subscribes to the bus and dispatches events until the context
// is cancelled or the subscription channel closes.
func (l *Listener) Start(ctx context.Context) error {
	events, err := l.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	l.logger.Info("automation listener started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				l.logger.Info("automation listener stopping", "reason", ctx.Err())
				return
			case event, ok := <-events:
				if !ok {
					l.logger.Warn("event subscription closed")
					return
				}
				l.matcher.OnEvent(ctx, event)
			}
		}
	}()
	return nil
}
