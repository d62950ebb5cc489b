package workers

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PresenceBroadcaster is the only reader of the full registry for roster
// purposes. On each churn signal it takes one snapshot of the registry key
// set and broadcasts it whole; it never computes diffs.
//
// Churn signals coalesce, so a burst of connects costs one snapshot that
// already reflects all of them.
type PresenceBroadcaster struct {
	log            *slog.Logger
	registry       contract.IRegistry
	router         contract.IRouter
	metrics        *observability.Metrics
	publishers     []contract.RosterPublisher
	publishTimeout time.Duration
}

func NewPresenceBroadcaster(log *slog.Logger, registry contract.IRegistry, router contract.IRouter,
	metrics *observability.Metrics, publishTimeout time.Duration,
	publishers ...contract.RosterPublisher) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		log:            log,
		registry:       registry,
		router:         router,
		metrics:        metrics,
		publishers:     publishers,
		publishTimeout: publishTimeout,
	}
}

func (w *PresenceBroadcaster) Run(ctx context.Context) error {
	changes := w.registry.Changes()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping presence broadcast")
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			w.Broadcast(ctx)
		}
	}
}

// Broadcast sends the current roster to every connection and mirrors it to the publishers.
func (w *PresenceBroadcaster) Broadcast(ctx context.Context) {
	roster := w.registry.Roster()
	w.metrics.OnlineIdentities.Set(float64(len(roster)))

	if err := w.router.Dispatch(ctx, event.OnlineUsers{Roster: roster}); err != nil {
		w.log.Warn("Roster broadcast failed", "error", err)
	} else {
		w.metrics.RosterBroadcasts.Inc()
	}

	for _, publisher := range w.publishers {
		publishCtx, cancel := context.WithTimeout(ctx, w.publishTimeout)
		if err := publisher.PublishRoster(publishCtx, roster); err != nil {
			w.log.Warn("Roster mirror failed", "publisher", fmt.Sprintf("%T", publisher), "error", err)
		}
		cancel()
	}
}
