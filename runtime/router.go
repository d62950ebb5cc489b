package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
)

// Router delivers events to live connections. It keeps no state of its own:
// every dispatch consults the registry at the moment it runs.
//
// Delivery is at-most-once. Ephemeral events are dropped when the target
// buffer is full; durable events wait up to durableTimeout and then fail
// with errors.ErrBackpressure so the caller can retry.
type Router struct {
	log            *slog.Logger
	registry       contract.IRegistry
	metrics        *observability.Metrics
	durableTimeout time.Duration
}

func NewRouter(log *slog.Logger, registry contract.IRegistry, metrics *observability.Metrics,
	durableTimeout time.Duration) *Router {
	return &Router{log: log, registry: registry, metrics: metrics, durableTimeout: durableTimeout}
}

// Dispatch sends evt to its target, or to every registered connection when
// evt has no target. An absent target is not an error.
func (r *Router) Dispatch(ctx context.Context, evt event.Event) error {
	if event.IsBroadcast(evt) {
		r.broadcast(evt)
		return nil
	}

	conn, ok := r.registry.Lookup(evt.Target())
	if !ok {
		r.metrics.IncDropped(evt.Kind(), observability.ReasonAbsent)
		r.log.Debug("Target offline, event dropped", "kind", evt.Kind(), "target", evt.Target())
		return nil
	}

	if !evt.Kind().Durable() {
		r.enqueue(conn, evt)
		return nil
	}
	return r.deliverDurable(ctx, conn, evt)
}

func (r *Router) broadcast(evt event.Event) {
	for _, conn := range r.registry.Connections() {
		if conn.Closing() {
			continue
		}
		r.enqueue(conn, evt)
	}
}

func (r *Router) enqueue(conn contract.Connection, evt event.Event) {
	if conn.TrySend(evt) {
		r.metrics.IncDispatched(evt.Kind())
		return
	}
	r.metrics.IncDropped(evt.Kind(), observability.ReasonBackpressure)
	r.log.Debug("Outbound buffer full, event dropped",
		"kind", evt.Kind(), "identity", conn.Identity(), "conn_id", conn.ID())
}

func (r *Router) deliverDurable(ctx context.Context, conn contract.Connection, evt event.Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.durableTimeout)
	defer cancel()

	err := conn.Send(sendCtx, evt)
	switch {
	case err == nil:
		r.metrics.IncDispatched(evt.Kind())
		return nil
	case stderrors.Is(err, errors.ErrConnectionClosed):
		// The target went away between lookup and send: same as absent.
		r.metrics.IncDropped(evt.Kind(), observability.ReasonClosed)
		return nil
	case stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		r.metrics.IncDropped(evt.Kind(), observability.ReasonBackpressure)
		return fmt.Errorf("deliver %s to %s: %w", evt.Kind(), conn.Identity(), errors.ErrBackpressure)
	default:
		return fmt.Errorf("deliver %s to %s: %w", evt.Kind(), conn.Identity(), err)
	}
}
