package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReadReceiptBridge turns a read acknowledgement into a persisted state change
// followed by a notification to the original sender. The notification is never
// sent unless the store reported success.
type ReadReceiptBridge struct {
	log             *slog.Logger
	repository      contract.MessageStatusRepository
	router          contract.IRouter
	metrics         *observability.Metrics
	storeTimeout    time.Duration
	initialInterval time.Duration
	maxElapsed      time.Duration
}

func NewReadReceiptBridge(log *slog.Logger, repository contract.MessageStatusRepository,
	router contract.IRouter, metrics *observability.Metrics,
	storeTimeout, initialInterval, maxElapsed time.Duration) *ReadReceiptBridge {
	return &ReadReceiptBridge{
		log:             log,
		repository:      repository,
		router:          router,
		metrics:         metrics,
		storeTimeout:    storeTimeout,
		initialInterval: initialInterval,
		maxElapsed:      maxElapsed,
	}
}

// HandleReadAck marks messageIDs as read in one batch, then tells sender.
// A store failure is logged and returned without notification and without
// retry: the persisted record stays the source of truth. Only the notify step
// is retried, and only while the target buffer reports back-pressure.
func (b *ReadReceiptBridge) HandleReadAck(ctx context.Context, messageIDs []string, sender domain.Identity) error {
	if len(messageIDs) == 0 {
		b.log.Debug("Empty read acknowledgement ignored", "sender", sender)
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	err := b.repository.MarkAsRead(storeCtx, messageIDs)
	cancel()
	if err != nil {
		b.metrics.ReadAckFailures.WithLabelValues("store").Inc()
		b.log.Error("Error marking messages as read",
			"count", len(messageIDs), "sender", sender, "error", err)
		return fmt.Errorf("mark %d messages as read: %w", len(messageIDs), err)
	}

	if err := b.notify(ctx, event.MessagesRead{To: sender, MessageIDs: messageIDs}); err != nil {
		b.metrics.ReadAckFailures.WithLabelValues("notify").Inc()
		b.log.Warn("Read state committed but sender was not notified",
			"sender", sender, "count", len(messageIDs), "error", err)
		return err
	}
	return nil
}

func (b *ReadReceiptBridge) notify(ctx context.Context, evt event.MessagesRead) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.initialInterval
	policy.MaxElapsedTime = b.maxElapsed

	return backoff.Retry(func() error {
		err := b.router.Dispatch(ctx, evt)
		if err == nil || stderrors.Is(err, errors.ErrBackpressure) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}
