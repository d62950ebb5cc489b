package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// Buffered is implemented by connections able to report their outbound buffer usage.
type Buffered interface {
	Buffered() (length, capacity int)
}

// BufferSaturationWorker periodically samples the outbound buffer of every
// registered connection. Reading len and cap of a channel never blocks, so
// sampling does not interfere with the write pumps. Connections above the
// threshold are logged: they are the ones about to drop ephemeral events.
type BufferSaturationWorker struct {
	log       *slog.Logger
	registry  contract.IRegistry
	metrics   *observability.Metrics
	interval  time.Duration
	threshold float64
}

func NewBufferSaturationWorker(log *slog.Logger, registry contract.IRegistry,
	metrics *observability.Metrics, interval time.Duration, threshold float64) *BufferSaturationWorker {
	return &BufferSaturationWorker{
		log:       log,
		registry:  registry,
		metrics:   metrics,
		interval:  interval,
		threshold: threshold,
	}
}

func (w *BufferSaturationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping buffer sampling")
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample records one fill ratio per connection and returns how many are saturated.
func (w *BufferSaturationWorker) Sample() int {
	saturated := 0
	for _, conn := range w.registry.Connections() {
		b, ok := conn.(Buffered)
		if !ok {
			continue
		}
		length, capacity := b.Buffered()
		if capacity == 0 {
			continue
		}
		ratio := float64(length) / float64(capacity)
		w.metrics.OutboundFill.Observe(ratio)
		if ratio >= w.threshold {
			saturated++
			w.log.Warn("Outbound buffer saturated",
				"identity", conn.Identity(), "conn_id", conn.ID(), "length", length, "capacity", capacity)
		}
	}
	w.metrics.SaturatedSessions.Set(float64(saturated))
	return saturated
}
