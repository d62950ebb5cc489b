// Package runtime holds the live state of the relay: the connection registry,
// the event router, the read receipt bridge and one session actor per connection.
// It orchestrates delivery without containing message business rules.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"chat-relay/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type OrchestratorConfig struct {
	Session            SessionConfig
	DurableSendTimeout time.Duration
	StoreTimeout       time.Duration
	NotifyInterval     time.Duration
	NotifyMaxElapsed   time.Duration
	PublishTimeout     time.Duration
	SampleInterval     time.Duration
	SaturationRatio    float64
}

// Orchestrator wires the registry, router and bridge together, runs the
// supervised background workers and tracks every running session.
type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	registry   *Registry
	router     *Router
	bridge     *ReadReceiptBridge
	metrics    *observability.Metrics
	publishers []contract.RosterPublisher
	config     OrchestratorConfig

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	stopped  bool
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	repository contract.MessageStatusRepository, metrics *observability.Metrics,
	config OrchestratorConfig, publishers ...contract.RosterPublisher) *Orchestrator {
	registry := NewRegistry()
	router := NewRouter(log, registry, metrics, config.DurableSendTimeout)
	bridge := NewReadReceiptBridge(log, repository, router, metrics,
		config.StoreTimeout, config.NotifyInterval, config.NotifyMaxElapsed)
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		router:     router,
		bridge:     bridge,
		metrics:    metrics,
		publishers: publishers,
		config:     config,
	}
}

// Start registers the background workers and launches the supervisor.
// It does not block.
func (o *Orchestrator) Start(ctx context.Context) error {
	presence := workers.NewPresenceBroadcaster(o.log, o.registry, o.router, o.metrics,
		o.config.PublishTimeout, o.publishers...)
	saturation := workers.NewBufferSaturationWorker(o.log, o.registry, o.metrics,
		o.config.SampleInterval, o.config.SaturationRatio)

	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.supervisor.Add(presence, saturation)
	runCtx := o.ctx
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	go o.supervisor.Run(runCtx)
	return nil
}

// NewSession creates a pending session bound to the shared registry, router and bridge.
func (o *Orchestrator) NewSession() *Session {
	return NewSession(o.log, o.registry, o.router, o.bridge, o.metrics, o.config.Session)
}

// Serve runs an attached session until it is unregistered.
// Sessions served after Stop are closed right away.
func (o *Orchestrator) Serve(session *Session) error {
	o.mu.Lock()
	if o.ctx == nil || o.stopped {
		o.mu.Unlock()
		_ = session.Close(ReasonShutdown)
		return fmt.Errorf("orchestrator not running")
	}
	o.sessions.Add(1)
	ctx := o.ctx
	o.mu.Unlock()

	defer o.sessions.Done()
	return session.Run(ctx)
}

func (o *Orchestrator) Roster() domain.Roster {
	return o.registry.Roster()
}

// Stop closes every session, waits for them to unregister, then stops the workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	o.sessions.Wait()
	o.supervisor.Stop()
	o.log.Debug("All sessions unregistered", "online", o.registry.Len())
}
