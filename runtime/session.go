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
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Close reasons and the transport close codes they map to.
const (
	ReasonTransport = "transport closed"
	ReasonReplaced  = "replaced by a newer connection"
	ReasonShutdown  = "server shutting down"

	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseReplaced  = 4000
)

func closeCode(reason string) int {
	switch reason {
	case ReasonReplaced:
		return CloseReplaced
	case ReasonShutdown:
		return CloseGoingAway
	default:
		return CloseNormal
	}
}

type SessionConfig struct {
	OutboundBuffer int
	InboundBuffer  int
	PingPeriod     time.Duration
	InboundRate    rate.Limit
	InboundBurst   int
}

// Session is the actor owning one connection. It reads commands from its
// transport, hands them to the router or the read receipt bridge, and writes
// the events queued on its outbound buffer back to the transport in FIFO order.
//
// A Session is the contract.Connection stored in the registry.
type Session struct {
	id         string
	createdAt  time.Time
	log        *slog.Logger
	registry   contract.IRegistry
	router     contract.IRouter
	bridge     contract.IReadReceiptBridge
	metrics    *observability.Metrics
	limiter    *rate.Limiter
	pingPeriod time.Duration

	mu        sync.Mutex
	state     domain.ConnectionState
	identity  domain.Identity
	transport contract.Transport

	outbound chan event.Event
	inbound  chan domain.Command
	done     chan struct{}
}

func NewSession(log *slog.Logger, registry contract.IRegistry, router contract.IRouter,
	bridge contract.IReadReceiptBridge, metrics *observability.Metrics, cfg SessionConfig) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		createdAt:  time.Now().UTC(),
		log:        log.With("conn_id", id),
		registry:   registry,
		router:     router,
		bridge:     bridge,
		metrics:    metrics,
		limiter:    rate.NewLimiter(cfg.InboundRate, cfg.InboundBurst),
		pingPeriod: cfg.PingPeriod,
		state:      domain.Pending,
		outbound:   make(chan event.Event, cfg.OutboundBuffer),
		inbound:    make(chan domain.Command, cfg.InboundBuffer),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closing reports whether the session left the live states.
func (s *Session) Closing() bool {
	switch s.State() {
	case domain.Closing, domain.Unregistered, domain.Rejected:
		return true
	}
	return false
}

// Reject ends a pending session whose handshake failed. It never touches the registry.
func (s *Session) Reject(cause error) {
	if err := s.transition(domain.Rejected); err != nil {
		s.log.Warn("Cannot reject session", "error", err)
		return
	}
	s.metrics.RejectedHandshakes.Inc()
	s.log.Info("Connection rejected", "error", cause)
}

// Attach binds the authenticated identity and the opened transport to a pending session.
func (s *Session) Attach(identity domain.Identity, transport contract.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.Pending {
		return fmt.Errorf("attach in state %s: %w", s.state, errors.ErrInvalidTransition)
	}
	s.identity = identity
	s.transport = transport
	return nil
}

// Run drives the session until the transport closes, the session is closed,
// or ctx is canceled. It returns once the session is Unregistered.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return errors.ErrTransportMissing
	}

	s.metrics.OpenSessions.Inc()
	defer s.metrics.OpenSessions.Dec()

	if err := s.activate(); err != nil {
		s.finish()
		return err
	}
	s.log.Info("Connection established", "identity", s.Identity(), "remote", transport.RemoteAddr())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(transport)
	}()
	go s.readPump(transport)

	s.loop(ctx)

	if ctx.Err() != nil {
		_ = s.Close(ReasonShutdown)
	}
	<-writerDone
	s.finish()
	return nil
}

func (s *Session) activate() error {
	identity := s.Identity()
	if identity.IsAnonymous() {
		return s.transition(domain.Active)
	}

	if err := s.transition(domain.Registered); err != nil {
		return err
	}
	previous, replaced := s.registry.Register(identity, s)
	if replaced && previous != nil {
		s.metrics.ReplacedSessions.Inc()
		s.log.Info("Identity reconnected, closing previous connection",
			"identity", identity, "previous_conn_id", previous.ID())
		if err := previous.Close(ReasonReplaced); err != nil {
			s.log.Debug("Previous connection close failed", "error", err)
		}
	}

	// A newer connection may already have displaced this one.
	if err := s.transition(domain.Active); err != nil {
		s.log.Debug("Session closed before activation", "identity", identity)
	}
	return nil
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case cmd := <-s.inbound:
			s.handle(ctx, cmd)
		}
	}
}

// handle runs one inbound command. A failure, panics included, stays local
// to this command.
func (s *Session) handle(ctx context.Context, cmd domain.Command) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic while handling inbound event", "event", cmd.Name(), "panic", r)
		}
	}()

	if !s.State().AcceptsInbound() {
		return
	}
	identity := s.Identity()
	if identity.IsAnonymous() {
		s.log.Debug("Event from anonymous connection ignored", "event", cmd.Name())
		return
	}

	var err error
	switch c := cmd.(type) {
	case domain.StartTyping:
		if s.allow(event.KindTyping) {
			err = s.router.Dispatch(ctx, event.Typing{To: c.Recipient, SenderID: identity})
		}
	case domain.StopTyping:
		// Never rate limited, a dropped stop would leave the peer showing typing.
		err = s.router.Dispatch(ctx, event.StopTyping{To: c.Recipient, SenderID: identity})
	case domain.MarkAsDelivered:
		err = s.router.Dispatch(ctx, event.MessageDelivered{To: c.Sender, MessageID: c.MessageID})
	case domain.MarkAsRead:
		err = s.bridge.HandleReadAck(ctx, c.MessageIDs, c.Sender)
	case domain.CallUser:
		err = s.router.Dispatch(ctx, event.CallIncoming{To: c.Callee, Signal: c.Signal, From: c.From, CallerName: c.CallerName})
	case domain.AcceptCall:
		err = s.router.Dispatch(ctx, event.CallAccepted{To: c.Caller, Signal: c.Signal})
	case domain.EndCall:
		err = s.router.Dispatch(ctx, event.CallEnded{To: c.Peer})
	default:
		err = fmt.Errorf("%w: %T", errors.ErrUnknownEvent, cmd)
	}
	if err != nil {
		s.log.Warn("Inbound event failed", "event", cmd.Name(), "identity", identity, "error", err)
	}
}

// allow applies the inbound rate limit to typing announcements.
func (s *Session) allow(kind event.Kind) bool {
	if s.limiter.Allow() {
		return true
	}
	s.metrics.IncDropped(kind, observability.ReasonRateLimited)
	return false
}

func (s *Session) readPump(transport contract.Transport) {
	for {
		cmd, err := transport.ReadCommand()
		if err != nil {
			if stderrors.Is(err, errors.ErrInvalidPayload) || stderrors.Is(err, errors.ErrUnknownEvent) {
				s.log.Warn("Inbound event ignored", "error", err)
				continue
			}
			s.log.Debug("Transport read ended", "error", err)
			_ = s.Close(ReasonTransport)
			return
		}
		select {
		case s.inbound <- cmd:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writePump(transport contract.Transport) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case evt := <-s.outbound:
			if err := transport.WriteEvent(evt); err != nil {
				s.log.Debug("Transport write failed", "event", evt.Name(), "error", err)
				_ = s.Close(ReasonTransport)
				return
			}
		case <-ticker.C:
			if err := transport.Ping(); err != nil {
				s.log.Debug("Transport ping failed", "error", err)
				_ = s.Close(ReasonTransport)
				return
			}
		}
	}
}

// finish discards what is left in the outbound buffer and removes the
// registry entry if it still belongs to this session.
func (s *Session) finish() {
	discarded := 0
	for len(s.outbound) > 0 {
		<-s.outbound
		discarded++
	}

	identity := s.Identity()
	if !identity.IsAnonymous() {
		if !s.registry.Unregister(identity, s) {
			s.log.Debug("Registry entry already owned by a newer connection", "identity", identity)
		}
	}
	if err := s.transition(domain.Unregistered); err != nil {
		s.log.Warn("Cannot unregister session", "error", err)
	}
	s.log.Info("Connection closed", "identity", identity, "discarded", discarded)
}

// Buffered reports the outbound buffer usage.
func (s *Session) Buffered() (int, int) {
	return len(s.outbound), cap(s.outbound)
}

func (s *Session) TrySend(evt event.Event) bool {
	if s.Closing() {
		return false
	}
	select {
	case s.outbound <- evt:
		return true
	default:
		return false
	}
}

func (s *Session) Send(ctx context.Context, evt event.Event) error {
	if s.Closing() {
		return errors.ErrConnectionClosed
	}
	select {
	case s.outbound <- evt:
		return nil
	case <-s.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close moves the session to Closing. From then on it is unreachable through
// the registry, durable sends waiting on its buffer give up, and the transport
// is closed. Commands already being handled run to completion.
// Closing an already closing session is a no-op.
func (s *Session) Close(reason string) error {
	s.mu.Lock()
	if !s.state.CanTransitionTo(domain.Closing) {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.Closing
	transport := s.transport
	s.mu.Unlock()

	close(s.done)
	s.log.Debug("Connection closing", "reason", reason)
	if transport == nil {
		return nil
	}
	return transport.Close(closeCode(reason), reason)
}

func (s *Session) transition(next domain.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", s.state, next, errors.ErrInvalidTransition)
	}
	s.state = next
	return nil
}
