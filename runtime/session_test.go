package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"
)

type fakeTransport struct {
	commands  chan domain.Command
	written   chan event.Event
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		commands: make(chan domain.Command),
		written:  make(chan event.Event, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) ReadCommand() (domain.Command, error) {
	select {
	case cmd := <-f.commands:
		return cmd, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteEvent(evt event.Event) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.written <- evt
	return nil
}

func (f *fakeTransport) Ping() error        { return nil }
func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:0" }

func (f *fakeTransport) Close(code int, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) CloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// send delivers a command as if it was read from the wire.
func (f *fakeTransport) send(t *testing.T, cmd domain.Command) {
	t.Helper()
	select {
	case f.commands <- cmd:
	case <-time.After(time.Second):
		t.Fatal("session did not read the command")
	}
}

func (f *fakeTransport) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case evt := <-f.written:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event written")
		return nil
	}
}

var testSessionConfig = SessionConfig{
	OutboundBuffer: 16,
	InboundBuffer:  4,
	PingPeriod:     time.Hour,
	InboundRate:    rate.Inf,
	InboundBurst:   1,
}

type sessionFixture struct {
	registry *Registry
	router   *Router
	bridge   *mocks.MockIReadReceiptBridge
	log      *slog.Logger
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	return &sessionFixture{
		registry: registry,
		router:   NewRouter(log, registry, newTestMetrics(), time.Second),
		bridge:   mocks.NewMockIReadReceiptBridge(ctrl),
		log:      log,
	}
}

// start attaches a fake transport and runs the session until the test ends.
func (f *sessionFixture) start(t *testing.T, identity domain.Identity, cfg SessionConfig) (*Session, *fakeTransport, <-chan error) {
	t.Helper()
	session := NewSession(f.log, f.registry, f.router, f.bridge, newTestMetrics(), cfg)
	transport := newFakeTransport()
	require.NoError(t, session.Attach(identity, transport))

	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()
	t.Cleanup(func() { _ = session.Close(ReasonShutdown) })

	require.Eventually(t, func() bool {
		return session.State() == domain.Active
	}, time.Second, time.Millisecond)
	return session, transport, done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSession_Lifecycle_Register_Then_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given u1 connects
	session, transport, done := f.start(t, "u1", testSessionConfig)

	found, ok := f.registry.Lookup("u1")
	req.True(ok)
	req.Same(session, found)

	// When the peer goes away
	_ = transport.Close(CloseNormal, "")
	waitRun(t, done)

	// Then the session is unregistered and the roster is empty
	req.Equal(domain.Unregistered, session.State())
	req.Empty(f.registry.Roster())
}

func TestSession_Reconnect_Keeps_Newest_Connection(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given connection A registers u1
	sessionA, transportA, doneA := f.start(t, "u1", testSessionConfig)

	// When connection B registers u1
	sessionB, _, _ := f.start(t, "u1", testSessionConfig)

	// Then A is closed as replaced and finishes
	waitRun(t, doneA)
	req.Equal(CloseReplaced, transportA.CloseCode())
	req.Equal(domain.Unregistered, sessionA.State())

	// And A's late unregister left B in place
	found, ok := f.registry.Lookup("u1")
	req.True(ok)
	req.Same(sessionB, found)
	req.True(f.registry.Roster().Contains("u1"))
}

func TestSession_Anonymous_Is_Never_Registered(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	_, peer, _ := f.start(t, "u2", testSessionConfig)

	// Given a connection without identity
	session, transport, done := f.start(t, domain.ParseIdentity("undefined"), testSessionConfig)

	// Then it does not appear in the roster
	req.Equal(domain.Roster{"u2"}, f.registry.Roster())

	// And its events are not relayed
	transport.send(t, domain.StartTyping{Recipient: "u2"})
	select {
	case evt := <-peer.written:
		req.Failf("unexpected event", "%v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	_ = session.Close(ReasonTransport)
	waitRun(t, done)
	req.Equal(domain.Roster{"u2"}, f.registry.Roster())
}

func TestSession_Rejected_Handshake_Never_Registers(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session := NewSession(f.log, f.registry, f.router, f.bridge, newTestMetrics(), testSessionConfig)

	// When authentication fails
	session.Reject(errors.ErrUnauthenticated)

	// Then the session is terminal and the registry untouched
	req.Equal(domain.Rejected, session.State())
	req.True(session.Closing())
	req.ErrorIs(session.Attach("u1", newFakeTransport()), errors.ErrInvalidTransition)
	req.ErrorIs(session.Run(context.Background()), errors.ErrTransportMissing)
	req.Empty(f.registry.Roster())
}

func TestSession_Typing_Relayed_To_Recipient(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	_, senderTransport, _ := f.start(t, "u1", testSessionConfig)
	_, recipientTransport, _ := f.start(t, "u2", testSessionConfig)

	senderTransport.send(t, domain.StartTyping{Recipient: "u2"})
	senderTransport.send(t, domain.StopTyping{Recipient: "u2"})

	// Then u2 sees both indicators in order, tagged with u1
	req.Equal(event.Typing{To: "u2", SenderID: "u1"}, recipientTransport.next(t))
	req.Equal(event.StopTyping{To: "u2", SenderID: "u1"}, recipientTransport.next(t))
}

func TestSession_Typing_To_Offline_Recipient_Is_Dropped(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session, transport, _ := f.start(t, "u1", testSessionConfig)

	// When u1 types to an offline user
	transport.send(t, domain.StartTyping{Recipient: "u2"})
	transport.send(t, domain.StopTyping{Recipient: "u2"})

	// Then u1 stays connected and receives nothing back
	req.Equal(domain.Active, session.State())
	select {
	case evt := <-transport.written:
		req.Failf("unexpected event", "%v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_Delivery_And_Call_Events(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	_, callerTransport, _ := f.start(t, "caller", testSessionConfig)
	_, calleeTransport, _ := f.start(t, "callee", testSessionConfig)
	signal := []byte(`{"type":"offer"}`)

	callerTransport.send(t, domain.CallUser{Callee: "callee", Signal: signal, From: "caller", CallerName: "Caller"})
	req.Equal(event.CallIncoming{To: "callee", Signal: signal, From: "caller", CallerName: "Caller"}, calleeTransport.next(t))

	calleeTransport.send(t, domain.AcceptCall{Caller: "caller", Signal: []byte(`{"type":"answer"}`)})
	req.Equal(event.CallAccepted{To: "caller", Signal: []byte(`{"type":"answer"}`)}, callerTransport.next(t))

	calleeTransport.send(t, domain.MarkAsDelivered{MessageID: "m1", Sender: "caller"})
	req.Equal(event.MessageDelivered{To: "caller", MessageID: "m1"}, callerTransport.next(t))

	callerTransport.send(t, domain.EndCall{Peer: "callee"})
	req.Equal(event.CallEnded{To: "callee"}, calleeTransport.next(t))
}

func TestSession_MarkAsRead_Goes_Through_Bridge(t *testing.T) {
	f := newSessionFixture(t)
	_, transport, _ := f.start(t, "reader", testSessionConfig)
	handled := make(chan struct{})

	f.bridge.EXPECT().
		HandleReadAck(gomock.Any(), []string{"m1", "m2"}, domain.Identity("writer")).
		DoAndReturn(func(context.Context, []string, domain.Identity) error {
			close(handled)
			return nil
		}).Times(1)

	transport.send(t, domain.MarkAsRead{MessageIDs: []string{"m1", "m2"}, Sender: "writer"})

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("read acknowledgement was not bridged")
	}
}

func TestSession_Panic_Is_Local_To_One_Event(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session, transport, _ := f.start(t, "reader", testSessionConfig)
	_, peer, _ := f.start(t, "writer", testSessionConfig)

	// Given the bridge panics
	f.bridge.EXPECT().HandleReadAck(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []string, domain.Identity) error {
			panic("boom")
		}).Times(1)

	transport.send(t, domain.MarkAsRead{MessageIDs: []string{"m1"}, Sender: "writer"})

	// Then the session keeps relaying subsequent events
	transport.send(t, domain.MarkAsDelivered{MessageID: "m1", Sender: "writer"})
	req.Equal(event.MessageDelivered{To: "writer", MessageID: "m1"}, peer.next(t))
	req.Equal(domain.Active, session.State())
}

func TestSession_Typing_Is_Rate_Limited(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	cfg := testSessionConfig
	cfg.InboundRate = rate.Every(time.Hour)
	cfg.InboundBurst = 1
	_, senderTransport, _ := f.start(t, "u1", cfg)
	_, recipientTransport, _ := f.start(t, "u2", testSessionConfig)

	senderTransport.send(t, domain.StartTyping{Recipient: "u2"})
	senderTransport.send(t, domain.StartTyping{Recipient: "u2"})
	senderTransport.send(t, domain.MarkAsDelivered{MessageID: "m1", Sender: "u2"})

	// Then only the first typing indicator went through, delivery acks are not limited
	req.Equal(event.Typing{To: "u2", SenderID: "u1"}, recipientTransport.next(t))
	req.Equal(event.MessageDelivered{To: "u2", MessageID: "m1"}, recipientTransport.next(t))
}

func TestSession_Stop_Typing_Passes_When_Limited(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	cfg := testSessionConfig
	cfg.InboundRate = rate.Every(time.Hour)
	cfg.InboundBurst = 1
	_, senderTransport, _ := f.start(t, "u1", cfg)
	_, recipientTransport, _ := f.start(t, "u2", testSessionConfig)

	// Given the sender spent its whole typing budget
	senderTransport.send(t, domain.StartTyping{Recipient: "u2"})
	senderTransport.send(t, domain.StartTyping{Recipient: "u2"})

	// When it stops typing
	senderTransport.send(t, domain.StopTyping{Recipient: "u2"})

	// Then the recipient still learns about it
	req.Equal(event.Typing{To: "u2", SenderID: "u1"}, recipientTransport.next(t))
	req.Equal(event.StopTyping{To: "u2", SenderID: "u1"}, recipientTransport.next(t))
}

func TestSession_Closing_Refuses_New_Events(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session, _, done := f.start(t, "u1", testSessionConfig)

	// When the session starts closing
	req.NoError(session.Close(ReasonTransport))

	// Then it is unreachable and refuses new events
	_, ok := f.registry.Lookup("u1")
	req.False(ok)
	req.False(session.TrySend(event.CallEnded{To: "u1"}))
	req.ErrorIs(session.Send(context.Background(), event.MessagesRead{To: "u1"}), errors.ErrConnectionClosed)

	waitRun(t, done)
	req.Empty(f.registry.Roster())
}

func TestSession_Outbound_Is_FIFO(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	session, transport, _ := f.start(t, "u1", testSessionConfig)

	for i := 0; i < 10; i++ {
		req.True(session.TrySend(event.MessageDelivered{To: "u1", MessageID: string(rune('a' + i))}))
	}
	for i := 0; i < 10; i++ {
		req.Equal(event.MessageDelivered{To: "u1", MessageID: string(rune('a' + i))}, transport.next(t))
	}
}
