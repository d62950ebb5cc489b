//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"net/http"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is the handle of one live transport channel as seen by the registry
// and the router. Two handles are the same connection iff they compare equal.
type Connection interface {
	ID() string
	Identity() domain.Identity
	CreatedAt() time.Time
	// TrySend enqueues evt without blocking. It returns false when the outbound
	// buffer is full or the connection is closing.
	TrySend(evt event.Event) bool
	// Send waits for room in the outbound buffer until ctx is done or the
	// connection starts closing.
	Send(ctx context.Context, evt event.Event) error
	// Closing reports whether the connection left the Active state.
	Closing() bool
	Close(reason string) error
}

// Transport is the wire side of a connection. ReadCommand and WriteEvent are
// each called from a single goroutine; Ping and Close may be called concurrently.
type Transport interface {
	ReadCommand() (domain.Command, error)
	WriteEvent(evt event.Event) error
	Ping() error
	Close(code int, reason string) error
	RemoteAddr() string
}

type IRegistry interface {
	Register(identity domain.Identity, conn Connection) (Connection, bool)
	Unregister(identity domain.Identity, conn Connection) bool
	Lookup(identity domain.Identity) (Connection, bool)
	Roster() domain.Roster
	Connections() []Connection
	Changes() <-chan struct{}
}

type IRouter interface {
	Dispatch(ctx context.Context, evt event.Event) error
}

type IReadReceiptBridge interface {
	HandleReadAck(ctx context.Context, messageIDs []string, sender domain.Identity) error
}

// MessageStatusRepository is the only access the relay has to persisted messages.
type MessageStatusRepository interface {
	MarkAsRead(ctx context.Context, messageIDs []string) error
}

// RosterPublisher mirrors presence snapshots outside the process.
type RosterPublisher interface {
	PublishRoster(ctx context.Context, roster domain.Roster) error
}

type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}
