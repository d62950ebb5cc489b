package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrBackpressure       = fmt.Errorf("outbound buffer full")
	ErrConnectionClosed   = fmt.Errorf("connection closed")
	ErrUnauthenticated    = fmt.Errorf("unauthenticated")
	ErrInvalidTransition  = fmt.Errorf("invalid connection state transition")
	ErrInvalidPayload     = fmt.Errorf("invalid event payload")
	ErrUnknownEvent       = fmt.Errorf("unknown event")
	ErrStoreUnavailable   = fmt.Errorf("message store unavailable")
	ErrTransportMissing   = fmt.Errorf("session has no transport attached")
	ErrUnsupportedStorage = fmt.Errorf("unsupported store driver")
)
