// Package event defines the outbound events relayed to live connections.
//
// Event is a sealed interface: the concrete types below are the only
// implementations, and Kind enumerates them so that switches over kinds
// stay exhaustive when a new one is added.
package event

import (
	"chat-relay/domain"
	"encoding/json"
)

type Kind int

const (
	KindPresence Kind = iota
	KindTyping
	KindStopTyping
	KindDeliveryAck
	KindReadAck
	KindCallOffer
	KindCallAnswer
	KindCallEnd
)

var kindNames = [...]string{
	KindPresence:    "presence",
	KindTyping:      "typing",
	KindStopTyping:  "stop_typing",
	KindDeliveryAck: "delivery_ack",
	KindReadAck:     "read_ack",
	KindCallOffer:   "call_offer",
	KindCallAnswer:  "call_answer",
	KindCallEnd:     "call_end",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Durable reports whether an event of this kind reflects a committed state
// change. Durable events are never dropped by a full outbound buffer; the
// sender gets a retryable error instead.
func (k Kind) Durable() bool {
	switch k {
	case KindReadAck:
		return true
	case KindPresence, KindTyping, KindStopTyping, KindDeliveryAck,
		KindCallOffer, KindCallAnswer, KindCallEnd:
		return false
	}
	return false
}

type Event interface {
	Kind() Kind
	// Name is the wire event name.
	Name() string
	// Target is the single recipient, or domain.Anonymous for a broadcast.
	Target() domain.Identity
	// Payload is the value encoded as the wire event data. Nil means no data.
	Payload() any
	sealed()
}

// OnlineUsers is the full presence snapshot broadcast on registry churn.
type OnlineUsers struct {
	Roster domain.Roster
}

type Typing struct {
	To       domain.Identity `json:"-"`
	SenderID domain.Identity `json:"senderId"`
}

type StopTyping struct {
	To       domain.Identity `json:"-"`
	SenderID domain.Identity `json:"senderId"`
}

type MessageDelivered struct {
	To        domain.Identity `json:"-"`
	MessageID string          `json:"messageId"`
}

// MessagesRead is only built by the read receipt bridge after the store commit.
type MessagesRead struct {
	To         domain.Identity `json:"-"`
	MessageIDs []string        `json:"messageIds"`
}

type CallIncoming struct {
	To         domain.Identity `json:"-"`
	Signal     json.RawMessage `json:"signal"`
	From       string          `json:"from"`
	CallerName string          `json:"name"`
}

type CallAccepted struct {
	To     domain.Identity
	Signal json.RawMessage
}

type CallEnded struct {
	To domain.Identity
}

func (OnlineUsers) Kind() Kind      { return KindPresence }
func (Typing) Kind() Kind           { return KindTyping }
func (StopTyping) Kind() Kind       { return KindStopTyping }
func (MessageDelivered) Kind() Kind { return KindDeliveryAck }
func (MessagesRead) Kind() Kind     { return KindReadAck }
func (CallIncoming) Kind() Kind     { return KindCallOffer }
func (CallAccepted) Kind() Kind     { return KindCallAnswer }
func (CallEnded) Kind() Kind        { return KindCallEnd }

func (OnlineUsers) Name() string      { return "getOnlineUsers" }
func (Typing) Name() string           { return "typing" }
func (StopTyping) Name() string       { return "stopTyping" }
func (MessageDelivered) Name() string { return "messageDelivered" }
func (MessagesRead) Name() string     { return "messagesRead" }
func (CallIncoming) Name() string     { return "callIncoming" }
func (CallAccepted) Name() string     { return "callAccepted" }
func (CallEnded) Name() string        { return "callEnded" }

func (OnlineUsers) Target() domain.Identity        { return domain.Anonymous }
func (e Typing) Target() domain.Identity           { return e.To }
func (e StopTyping) Target() domain.Identity       { return e.To }
func (e MessageDelivered) Target() domain.Identity { return e.To }
func (e MessagesRead) Target() domain.Identity     { return e.To }
func (e CallIncoming) Target() domain.Identity     { return e.To }
func (e CallAccepted) Target() domain.Identity     { return e.To }
func (e CallEnded) Target() domain.Identity        { return e.To }

func (e OnlineUsers) Payload() any {
	return e.Roster.Strings()
}
func (e Typing) Payload() any           { return e }
func (e StopTyping) Payload() any       { return e }
func (e MessageDelivered) Payload() any { return e }
func (e MessagesRead) Payload() any     { return e }
func (e CallIncoming) Payload() any     { return e }

// Payload of a call answer is the raw signal, passed through untouched.
func (e CallAccepted) Payload() any { return e.Signal }
func (CallEnded) Payload() any      { return nil }

func (OnlineUsers) sealed()      {}
func (Typing) sealed()           {}
func (StopTyping) sealed()       {}
func (MessageDelivered) sealed() {}
func (MessagesRead) sealed()     {}
func (CallIncoming) sealed()     {}
func (CallAccepted) sealed()     {}
func (CallEnded) sealed()        {}

// IsBroadcast reports whether evt is addressed to every registered connection.
func IsBroadcast(evt Event) bool {
	return evt.Target().IsAnonymous()
}
