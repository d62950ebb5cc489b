package domain

import "encoding/json"

// Command is an inbound request decoded from a connection.
// The set is closed: every implementation lives in this file.
type Command interface {
	Name() string
	command()
}

// StartTyping announces that the sender is typing to Recipient.
type StartTyping struct {
	Recipient Identity
}

// StopTyping announces that the sender stopped typing to Recipient.
type StopTyping struct {
	Recipient Identity
}

// MarkAsDelivered acknowledges reception of one message to its original sender.
type MarkAsDelivered struct {
	MessageID string
	Sender    Identity
}

// MarkAsRead marks a batch of messages as read and notifies their original sender
// once the store has committed the change.
type MarkAsRead struct {
	MessageIDs []string
	Sender     Identity
}

// CallUser carries an opaque call offer to Callee.
type CallUser struct {
	Callee     Identity
	Signal     json.RawMessage
	From       string
	CallerName string
}

// AcceptCall carries an opaque call answer back to the caller.
type AcceptCall struct {
	Caller Identity
	Signal json.RawMessage
}

// EndCall tells the peer that the call is over.
type EndCall struct {
	Peer Identity
}

func (StartTyping) Name() string     { return "typing" }
func (StopTyping) Name() string      { return "stopTyping" }
func (MarkAsDelivered) Name() string { return "markAsDelivered" }
func (MarkAsRead) Name() string      { return "markAsRead" }
func (CallUser) Name() string        { return "callUser" }
func (AcceptCall) Name() string      { return "acceptCall" }
func (EndCall) Name() string         { return "callEnded" }

func (StartTyping) command()     {}
func (StopTyping) command()      {}
func (MarkAsDelivered) command() {}
func (MarkAsRead) command()      {}
func (CallUser) command()        {}
func (AcceptCall) command()      {}
func (EndCall) command()         {}
