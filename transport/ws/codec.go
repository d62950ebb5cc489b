package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type typingPayload struct {
	RecipientID string `json:"recipientId" validate:"required"`
}

type deliveredPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	SenderID  string `json:"senderId" validate:"required"`
}

type readPayload struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
	SenderID   string   `json:"senderId" validate:"required"`
}

type callUserPayload struct {
	UserToCall string          `json:"userToCall" validate:"required"`
	SignalData json.RawMessage `json:"signalData" validate:"required"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
}

type acceptCallPayload struct {
	To     string          `json:"to" validate:"required"`
	Signal json.RawMessage `json:"signal" validate:"required"`
}

type callEndedPayload struct {
	To string `json:"to" validate:"required"`
}

// DecodeCommand turns one inbound frame into a domain command.
// Unknown event names yield ErrUnknownEvent, malformed payloads ErrInvalidPayload.
func DecodeCommand(raw []byte) (domain.Command, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	switch envelope.Event {
	case "typing", "stopTyping":
		var p typingPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		if envelope.Event == "typing" {
			return domain.StartTyping{Recipient: domain.Identity(p.RecipientID)}, nil
		}
		return domain.StopTyping{Recipient: domain.Identity(p.RecipientID)}, nil
	case "markAsDelivered":
		var p deliveredPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		return domain.MarkAsDelivered{MessageID: p.MessageID, Sender: domain.Identity(p.SenderID)}, nil
	case "markAsRead":
		var p readPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		return domain.MarkAsRead{MessageIDs: p.MessageIDs, Sender: domain.Identity(p.SenderID)}, nil
	case "callUser":
		var p callUserPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		return domain.CallUser{Callee: domain.Identity(p.UserToCall), Signal: p.SignalData, From: p.From, CallerName: p.Name}, nil
	case "acceptCall":
		var p acceptCallPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		return domain.AcceptCall{Caller: domain.Identity(p.To), Signal: p.Signal}, nil
	case "callEnded":
		var p callEndedPayload
		if err := decodePayload(envelope, &p); err != nil {
			return nil, err
		}
		return domain.EndCall{Peer: domain.Identity(p.To)}, nil
	default:
		return nil, fmt.Errorf("%q: %w", envelope.Event, errors.ErrUnknownEvent)
	}
}

func decodePayload(envelope Envelope, target any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%s: empty payload: %w", envelope.Event, errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("%s: %w: %w", envelope.Event, errors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%s: %w: %w", envelope.Event, errors.ErrInvalidPayload, err)
	}
	return nil
}

// EncodeEvent renders an outbound event as a frame.
func EncodeEvent(evt event.Event) ([]byte, error) {
	envelope := Envelope{Event: evt.Name()}
	if payload := evt.Payload(); payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", evt.Name(), err)
		}
		envelope.Data = data
	}
	return json.Marshal(envelope)
}
