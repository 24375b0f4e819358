package domain

import (
	"encoding/json"
	"time"

	"github.com/HMasataka/relay/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// EventType is the discriminator of every wire event
type EventType string

const (
	EventTypeRegister     EventType = "register"
	EventTypeMessage      EventType = "message"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeParticipants EventType = "participants"
)

// MaxNameLength bounds display names, counted in characters
const MaxNameLength = 64

var validate = validator.New()

// Inbound is a decoded and validated client event
type Inbound interface {
	EventType() EventType
}

// RegisterEvent asks for a display name
type RegisterEvent struct {
	Author string `json:"author" validate:"required,max=64"`
}

func (RegisterEvent) EventType() EventType { return EventTypeRegister }

// MessageEvent carries chat text. Any author the client sends is ignored.
type MessageEvent struct {
	Text string `json:"text" validate:"required"`
}

func (MessageEvent) EventType() EventType { return EventTypeMessage }

type envelope struct {
	Type EventType `json:"type"`
}

// DecodeInbound parses one text frame. Every failure is reported as
// ErrMalformedEvent with the reason in its details.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.From(ErrMalformedEvent, err).WithDetails("invalid json")
	}

	var evt Inbound
	switch env.Type {
	case EventTypeRegister:
		var r RegisterEvent
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.From(ErrMalformedEvent, err).WithDetails("invalid register event")
		}
		evt = r
	case EventTypeMessage:
		var m MessageEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.From(ErrMalformedEvent, err).WithDetails("invalid message event")
		}
		evt = m
	case "":
		return nil, ErrMalformedEvent.WithDetails("missing type")
	default:
		return nil, ErrMalformedEvent.WithDetails("unsupported type " + string(env.Type))
	}

	if err := validate.Struct(evt); err != nil {
		return nil, errors.From(ErrMalformedEvent, err).WithDetails("missing or invalid fields")
	}

	return evt, nil
}

// Outbound is a server event fanned out to every peer. Only the fields of
// its Type are encoded.
type Outbound struct {
	Type         EventType `json:"type"`
	Time         int64     `json:"time"`
	Author       string    `json:"author,omitempty"`
	Text         string    `json:"text,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

func NewConnected(author string, at time.Time) Outbound {
	return Outbound{Type: EventTypeConnected, Time: at.UnixMilli(), Author: author}
}

func NewDisconnected(author string, at time.Time) Outbound {
	return Outbound{Type: EventTypeDisconnected, Time: at.UnixMilli(), Author: author}
}

func NewChatMessage(author, text string, at time.Time) Outbound {
	return Outbound{Type: EventTypeMessage, Time: at.UnixMilli(), Author: author, Text: text}
}

func NewParticipants(names []string, at time.Time) Outbound {
	return Outbound{Type: EventTypeParticipants, Time: at.UnixMilli(), Participants: names}
}

type presenceWire struct {
	Type   EventType `json:"type"`
	Time   int64     `json:"time"`
	Author string    `json:"author"`
}

type messageWire struct {
	Type   EventType `json:"type"`
	Time   int64     `json:"time"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

type participantsWire struct {
	Type         EventType `json:"type"`
	Time         int64     `json:"time"`
	Participants []string  `json:"participants"`
}

// MarshalJSON implements json.Marshaler
func (e Outbound) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTypeMessage:
		return json.Marshal(messageWire{Type: e.Type, Time: e.Time, Author: e.Author, Text: e.Text})
	case EventTypeParticipants:
		names := e.Participants
		if names == nil {
			names = []string{}
		}
		return json.Marshal(participantsWire{Type: e.Type, Time: e.Time, Participants: names})
	case EventTypeConnected, EventTypeDisconnected:
		return json.Marshal(presenceWire{Type: e.Type, Time: e.Time, Author: e.Author})
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "INVALID_OUTBOUND", "unsupported outbound event").WithDetails(string(e.Type))
	}
}

// Encode serializes the event for a text frame
func (e Outbound) Encode() ([]byte, error) {
	return json.Marshal(e)
}
