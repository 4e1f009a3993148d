package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMalformedFrame = errors.New("chat: malformed frame")
	ErrUnknownEvent   = errors.New("chat: unknown event type")
)

// Event is an inbound frame after decoding: a RegisterEvent or a MessageEvent.
type Event interface {
	isEvent()
}

// RegisterEvent identifies the connection as the given end user.
type RegisterEvent struct {
	UserID string
}

// MessageEvent carries text from the connection. Sender is whatever the
// frame claimed and may be empty; Recipient is empty when the frame had no
// addressee.
type MessageEvent struct {
	Sender    string
	Recipient string
	Text      string
}

func (RegisterEvent) isEvent() {}
func (MessageEvent) isEvent()  {}

// frame is the union of every wire shape clients send:
//
//	{"type":"register","username":"bob"}
//	{"type":"init","userId":"bob"}
//	{"type":"message","text":"hi","to":"admin"}
//	{"sender":"bob","recipient":"admin","text":"hi"}
type frame struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	UserID    string `json:"userId"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

// DecodeEvent turns a raw connection frame into an Event.
func DecodeEvent(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrMalformedFrame
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(f.Type)) {
	case "register", "init":
		id := f.UserID
		if id == "" {
			id = f.Username
		}
		return RegisterEvent{UserID: id}, nil
	case "message":
		return f.messageEvent(), nil
	case "":
		if f.Text == "" && f.Recipient == "" && f.To == "" {
			return nil, ErrUnknownEvent
		}
		return f.messageEvent(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "type %q", f.Type)
	}
}

func (f frame) messageEvent() MessageEvent {
	recipient := f.To
	if recipient == "" {
		recipient = f.Recipient
	}
	return MessageEvent{
		Sender:    strings.TrimSpace(f.Sender),
		Recipient: strings.TrimSpace(recipient),
		Text:      f.Text,
	}
}
