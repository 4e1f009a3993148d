package chat

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrEmptyText        = errors.New("chat: message text is empty")
	ErrMissingRecipient = errors.New("chat: message has no recipient")
	ErrNoUserParty      = errors.New("chat: message has no end-user party")
)

// Message is a single chat line. Messages are values and are never modified
// once created.
type Message struct {
	Sender    Identity `json:"sender"`
	Recipient Identity `json:"recipient"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}

// NewMessage stamps a message with the current time in epoch milliseconds.
func NewMessage(sender, recipient Identity, text string) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Validate checks the fields the router needs before it stores anything.
func (m Message) Validate() error {
	if m.Recipient.IsZero() {
		return ErrMissingRecipient
	}
	if m.Text == "" {
		return ErrEmptyText
	}
	if m.Sender.IsAdmin() && m.Recipient.IsAdmin() {
		return ErrNoUserParty
	}
	if m.Sender.IsZero() {
		return ErrNoUserParty
	}
	return nil
}

// TranscriptKey returns the end user whose transcript holds this message:
// the recipient for admin-sent messages, the sender otherwise.
func (m Message) TranscriptKey() string {
	if m.Sender.IsAdmin() {
		return m.Recipient.UserID()
	}
	return m.Sender.UserID()
}
