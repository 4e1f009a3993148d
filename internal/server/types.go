// Package server defines shared payload types and utility helpers that are
// reused across client, hub and handler logic.
package server

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

var (
	// ErrSendBufferFull is returned by Push when a client is not draining its
	// outbound queue fast enough. The client is closed.
	ErrSendBufferFull = errors.New("server: client send buffer full")
	// ErrClientClosed is returned by Push after the client has shut down.
	ErrClientClosed = errors.New("server: client closed")
	// ErrSenderMismatch rejects a user frame that claims another sender.
	ErrSenderMismatch = errors.New("server: frame sender does not match connection identity")
)

// State tracks a connection through its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IdentifyMode selects how a connection learns who is on the other end.
type IdentifyMode int

const (
	// IdentifyHandshake takes the identity from the upgrade request: a userId
	// query parameter for users, none for admins.
	IdentifyHandshake IdentifyMode = iota
	// IdentifyRegister waits for a register/init frame.
	IdentifyRegister
)

// historyFrame is sent to a user once the connection becomes active.
type historyFrame struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

// postRequest is the body of POST /chat/{userID}.
type postRequest struct {
	Text string `json:"text"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
