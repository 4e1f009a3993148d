// Package chat defines the domain types shared by the transcript store, the
// connection registry, the router and the transports: identities, messages
// and the inbound events decoded from connection frames.
package chat

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// AdminName is the wire spelling of the admin role. It is reserved and can
// never be used as a user id.
const AdminName = "admin"

var (
	// ErrEmptyUserID is returned when a user identity has no id.
	ErrEmptyUserID = errors.New("chat: empty user id")
	// ErrReservedUserID is returned when a user tries to claim the admin name.
	ErrReservedUserID = errors.New("chat: user id is reserved")
)

// Role distinguishes end users from support operators.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "user"
}

// Identity is either a single end user or the admin role. The zero value is
// an invalid user identity with no id.
type Identity struct {
	role Role
	user string
}

// User returns the identity of the end user with the given id.
func User(id string) Identity {
	return Identity{role: RoleUser, user: id}
}

// Admin returns the admin role identity shared by every operator.
func Admin() Identity {
	return Identity{role: RoleAdmin}
}

// ParseUserID trims and validates a user id coming from outside the process.
func ParseUserID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrEmptyUserID
	}
	if strings.EqualFold(id, AdminName) {
		return "", ErrReservedUserID
	}
	return id, nil
}

// IsAdmin reports whether the identity is the admin role.
func (i Identity) IsAdmin() bool { return i.role == RoleAdmin }

// IsZero reports whether the identity carries neither a role nor an id.
func (i Identity) IsZero() bool { return i.role == RoleUser && i.user == "" }

// Role returns the identity's role.
func (i Identity) Role() Role { return i.role }

// UserID returns the user id, or the empty string for the admin role.
func (i Identity) UserID() string {
	if i.role == RoleAdmin {
		return ""
	}
	return i.user
}

// String returns the wire spelling of the identity.
func (i Identity) String() string {
	if i.role == RoleAdmin {
		return AdminName
	}
	return i.user
}

// MarshalJSON encodes the identity as its wire spelling.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON decodes "admin" as the admin role and anything else as a
// user id. Persisted transcripts rely on this mapping when reloaded.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "chat: identity must be a string")
	}
	*i = FromWire(s)
	return nil
}

// FromWire maps a wire or storage spelling back to an identity.
func FromWire(s string) Identity {
	if s == AdminName {
		return Admin()
	}
	return User(s)
}
