package router

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/registry"
	"github.com/Tyrowin/supportdesk/internal/transcript"
)

type recordingHandle struct {
	id   string
	fail bool
	mu   sync.Mutex
	got  []chat.Message
}

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Push(msg chat.Message) error {
	if h.fail {
		return errors.New("buffer full")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, msg)
	return nil
}

func (h *recordingHandle) received() []chat.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chat.Message(nil), h.got...)
}

type panickingHandle struct{}

func (panickingHandle) ID() string              { return "panics" }
func (panickingHandle) Push(chat.Message) error { panic("boom") }

type fixture struct {
	store    *transcript.Store
	registry *registry.Registry
	router   *Router
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := transcript.NewStore(context.Background(), nil, zerolog.Nop())
	require.NoError(t, err)
	reg := registry.New()
	return fixture{store: store, registry: reg, router: New(store, reg, zerolog.Nop())}
}

func TestRouteUserToAdminAppendsAfterPriorEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := &recordingHandle{id: "bob-conn"}
	f.registry.RegisterUser("bob", bob)
	f.store.Ensure(ctx, "bob")

	first := chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin(), Text: "first", Timestamp: 1}
	second := chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin(), Text: "second", Timestamp: 2}
	_, err := f.router.Route(ctx, first)
	require.NoError(t, err)
	d, err := f.router.Route(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, "bob", d.Key)
	assert.Equal(t, []chat.Message{first, second}, f.store.All(ctx, "bob"))
	assert.Empty(t, bob.received(), "user-to-admin traffic is not echoed to the sender")
}

func TestRouteToAllAdmins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a1 := &recordingHandle{id: "a1"}
	a2 := &recordingHandle{id: "a2"}
	f.registry.RegisterAdmin(a1)
	f.registry.RegisterAdmin(a2)

	help := chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin(), Text: "help", Timestamp: 1}
	d, err := f.router.Route(ctx, help)
	require.NoError(t, err)

	assert.Equal(t, Delivery{Key: "bob", Attempted: 2, Delivered: 2}, d)
	assert.Equal(t, []chat.Message{help}, a1.received())
	assert.Equal(t, []chat.Message{help}, a2.received())
	assert.Equal(t, []chat.Message{help}, f.store.All(ctx, "bob"))
}

func TestRouteToUserReachesOnlyCurrentHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	superseded := &recordingHandle{id: "old"}
	current := &recordingHandle{id: "new"}
	admin := &recordingHandle{id: "admin"}
	f.registry.RegisterUser("bob", superseded)
	f.registry.RegisterUser("bob", current)
	f.registry.RegisterAdmin(admin)

	reply := chat.Message{Sender: chat.Admin(), Recipient: chat.User("bob"), Text: "hi", Timestamp: 1}
	_, err := f.router.Route(ctx, reply)
	require.NoError(t, err)

	assert.Len(t, current.received(), 1)
	assert.Empty(t, superseded.received())
	assert.Equal(t, []chat.Message{reply}, admin.received(), "admins monitor user-bound traffic")
	assert.Equal(t, []chat.Message{reply}, f.store.All(ctx, "bob"))
}

func TestRouteToOfflineUserStillStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.router.Post(ctx, "bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Attempted)

	stored := f.store.All(ctx, "bob")
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Sender.IsAdmin())
	assert.Equal(t, "bob", stored[0].Recipient.UserID())
	assert.Equal(t, "hi", stored[0].Text)
	assert.NotZero(t, stored[0].Timestamp)
}

func TestRouteRejectsInvalidMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := &recordingHandle{id: "admin"}
	f.registry.RegisterAdmin(admin)

	_, err := f.router.Route(ctx, chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin()})
	assert.True(t, errors.Is(err, chat.ErrEmptyText))

	_, err = f.router.Route(ctx, chat.Message{Sender: chat.User("bob"), Text: "hi"})
	assert.True(t, errors.Is(err, chat.ErrMissingRecipient))

	_, err = f.router.Post(ctx, "bob", "")
	assert.True(t, errors.Is(err, chat.ErrEmptyText))

	_, err = f.router.Post(ctx, "admin", "hi")
	assert.True(t, errors.Is(err, chat.ErrReservedUserID))

	assert.Empty(t, f.store.Keys(ctx))
	assert.Empty(t, admin.received())
}

func TestRouteFailedPushDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	broken := &recordingHandle{id: "broken", fail: true}
	healthy := &recordingHandle{id: "healthy"}
	f.registry.RegisterAdmin(broken)
	f.registry.RegisterAdmin(panickingHandle{})
	f.registry.RegisterAdmin(healthy)

	d, err := f.router.Route(ctx, chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin(), Text: "help"})
	require.NoError(t, err)

	assert.Equal(t, 3, d.Attempted)
	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, 2, d.Failed)
	assert.Len(t, healthy.received(), 1)
}

func TestRouteSelfAddressed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := &recordingHandle{id: "bob"}
	f.registry.RegisterUser("bob", bob)

	_, err := f.router.Route(ctx, chat.Message{Sender: chat.User("bob"), Recipient: chat.User("bob"), Text: "note to self"})
	require.NoError(t, err)

	assert.Len(t, bob.received(), 1)
	assert.Len(t, f.store.All(ctx, "bob"), 1)
}

func TestRouteUserToUserKeyedBySender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := &recordingHandle{id: "bob"}
	f.registry.RegisterUser("bob", bob)

	_, err := f.router.Route(ctx, chat.Message{Sender: chat.User("alice"), Recipient: chat.User("bob"), Text: "hey"})
	require.NoError(t, err)

	assert.Len(t, f.store.All(ctx, "alice"), 1)
	assert.Empty(t, f.store.All(ctx, "bob"))
	assert.Len(t, bob.received(), 1)
}

func TestRoutePreservesPerSenderOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := &recordingHandle{id: "admin"}
	f.registry.RegisterAdmin(admin)

	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := f.router.Route(ctx, chat.Message{Sender: chat.User("bob"), Recipient: chat.Admin(), Text: text})
		require.NoError(t, err)
	}

	var texts []string
	for _, m := range admin.received() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts)
}
