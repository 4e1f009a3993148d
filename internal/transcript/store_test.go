package transcript

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

func msg(sender, recipient chat.Identity, text string, ts int64) chat.Message {
	return chat.Message{Sender: sender, Recipient: recipient, Text: text, Timestamp: ts}
}

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), nil, zerolog.Nop())
	require.NoError(t, err)
	return store
}

// TestAppendPreservesOrder covers the M1, M2, M3 round trip.
func TestAppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	m1 := msg(chat.User("bob"), chat.Admin(), "one", 1)
	m2 := msg(chat.Admin(), chat.User("bob"), "two", 2)
	m3 := msg(chat.User("bob"), chat.Admin(), "three", 3)

	store.Append(ctx, "bob", m1)
	store.Append(ctx, "bob", m2)
	store.Append(ctx, "bob", m3)

	assert.Equal(t, []chat.Message{m1, m2, m3}, store.All(ctx, "bob"))
}

func TestAllUnknownKeyIsEmpty(t *testing.T) {
	store := newMemoryStore(t)
	got := store.All(context.Background(), "nobody")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	store.Append(ctx, "bob", msg(chat.User("bob"), chat.Admin(), "hi", 1))

	got := store.All(ctx, "bob")
	got[0].Text = "changed"

	assert.Equal(t, "hi", store.All(ctx, "bob")[0].Text)
}

func TestEnsureCreatesEmptyTranscriptOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	store.Ensure(ctx, "bob")
	store.Append(ctx, "bob", msg(chat.User("bob"), chat.Admin(), "hi", 1))
	store.Ensure(ctx, "bob")
	store.Ensure(ctx, "alice")

	assert.Equal(t, []string{"alice", "bob"}, store.Keys(ctx))
	assert.Len(t, store.All(ctx, "bob"), 1)
}

func TestConcurrentAppendsAreAtomic(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Append(ctx, "bob", msg(chat.User("bob"), chat.Admin(), fmt.Sprintf("%d-%d", worker, i), int64(i)))
			}
		}(w)
	}
	wg.Wait()

	messages := store.All(ctx, "bob")
	require.Len(t, messages, 400)

	// each worker's own messages keep their relative order
	last := map[string]int{}
	for _, m := range messages {
		var worker, i int
		_, err := fmt.Sscanf(m.Text, "%d-%d", &worker, &i)
		require.NoError(t, err)
		key := fmt.Sprint(worker)
		if prev, ok := last[key]; ok {
			assert.Greater(t, i, prev)
		}
		last[key] = i
	}
}

type failingBackend struct {
	memoryBackend
	appends int
}

func (f *failingBackend) Append(context.Context, string, chat.Message) error {
	f.appends++
	return errors.New("disk on fire")
}

func (f *failingBackend) Ensure(context.Context, string) error {
	return errors.New("disk on fire")
}

func TestBackendFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	store, err := NewStore(ctx, backend, zerolog.Nop())
	require.NoError(t, err)

	store.Ensure(ctx, "bob")
	store.Append(ctx, "bob", msg(chat.User("bob"), chat.Admin(), "still here", 1))

	assert.Equal(t, 1, backend.appends)
	assert.Equal(t, []string{"bob"}, store.Keys(ctx))
	assert.Equal(t, "still here", store.All(ctx, "bob")[0].Text)
}

type loadFailBackend struct{ memoryBackend }

func (loadFailBackend) Load(context.Context) (map[string][]chat.Message, error) {
	return nil, errors.New("corrupt")
}

func TestNewStoreFailsWhenLoadFails(t *testing.T) {
	_, err := NewStore(context.Background(), loadFailBackend{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "cassette"}, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

// TestBackendsSurviveRestart writes through each durable backend, reopens it
// and checks the reloaded state.
func TestBackendsSurviveRestart(t *testing.T) {
	tests := []struct {
		name string
		opts func(t *testing.T) Options
	}{
		{
			name: "json",
			opts: func(t *testing.T) Options {
				return Options{Driver: DriverJSON, Path: filepath.Join(t.TempDir(), "history", "chatHistory.json")}
			},
		},
		{
			name: "sqlite",
			opts: func(t *testing.T) Options {
				return Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "transcripts.db")}
			},
		},
		{
			name: "pebble",
			opts: func(t *testing.T) Options {
				return Options{Driver: DriverPebble, Path: filepath.Join(t.TempDir(), "pebble")}
			},
		},
		{
			name: "redis",
			opts: func(t *testing.T) Options {
				mr := miniredis.RunT(t)
				return Options{Driver: DriverRedis, RedisURL: "redis://" + mr.Addr()}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			opts := tt.opts(t)

			store, err := Open(ctx, opts, zerolog.Nop())
			require.NoError(t, err)

			m1 := msg(chat.User("bob"), chat.Admin(), "help", 1)
			m2 := msg(chat.Admin(), chat.User("bob"), "on it", 2)
			m3 := msg(chat.User("bobby"), chat.Admin(), "me too", 3)
			store.Ensure(ctx, "carol")
			store.Append(ctx, "bob", m1)
			store.Append(ctx, "bobby", m3)
			store.Append(ctx, "bob", m2)
			require.NoError(t, store.Close())

			reopened, err := Open(ctx, opts, zerolog.Nop())
			require.NoError(t, err)
			defer reopened.Close()

			assert.Equal(t, []string{"bob", "bobby", "carol"}, reopened.Keys(ctx))
			assert.Equal(t, []chat.Message{m1, m2}, reopened.All(ctx, "bob"))
			assert.Equal(t, []chat.Message{m3}, reopened.All(ctx, "bobby"))
			assert.Empty(t, reopened.All(ctx, "carol"))

			m4 := msg(chat.User("bob"), chat.Admin(), "thanks", 4)
			reopened.Append(ctx, "bob", m4)
			assert.Equal(t, []chat.Message{m1, m2, m4}, reopened.All(ctx, "bob"))
		})
	}
}

func TestPebbleKeyRoundTrip(t *testing.T) {
	key := pebbleMsgKey("bob", 258)
	userID, seq, ok := splitPebbleMsgKey(key)
	require.True(t, ok)
	assert.Equal(t, "bob", userID)
	assert.Equal(t, uint64(258), seq)

	_, _, ok = splitPebbleMsgKey([]byte("m/short"))
	assert.False(t, ok)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("m0"), prefixUpperBound([]byte("m/")))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff}))
}
