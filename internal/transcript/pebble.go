package transcript

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

// Key layout:
//
//	u/<userID>                          -> empty (transcript exists)
//	m/<userID>\x00<seq, 8 bytes BE>     -> JSON message
//
// The sequence is global and monotonic, so iterating the m/ prefix yields
// each user's messages in append order.
var (
	pebbleUserPrefix = []byte("u/")
	pebbleMsgPrefix  = []byte("m/")
)

// PebbleBackend appends one key per message with synchronous writes.
type PebbleBackend struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// NewPebbleBackend opens (or creates) a Pebble database in dir.
func NewPebbleBackend(dir string) (*PebbleBackend, error) {
	if dir == "" {
		return nil, errors.New("pebble backend: empty path")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "pebble backend: open %s", dir)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) Name() string { return DriverPebble }

func (b *PebbleBackend) Load(_ context.Context) (map[string][]chat.Message, error) {
	state := make(map[string][]chat.Message)

	if err := b.scan(pebbleUserPrefix, func(key, _ []byte) error {
		state[string(key[len(pebbleUserPrefix):])] = []chat.Message{}
		return nil
	}); err != nil {
		return nil, err
	}

	var maxSeq uint64
	err := b.scan(pebbleMsgPrefix, func(key, value []byte) error {
		userID, seq, ok := splitPebbleMsgKey(key)
		if !ok {
			return errors.Errorf("pebble backend: malformed key %q", key)
		}
		var msg chat.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return errors.Wrapf(err, "pebble backend: decode %q", key)
		}
		state[userID] = append(state[userID], msg)
		if seq > maxSeq {
			maxSeq = seq
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.seq.Store(maxSeq)
	return state, nil
}

func (b *PebbleBackend) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, "pebble backend: new iterator")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "pebble backend: iterate")
}

func (b *PebbleBackend) Ensure(_ context.Context, key string) error {
	return errors.Wrap(b.db.Set(pebbleUserKey(key), nil, pebble.Sync), "pebble backend: ensure transcript")
}

func (b *PebbleBackend) Append(_ context.Context, key string, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "pebble backend: encode message")
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(pebbleUserKey(key), nil, nil); err != nil {
		return errors.Wrap(err, "pebble backend: stage transcript")
	}
	if err := batch.Set(pebbleMsgKey(key, b.seq.Add(1)), data, nil); err != nil {
		return errors.Wrap(err, "pebble backend: stage message")
	}
	return errors.Wrap(batch.Commit(pebble.Sync), "pebble backend: commit")
}

func (b *PebbleBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func pebbleUserKey(userID string) []byte {
	return append(append([]byte(nil), pebbleUserPrefix...), userID...)
}

func pebbleMsgKey(userID string, seq uint64) []byte {
	key := make([]byte, 0, len(pebbleMsgPrefix)+len(userID)+9)
	key = append(key, pebbleMsgPrefix...)
	key = append(key, userID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, seq)
}

func splitPebbleMsgKey(key []byte) (string, uint64, bool) {
	if !bytes.HasPrefix(key, pebbleMsgPrefix) || len(key) < len(pebbleMsgPrefix)+9 {
		return "", 0, false
	}
	sep := len(key) - 9
	if key[sep] != 0 {
		return "", 0, false
	}
	return string(key[len(pebbleMsgPrefix):sep]), binary.BigEndian.Uint64(key[sep+1:]), true
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
