package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

// JSONBackend keeps the whole mapping in a single JSON document and rewrites
// it on every change. The file is replaced atomically, so a crash leaves
// either the previous or the new state on disk.
type JSONBackend struct {
	path  string
	state map[string][]chat.Message
}

// NewJSONBackend prepares a backend writing to path, creating its directory.
func NewJSONBackend(path string) (*JSONBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "json backend: create directory")
	}
	return &JSONBackend{path: path, state: make(map[string][]chat.Message)}, nil
}

func (b *JSONBackend) Name() string { return DriverJSON }

// Load reads the file. A missing file is an empty history.
func (b *JSONBackend) Load(_ context.Context) (map[string][]chat.Message, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]chat.Message), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "json backend: read %s", b.path)
	}

	state := make(map[string][]chat.Message)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, errors.Wrapf(err, "json backend: decode %s", b.path)
		}
	}
	for key, messages := range state {
		if messages == nil {
			state[key] = []chat.Message{}
		}
	}
	b.state = state
	return cloneState(state), nil
}

func (b *JSONBackend) Ensure(_ context.Context, key string) error {
	if _, ok := b.state[key]; ok {
		return nil
	}
	b.state[key] = []chat.Message{}
	return b.flush()
}

func (b *JSONBackend) Append(_ context.Context, key string, msg chat.Message) error {
	b.state[key] = append(b.state[key], msg)
	return b.flush()
}

func (b *JSONBackend) Close() error { return nil }

func (b *JSONBackend) flush() error {
	data, err := json.MarshalIndent(b.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "json backend: encode")
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "json backend: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "json backend: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "json backend: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "json backend: close temp file")
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "json backend: replace %s", b.path)
	}
	return nil
}

func cloneState(state map[string][]chat.Message) map[string][]chat.Message {
	out := make(map[string][]chat.Message, len(state))
	for key, messages := range state {
		out[key] = append([]chat.Message{}, messages...)
	}
	return out
}
