package transcript

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Supported backend drivers.
const (
	DriverMemory = "memory"
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverRedis  = "redis"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("transcript: unknown driver")

// Options selects and configures the durable backend.
type Options struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// DefaultPath returns the storage location a driver uses when none is set.
func DefaultPath(driver string) string {
	switch driver {
	case DriverJSON:
		return "data/chatHistory.json"
	case DriverSQLite:
		return "data/transcripts.db"
	case DriverPebble:
		return "data/transcripts"
	default:
		return ""
	}
}

// Open builds the configured backend and loads it into a Store.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*Store, error) {
	backend, err := openBackend(ctx, opts)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, errors.Wrapf(err, "transcript: load %s backend", backend.Name())
	}
	return store, nil
}

func openBackend(ctx context.Context, opts Options) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	path := opts.Path
	if path == "" {
		path = DefaultPath(driver)
	}

	switch driver {
	case DriverMemory:
		return memoryBackend{}, nil
	case DriverJSON, "":
		if path == "" {
			path = DefaultPath(DriverJSON)
		}
		return NewJSONBackend(path)
	case DriverSQLite:
		return NewSQLiteBackend(ctx, path)
	case DriverPebble:
		return NewPebbleBackend(path)
	case DriverRedis:
		return NewRedisBackend(ctx, opts.RedisURL)
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", opts.Driver)
	}
}
