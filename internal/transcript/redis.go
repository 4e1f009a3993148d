package transcript

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/supportdesk/internal/chat"
)

const (
	redisUsersKey        = "supportdesk:users"
	redisTranscriptsRoot = "supportdesk:transcript:"
)

// RedisBackend keeps one list per user and a set of known users.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	if redisURL == "" {
		return nil, errors.New("redis backend: empty url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "redis backend: parse url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis backend: ping")
	}
	return &RedisBackend{client: client}, nil
}

func transcriptKey(userID string) string {
	return redisTranscriptsRoot + userID
}

func (b *RedisBackend) Name() string { return DriverRedis }

func (b *RedisBackend) Load(ctx context.Context) (map[string][]chat.Message, error) {
	users, err := b.client.SMembers(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis backend: list users")
	}

	state := make(map[string][]chat.Message, len(users))
	for _, userID := range users {
		raw, err := b.client.LRange(ctx, transcriptKey(userID), 0, -1).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis backend: read transcript %q", userID)
		}
		messages := make([]chat.Message, 0, len(raw))
		for _, item := range raw {
			var msg chat.Message
			if err := json.Unmarshal([]byte(item), &msg); err != nil {
				return nil, errors.Wrapf(err, "redis backend: decode transcript %q", userID)
			}
			messages = append(messages, msg)
		}
		state[userID] = messages
	}
	return state, nil
}

func (b *RedisBackend) Ensure(ctx context.Context, key string) error {
	return errors.Wrap(b.client.SAdd(ctx, redisUsersKey, key).Err(), "redis backend: ensure transcript")
}

func (b *RedisBackend) Append(ctx context.Context, key string, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "redis backend: encode message")
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisUsersKey, key)
		pipe.RPush(ctx, transcriptKey(key), data)
		return nil
	})
	return errors.Wrap(err, "redis backend: append")
}

func (b *RedisBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
