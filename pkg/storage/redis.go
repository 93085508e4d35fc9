package storage

import (
	"context"
	"encoding/json"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, for installations where session
// state must survive the process
type RedisStore struct {
	client       *redis.Client
	cfg          config.RedisConfig
	historyLimit int
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(cfg config.RedisConfig, historyLimit int) *RedisStore {
	if historyLimit <= 0 {
		historyLimit = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:       client,
		cfg:          cfg,
		historyLimit: historyLimit,
	}
}

func (rs *RedisStore) key(suffix string) string {
	prefix := rs.cfg.KeyPrefix
	if prefix == "" {
		prefix = "syncroom"
	}
	return prefix + ":" + suffix
}

// SaveRoom persists the current room snapshot
func (rs *RedisStore) SaveRoom(ctx context.Context, room *state.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to marshal room", err)
	}

	if err := rs.client.Set(ctx, rs.key("room"), data, rs.cfg.TTL).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to save room", err)
	}
	return nil
}

// LoadRoom returns the persisted room snapshot
func (rs *RedisStore) LoadRoom(ctx context.Context) (*state.Room, error) {
	data, err := rs.client.Get(ctx, rs.key("room")).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.New(errors.ErrCodeKeyNotFound, "no persisted room")
		}
		return nil, errors.Wrap(errors.ErrCodeStorageError, "failed to load room", err)
	}

	var room state.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageError, "failed to unmarshal room", err)
	}
	return &room, nil
}

// ClearRoom drops the persisted room snapshot
func (rs *RedisStore) ClearRoom(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key("room")).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to clear room", err)
	}
	return nil
}

// SavePreferences persists user preferences
func (rs *RedisStore) SavePreferences(ctx context.Context, prefs Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to marshal preferences", err)
	}

	// Preferences outlive sessions; no TTL
	if err := rs.client.Set(ctx, rs.key("prefs"), data, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to save preferences", err)
	}
	return nil
}

// LoadPreferences returns persisted preferences, or the defaults
func (rs *RedisStore) LoadPreferences(ctx context.Context) (Preferences, error) {
	data, err := rs.client.Get(ctx, rs.key("prefs")).Bytes()
	if err != nil {
		if err == redis.Nil {
			return DefaultPreferences(), nil
		}
		return DefaultPreferences(), errors.Wrap(errors.ErrCodeStorageError, "failed to load preferences", err)
	}

	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPreferences(), errors.Wrap(errors.ErrCodeStorageError, "failed to unmarshal preferences", err)
	}
	return prefs, nil
}

// AppendHistory records a joined room, most recent first, bounded
func (rs *RedisStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	history, err := rs.History(ctx)
	if err != nil {
		return err
	}

	history = appendHistory(history, entry, rs.historyLimit)

	data, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to marshal history", err)
	}

	if err := rs.client.Set(ctx, rs.key("history"), data, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStorageError, "failed to save history", err)
	}
	return nil
}

// History returns the remembered rooms, most recent first
func (rs *RedisStore) History(ctx context.Context) ([]HistoryEntry, error) {
	data, err := rs.client.Get(ctx, rs.key("history")).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageError, "failed to load history", err)
	}

	var history []HistoryEntry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageError, "failed to unmarshal history", err)
	}
	return history, nil
}

// Close releases the Redis client
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
