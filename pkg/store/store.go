package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage slots shared by the auth and chat state.
const (
	KeyToken          = "token"
	KeyUser           = "user"
	KeyChatMessages   = "chatMessages"
	KeyCurrentSession = "currentSession"
)

// ErrMalformed marks a stored value that does not decode.
var ErrMalformed = errors.New("malformed stored value")

// Store is durable client storage: a flat string key/value space that
// survives restarts. Writes are synchronous.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// Driver selects a Store implementation.
type Driver string

const (
	DriverFile     Driver = "file"
	DriverMemory   Driver = "memory"
	DriverRedis    Driver = "redis"
	DriverPostgres Driver = "postgres"
)

// Config selects and configures a Store driver.
type Config struct {
	Driver        Driver
	Dir           string
	Namespace     string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	DatabaseURL   string
	OpTimeout     time.Duration
}

// Open builds the Store named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "default"
	}
	switch Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver)))) {
	case DriverFile, "":
		return NewFileStore(cfg.Dir, namespace)
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		return NewRedisStore(RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			Prefix:    cfg.RedisPrefix,
			Namespace: namespace,
			OpTimeout: cfg.OpTimeout,
		})
	case DriverPostgres:
		return NewGormStore(cfg.DatabaseURL, namespace)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// GetJSON decodes the value stored under key into out. A decode failure
// is reported as ErrMalformed so callers can treat the slot as absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
