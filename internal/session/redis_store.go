// Package session stores the per-session file context (current project, file
// and file type) that survives between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found or expired")

// Info is what a session remembers about the file being worked on.
type Info struct {
	ProjectID string    `json:"project_id,omitempty"`
	FileID    string    `json:"file_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	FileType  string    `json:"filetype,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore keeps session info in Redis with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "annotator:session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save overwrites the info for sessionID and restarts its TTL.
func (s *RedisStore) Save(ctx context.Context, sessionID string, info Info) error {
	info.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session info: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session info: %w", err)
	}
	return nil
}

// Lookup returns the info for sessionID and slides its TTL.
func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Info, error) {
	payload, err := s.client.GetEx(ctx, s.key(sessionID), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("lookup session info: %w", err)
	}

	var info Info
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return Info{}, fmt.Errorf("unmarshal session info: %w", err)
	}
	return info, nil
}

// Delete forgets sessionID. Deleting an unknown session is not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session info: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
