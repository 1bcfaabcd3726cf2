package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker is the once-per-day lock around a purge run. Claim returns false
// when the day has already been purged or another run holds it. A successful
// run calls Commit; a failed run calls Release so a later call may retry.
type Marker interface {
	Claim(ctx context.Context, day string) (bool, error)
	Commit(ctx context.Context, day string) error
	Release(ctx context.Context, day string) error
}

// FileMarker stores the date of the last successful purge in a file. It
// serializes runs inside one process only; multiple instances sharing a data
// directory should use RedisMarker.
type FileMarker struct {
	path    string
	mu      sync.Mutex
	running bool
}

func NewFileMarker(path string) *FileMarker {
	return &FileMarker{path: path}
}

func (m *FileMarker) Claim(_ context.Context, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false, nil
	}
	last, err := os.ReadFile(m.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read purge marker: %w", err)
	}
	if string(bytes.TrimSpace(last)) == day {
		return false, nil
	}
	m.running = true
	return true, nil
}

func (m *FileMarker) Commit(_ context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create marker directory: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(day+"\n"), 0o644); err != nil {
		return fmt.Errorf("write purge marker: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("write purge marker: %w", err)
	}
	return nil
}

func (m *FileMarker) Release(context.Context, string) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

// RedisMarker claims a day with SET NX so exactly one instance purges per day.
type RedisMarker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMarker(client *redis.Client, prefix string) *RedisMarker {
	if prefix == "" {
		prefix = "visitorlog:purge:"
	}
	return &RedisMarker{client: client, prefix: prefix, ttl: 48 * time.Hour}
}

func (m *RedisMarker) key(day string) string { return m.prefix + day }

func (m *RedisMarker) Claim(ctx context.Context, day string) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.key(day), "running", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim purge day: %w", err)
	}
	return ok, nil
}

func (m *RedisMarker) Commit(ctx context.Context, day string) error {
	if err := m.client.Set(ctx, m.key(day), "done", m.ttl).Err(); err != nil {
		return fmt.Errorf("commit purge day: %w", err)
	}
	return nil
}

func (m *RedisMarker) Release(ctx context.Context, day string) error {
	if err := m.client.Del(ctx, m.key(day)).Err(); err != nil {
		return fmt.Errorf("release purge day: %w", err)
	}
	return nil
}
