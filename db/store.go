package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"peerchat/config"
	"peerchat/models"
)

var ErrUnknownDriver = errors.New("db: unknown store driver")

// Store persists full directory snapshots. Save replaces whatever was saved before.
type Store interface {
	Load(ctx context.Context) (models.Snapshot, error)
	Save(ctx context.Context, snap models.Snapshot) error
	Close() error
}

// Open picks a backend from cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store {
	case "", "sqlite":
		return New(cfg.DBPath)
	case "toml":
		return NewFileStore(cfg.TOMLPath)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Store)
	}
}

type MemoryStore struct {
	mu    sync.Mutex
	snap  models.Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: models.NewSnapshot()}
}

func (m *MemoryStore) Load(ctx context.Context) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	m.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }

// normalize fills nil maps so callers can index without checks.
func normalize(snap *models.Snapshot) {
	if snap.Passwords == nil {
		snap.Passwords = make(map[string]string)
	}
	if snap.Friends == nil {
		snap.Friends = make(map[string][]string)
	}
	if snap.Requests == nil {
		snap.Requests = make(map[string][]string)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
