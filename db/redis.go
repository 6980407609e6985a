package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerchat/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the three tables in three hashes. List values are JSON arrays.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(table string) string {
	return r.prefix + table
}

func (r *RedisStore) Load(ctx context.Context) (models.Snapshot, error) {
	snap := models.NewSnapshot()

	passwords, err := r.client.HGetAll(ctx, r.key("passwords")).Result()
	if err != nil {
		return snap, err
	}
	snap.Passwords = passwords

	if err := r.loadAdjacency(ctx, "friends", snap.Friends); err != nil {
		return snap, err
	}
	if err := r.loadAdjacency(ctx, "requests", snap.Requests); err != nil {
		return snap, err
	}
	normalize(&snap)
	return snap, nil
}

func (r *RedisStore) loadAdjacency(ctx context.Context, table string, into map[string][]string) error {
	raw, err := r.client.HGetAll(ctx, r.key(table)).Result()
	if err != nil {
		return err
	}
	for user, encoded := range raw {
		var list []string
		if err := json.Unmarshal([]byte(encoded), &list); err != nil {
			return fmt.Errorf("redis: decode %s[%s]: %w", table, user, err)
		}
		into[user] = list
	}
	return nil
}

// Save replaces all three hashes in one MULTI/EXEC.
func (r *RedisStore) Save(ctx context.Context, snap models.Snapshot) error {
	friends, err := encodeAdjacency(snap.Friends)
	if err != nil {
		return err
	}
	requests, err := encodeAdjacency(snap.Requests)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key("passwords"), r.key("friends"), r.key("requests"))
		if len(snap.Passwords) > 0 {
			passwords := make(map[string]any, len(snap.Passwords))
			for user, hash := range snap.Passwords {
				passwords[user] = hash
			}
			pipe.HSet(ctx, r.key("passwords"), passwords)
		}
		if len(friends) > 0 {
			pipe.HSet(ctx, r.key("friends"), friends)
		}
		if len(requests) > 0 {
			pipe.HSet(ctx, r.key("requests"), requests)
		}
		return nil
	})
	return err
}

func encodeAdjacency(adj map[string][]string) (map[string]any, error) {
	out := make(map[string]any, len(adj))
	for user, list := range adj {
		if list == nil {
			list = []string{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		out[user] = string(data)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
