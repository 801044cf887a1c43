package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/contexthelper"
	"github.com/gnostr-org/signerd/internal/clientsession"
)

const clientSessionPrefix = "client-session-"

type RedisStorage struct {
	cfg    config.Config
	client *redis.Client
}

func NewRedisStorage(cfg config.Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		cfg:    cfg,
		client: client,
	}, nil
}

func (r *RedisStorage) Set(ctx context.Context, key string, value string, expiry time.Duration) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Set(ctx, key, value, expiry).Err()
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return "", ctx.Err()
	}
	return r.client.Get(ctx, key).Result()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Del(ctx, key).Err()
}

// PutClientSession caches one persistent client approval.
func (r *RedisStorage) PutClientSession(ctx context.Context, key string, session *clientsession.Session, ttl time.Duration) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("fail to serialize client session to json, err: %w", err)
	}
	if session.Persistent {
		ttl = 0
	}
	return r.client.Set(ctx, key, string(sessionJSON), ttl).Err()
}

func (r *RedisStorage) DeleteClientSession(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Del(ctx, key).Err()
}

// ListClientSessions returns every cached approval keyed by its cache key.
func (r *RedisStorage) ListClientSessions(ctx context.Context) (map[string]*clientsession.Session, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	out := make(map[string]*clientsession.Session)
	iter := r.client.Scan(ctx, 0, clientSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionJSON, err := r.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("fail to get client session, err: %w", err)
		}
		var session clientsession.Session
		if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
			return nil, fmt.Errorf("fail to deserialize client session, err: %w", err)
		}
		out[key] = &session
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimSigningTask marks a session id as in-flight so a retried queue task
// does not start a second signing round. Returns false when already claimed.
func (r *RedisStorage) ClaimSigningTask(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return false, ctx.Err()
	}
	return r.client.SetNX(ctx, "signing-task-"+sessionID, "1", ttl).Result()
}

// ReleaseSigningTask clears the claim once the session reaches a terminal
// state.
func (r *RedisStorage) ReleaseSigningTask(ctx context.Context, sessionID string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Del(ctx, "signing-task-"+sessionID).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
