package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/pkg/logger"
)

// redisStore keeps each document's records as one JSON string under <prefix>:<documentID>.
type redisStore struct {
	client *redis.Client
	prefix string
	cfg    *Config
}

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	options, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid dsn: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return &redisStore{
		client: client,
		prefix: fallbackString(cfg.Prefix, defaultPrefix),
		cfg:    cfg,
	}, nil
}

func (r *redisStore) Save(ctx context.Context, documentID string, records []persist.Record) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	data, err := persist.Marshal(records)
	if err != nil {
		return fmt.Errorf("redis: save %q: %w", documentID, err)
	}
	if err := r.client.Set(ctx, r.key(documentID), data, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis: save %q: %w", documentID, err)
	}
	logger.FromContext(ctx).Debug(
		"Saved document records",
		"document_id", documentID,
		"records", len(records),
		"ttl", r.cfg.TTL,
	)
	return nil
}

func (r *redisStore) Load(ctx context.Context, documentID string) ([]persist.Record, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.key(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: load %q: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load %q: %w", documentID, err)
	}
	records, err := persist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("redis: load %q: %w", documentID, err)
	}
	return records, nil
}

func (r *redisStore) Delete(ctx context.Context, documentID string) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(documentID)).Err(); err != nil {
		return fmt.Errorf("redis: delete %q: %w", documentID, err)
	}
	return nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func (r *redisStore) key(documentID string) string {
	return r.prefix + ":" + documentID
}
