package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soyeahso/querydesk/internal/domain"
)

const redisKeyPrefix = "querydesk:export:"

// RedisStore keeps artifacts in Redis hashes whose TTL equals the
// retention, so expiry needs no sweeping.
type RedisStore struct {
	client    *goredis.Client
	retention time.Duration
}

// RedisOptions configure NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Retention time.Duration
}

// NewRedisStore connects to Redis and verifies it answers.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, retention: opts.Retention}, nil
}

func (s *RedisStore) Put(ctx context.Context, a domain.ExportArtifact) error {
	key := redisKeyPrefix + a.ID
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key,
			"name", a.FileName,
			"created", a.CreatedAt.UTC().Format(time.RFC3339Nano),
			"data", a.Data,
		)
		p.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing export %s: %w", a.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.ExportArtifact, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && len(fields) == 0) {
		return domain.ExportArtifact{}, false, nil
	}
	if err != nil {
		return domain.ExportArtifact{}, false, fmt.Errorf("reading export %s: %w", id, err)
	}

	created, _ := time.Parse(time.RFC3339Nano, fields["created"])
	return domain.ExportArtifact{
		ID:        id,
		Data:      []byte(fields["data"]),
		FileName:  fields["name"],
		CreatedAt: created,
	}, true, nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
