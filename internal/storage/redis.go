package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// RedisStore keeps the state under the bare identity key, the context under
// "ctx:{identity}" and menu payloads under "menu:{key}".
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromAddr dials a redis server
func NewRedisStoreFromAddr(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

type redisMenu struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt float64         `json:"created_at"`
}

func (r *RedisStore) GetState(ctx context.Context, id models.UserIdentity) (string, bool, error) {
	state, err := r.rdb.Get(ctx, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get state", err)
	}
	return state, state != "", nil
}

func (r *RedisStore) SetState(ctx context.Context, id models.UserIdentity, state models.SessionState) error {
	if err := r.rdb.Set(ctx, string(id), string(state), 0).Err(); err != nil {
		return unavailable("set state", err)
	}
	return nil
}

func (r *RedisStore) GetContext(ctx context.Context, id models.UserIdentity) (*models.SessionContext, error) {
	raw, err := r.rdb.Get(ctx, "ctx:"+string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return &models.SessionContext{}, nil
	}
	if err != nil {
		return nil, unavailable("get context", err)
	}
	return decodeContext(id, raw), nil
}

func (r *RedisStore) SetContext(ctx context.Context, id models.UserIdentity, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, "ctx:"+string(id), raw, 0).Err(); err != nil {
		return unavailable("set context", err)
	}
	return nil
}

func (r *RedisStore) SaveSession(ctx context.Context, id models.UserIdentity, state models.SessionState, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "ctx:"+string(id), raw, 0)
		pipe.Set(ctx, string(id), string(state), 0)
		return nil
	})
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (r *RedisStore) GetMenu(ctx context.Context, key string) (*models.MenuCacheEntry, error) {
	raw, err := r.rdb.Get(ctx, "menu:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get menu", err)
	}

	var cached redisMenu
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A broken entry is a cache miss; the next PutMenu overwrites it
		return nil, nil
	}
	sec := int64(cached.CreatedAt)
	nsec := int64((cached.CreatedAt - float64(sec)) * float64(time.Second))
	return &models.MenuCacheEntry{
		Key:       key,
		Payload:   []byte(cached.Payload),
		CreatedAt: time.Unix(sec, nsec),
	}, nil
}

func (r *RedisStore) PutMenu(ctx context.Context, entry *models.MenuCacheEntry) error {
	raw, err := json.Marshal(redisMenu{
		Payload:   json.RawMessage(entry.Payload),
		CreatedAt: float64(entry.CreatedAt.UnixNano()) / float64(time.Second),
	})
	if err != nil {
		return fmt.Errorf("encode menu: %w", err)
	}
	if err := r.rdb.Set(ctx, "menu:"+entry.Key, raw, 0).Err(); err != nil {
		return unavailable("put menu", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
