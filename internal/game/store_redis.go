package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore кладёт снапшот сессии под ключ разговора с TTL.
// Save освежает TTL, истёкшие записи удаляет сам Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) key(conversationKey string) string {
	return fmt.Sprintf("aki:%s:session", conversationKey)
}

func (s *RedisStore) Load(ctx context.Context, key string) (Session, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return Session{}, false, fmt.Errorf("%w: corrupt snapshot: %v", ErrStoreUnavailable, err)
	}
	return sess, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(key), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
