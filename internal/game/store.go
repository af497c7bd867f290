package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrStoreUnavailable — хранилище недоступно. Ход прерывается без
// мутации сессии, ретраев на этом уровне нет.
var ErrStoreUnavailable = errors.New("game: session store unavailable")

// Store — контракт хранения сессий по ключу разговора.
// Реализации: in-memory (тесты) и Redis.
type Store interface {
	Load(ctx context.Context, key string) (Session, bool, error)
	Save(ctx context.Context, key string, s Session) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore хранит сериализованные снапшоты, чтобы путь load/save
// совпадал с Redis-реализацией байт-в-байт.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Session, bool, error) {
	s.mu.Lock()
	b, ok := s.m[key]
	s.mu.Unlock()
	if !ok {
		return Session{}, false, nil
	}

	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.m[key] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}
