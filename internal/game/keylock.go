package game

import "sync"

// keyedLocks сериализует события одного разговора: второй ход по тому же
// ключу не начнётся, пока первый не сохранил или не отбросил сессию.
// Разные ключи независимы. Записи refcount-ятся, чтобы map не рос вечно.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*keyLock)}
}

// lock блокирует ключ и возвращает функцию разблокировки.
func (l *keyedLocks) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
