package csrfguard

import (
	"sync"
	"time"
)

// TokenData is the server-side record backing a double-submit token. The
// optional session/user binding is fixed at issuance.
type TokenData struct {
	Token     string
	CreatedAt time.Time
	SessionID string
	UserID    string
}

type Store interface {
	Put(token string, data TokenData)
	Get(token string) (TokenData, bool)
	Delete(token string)
	DeleteWhere(match func(TokenData) bool) int
	CleanupExpired(maxAge time.Duration) int
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]TokenData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]TokenData),
	}
}

func (s *MemoryStore) Put(token string, data TokenData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[token] = data
}

func (s *MemoryStore) Get(token string) (TokenData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[token]
	return data, exists
}

func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, token)
}

func (s *MemoryStore) DeleteWhere(match func(TokenData) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for token, data := range s.data {
		if match(data) {
			delete(s.data, token)
			deleted++
		}
	}
	return deleted
}

func (s *MemoryStore) CleanupExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for token, data := range s.data {
		if data.CreatedAt.Before(cutoff) {
			delete(s.data, token)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
