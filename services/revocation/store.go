package revocation

import (
	"container/heap"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

// RevokedToken is the persistence shape for a blacklisted JTI. Revocations
// outlive restarts only when a database is attached.
type RevokedToken struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	JTI       string    `json:"jti" gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

type Store interface {
	Revoke(jti string, expiresAt time.Time) error

	IsRevoked(jti string) (bool, error)

	CleanupExpired() (int, error)

	LoadFromDatabase() error

	SaveToDatabase() error
}

// evictionHeap orders blacklisted JTIs by eviction time so the sweep never
// scans the whole map. The map stays authoritative; heap entries for JTIs
// already removed are skipped on pop.
type evictionHeap []evictionEntry

type evictionEntry struct {
	jti       string
	expiresAt time.Time
}

func (h evictionHeap) Len() int            { return len(h) }
func (h evictionHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h evictionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *evictionHeap) Push(x any)         { *h = append(*h, x.(evictionEntry)) }
func (h *evictionHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
	order  evictionHeap
	db     *gorm.DB
	logger *logging.Service
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]time.Time),
	}
}

func NewMemoryStoreWithDB(db *gorm.DB, logger *logging.Service) *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]time.Time),
		db:     db,
		logger: logger,
	}
}

func (m *MemoryStore) Revoke(jti string, expiresAt time.Time) error {
	m.mu.Lock()
	m.tokens[jti] = expiresAt
	heap.Push(&m.order, evictionEntry{jti: jti, expiresAt: expiresAt})
	total := len(m.tokens)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug("token blacklisted",
			zap.String("jti", jti),
			zap.Time("expires_at", expiresAt),
			zap.Int("total_blacklisted", total))
	}

	if m.db != nil {
		record := RevokedToken{JTI: jti, ExpiresAt: expiresAt}
		if err := m.db.Create(&record).Error; err != nil {
			if m.logger != nil {
				m.logger.Error("failed to persist revoked token",
					zap.String("jti", jti),
					zap.Error(err))
			}
			return err
		}
	}

	return nil
}

func (m *MemoryStore) IsRevoked(jti string) (bool, error) {
	m.mu.RLock()
	expiresAt, exists := m.tokens[jti]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	// A blacklist entry past its own expiry is dead weight: the token it
	// covered independently fails the expiry check from then on.
	if time.Now().After(expiresAt) {
		m.mu.Lock()
		delete(m.tokens, jti)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}

func (m *MemoryStore) CleanupExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	evicted := 0

	for m.order.Len() > 0 {
		next := m.order[0]
		if next.expiresAt.After(now) {
			break
		}
		heap.Pop(&m.order)

		// Only evict when the map still agrees; a stale heap entry means the
		// JTI was re-revoked with a later expiry.
		if current, ok := m.tokens[next.jti]; ok && !current.After(now) {
			delete(m.tokens, next.jti)
			evicted++
		}
	}

	if m.logger != nil && evicted > 0 {
		m.logger.Debug("evicted expired blacklist entries",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(m.tokens)))
	}

	return evicted, nil
}

func (m *MemoryStore) LoadFromDatabase() error {
	if m.db == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	var records []RevokedToken
	if err := m.db.Where("expires_at > ?", now).Find(&records).Error; err != nil {
		if m.logger != nil {
			m.logger.Error("failed to load revoked tokens from database", zap.Error(err))
		}
		return err
	}

	for _, record := range records {
		m.tokens[record.JTI] = record.ExpiresAt
		heap.Push(&m.order, evictionEntry{jti: record.JTI, expiresAt: record.ExpiresAt})
	}

	if m.logger != nil {
		m.logger.Info("revoked tokens loaded from database",
			zap.Int("loaded", len(records)))
	}

	result := m.db.Where("expires_at <= ?", now).Delete(&RevokedToken{})
	if result.Error != nil {
		if m.logger != nil {
			m.logger.Error("failed to prune expired tokens from database", zap.Error(result.Error))
		}
		return result.Error
	}

	return nil
}

func (m *MemoryStore) SaveToDatabase() error {
	if m.db == nil {
		return nil
	}

	m.mu.RLock()
	now := time.Now()
	var records []RevokedToken
	for jti, expiresAt := range m.tokens {
		if now.Before(expiresAt) {
			records = append(records, RevokedToken{JTI: jti, ExpiresAt: expiresAt})
		}
	}
	m.mu.RUnlock()

	tx := m.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Where("1=1").Delete(&RevokedToken{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	for i := range records {
		if err := tx.Create(&records[i]).Error; err != nil {
			tx.Rollback()
			if m.logger != nil {
				m.logger.Error("failed to save revoked token",
					zap.String("jti", records[i].JTI),
					zap.Error(err))
			}
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.Info("revoked tokens saved to database",
			zap.Int("saved", len(records)))
	}

	return nil
}
