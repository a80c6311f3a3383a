package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/auctionserver/models"
)

// MemoryStore is a PlayerStore for development and tests.
type MemoryStore struct {
	players map[int64]models.PlayerData
	tokens  map[string]int64
	mutex   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[int64]models.PlayerData),
		tokens:  make(map[string]int64),
	}
}

func (m *MemoryStore) LoadPlayer(_ context.Context, userID int64) (*models.PlayerData, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	p, ok := m.players[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &p, nil
}

func (m *MemoryStore) FindUserIDByToken(_ context.Context, token string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.tokens[token]
	if !ok {
		return 0, ErrRecordNotFound
	}
	return id, nil
}

func (m *MemoryStore) SavePlayer(_ context.Context, player *models.PlayerData, token string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	p := *player
	if existing, ok := m.players[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.players[p.UserID] = p
	if token != "" {
		m.tokens[token] = p.UserID
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
