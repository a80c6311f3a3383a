// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/auctionserver/network"
	"golang.org/x/time/rate"
)

type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	LastActive time.Time
	userID     int64
	name       string
	loggedIn   bool
	limiter    *rate.Limiter
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
	}
}

// SetRateLimit installs a token bucket for inbound packets. A zero rps disables limiting.
func (s *Session) SetRateLimit(rps float64, burst int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if rps <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow reports whether another inbound packet may be processed now.
func (s *Session) Allow() bool {
	s.mutex.RLock()
	limiter := s.limiter
	s.mutex.RUnlock()
	return limiter == nil || limiter.Allow()
}

// Login binds a player identity to the session.
func (s *Session) Login(userID int64, name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.userID = userID
	s.name = name
	s.loggedIn = true
}

// Identity returns the bound player, ok is false before Login.
func (s *Session) Identity() (userID int64, name string, ok bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.userID, s.name, s.loggedIn
}

func (s *Session) UserID() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.userID
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// GetByUserID returns every logged-in session bound to userID.
func (m *Manager) GetByUserID(userID int64) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if id, _, ok := session.Identity(); ok && id == userID {
			result = append(result, session)
		}
	}
	return result
}

// CloseAll closes every connection; read loops then remove their sessions.
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mutex.RUnlock()

	for _, session := range sessions {
		session.Close()
	}
}
