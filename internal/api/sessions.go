package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stem-tutor/internal/quiz"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "tutor_session"
)

// TutorSession is the interaction state of one user. History and bookmarks are
// shared by the whole process; only the quiz belongs to a session.
type TutorSession struct {
	ID string

	mu         sync.Mutex
	quiz       *quiz.Session
	materialID int64
	createdAt  time.Time
	lastSeen   time.Time
}

// Lock serialises the actions of one user.
func (s *TutorSession) Lock()   { s.mu.Lock() }
func (s *TutorSession) Unlock() { s.mu.Unlock() }

// SessionManager hands out sessions keyed by an opaque id carried in a header
// or cookie. Sessions idle for longer than the configured timeout are dropped.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*TutorSession
	idle     time.Duration
	now      func() time.Time
}

func NewSessionManager(idle time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*TutorSession),
		idle:     idle,
		now:      time.Now,
	}
}

// Resolve returns the caller's session, creating one when the request carries
// no known id. The id is echoed back in both the header and the cookie.
func (m *SessionManager) Resolve(w http.ResponseWriter, r *http.Request) *TutorSession {
	m.Prune()

	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if id == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			id = c.Value
		}
	}

	sess, ok := m.touch(id)
	if !ok {
		sess = m.create()
	}

	w.Header().Set(SessionHeader, sess.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (m *SessionManager) Get(id string) (*TutorSession, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	return sess, ok
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Prune drops idle sessions and reports how many were removed.
func (m *SessionManager) Prune() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *SessionManager) touch(id string) (*TutorSession, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if ok {
		sess.lastSeen = m.now()
	}
	return sess, ok
}

func (m *SessionManager) create() *TutorSession {
	now := m.now()
	sess := &TutorSession{
		ID:        uuid.NewString(),
		createdAt: now,
		lastSeen:  now,
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}
