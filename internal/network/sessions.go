package network

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one client paired with its upstream connection.
type Session struct {
	ID        string
	Client    *FrameConn
	Upstream  *FrameConn
	StartedAt time.Time
}

func newSession(client, upstream *FrameConn) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Client:    client,
		Upstream:  upstream,
		StartedAt: time.Now().UTC(),
	}
}

// Close closes both sides.
func (s *Session) Close() {
	s.Client.Close()
	s.Upstream.Close()
}

// SessionInfo is a JSON-friendly snapshot of a Session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Client       string    `json:"client"`
	Upstream     string    `json:"upstream"`
	Variant      string    `json:"variant"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Frames       int64     `json:"frames"`
	Bytes        int64     `json:"bytes"`
}

// Info snapshots the session. Frames and bytes count the client side, which
// sees every relayed frame once in each direction.
func (s *Session) Info() SessionInfo {
	frames, bytes := s.Client.Stats()
	last := s.Client.LastActivity()
	if up := s.Upstream.LastActivity(); up.After(last) {
		last = up
	}
	return SessionInfo{
		ID:           s.ID,
		Client:       s.Client.RemoteAddr().String(),
		Upstream:     s.Upstream.RemoteAddr().String(),
		Variant:      s.Client.Framer().Variant(),
		StartedAt:    s.StartedAt,
		LastActivity: last.UTC(),
		Frames:       frames,
		Bytes:        bytes,
	}
}

// SessionRegistry tracks live relay sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Register adds s.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	log.Debug().Str("session", s.ID).Msg("session registered")
}

// Unregister removes the session with id, if present.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with id.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List snapshots every session, oldest first.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll closes every session. Their pumps unregister them as they exit.
func (r *SessionRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.Close()
	}
}

// CleanStale closes sessions idle for longer than timeout and returns how
// many were closed.
func (r *SessionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for id, s := range r.sessions {
		info := s.Info()
		if info.LastActivity.Before(cutoff) {
			s.Close()
			cleaned++
			log.Warn().
				Str("session", id).
				Time("last_activity", info.LastActivity).
				Msg("closed stale session")
		}
	}
	return cleaned
}
