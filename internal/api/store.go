package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/llamacore/internal/metrics"
	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/pkg/ckpt"
)

// Session is one independent sequence: its own engine and run state over the
// server's shared checkpoint. mu serialises requests for the session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.Mutex
	engine *model.Engine
	next   int
}

// SessionStore owns every live session. All engines borrow the same mapped
// checkpoint.
type SessionStore struct {
	file *ckpt.File
	opts model.Options
	max  int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore(file *ckpt.File, opts model.Options, maxSessions int) *SessionStore {
	return &SessionStore{
		file:     file,
		opts:     opts,
		max:      maxSessions,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new engine. It fails with ErrAtCapacity when the store
// is full and with the engine's *model.AllocationError when the run state
// cannot be allocated.
func (s *SessionStore) Create(now time.Time) (*Session, error) {
	s.mu.Lock()
	if s.max > 0 && len(s.sessions) >= s.max {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrAtCapacity, s.max)
	}
	// Reserve the slot before the allocation so concurrent creates cannot
	// overshoot the limit.
	id := "sess_" + uuid.NewString()
	s.sessions[id] = nil
	s.mu.Unlock()

	e, err := model.New(s.file, s.opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.sessions, id)
		return nil, err
	}
	sess := &Session{ID: id, CreatedAt: now, engine: e}
	s.sessions[id] = sess
	metrics.ActiveSessions.Inc()
	return sess, nil
}

func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Delete removes the session and closes its engine once any in-flight
// request on it has finished.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.engine.Close()
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close closes every session.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Delete(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward runs token on the session. A nil pos continues from the session's
// next position.
func (sess *Session) Forward(token int, pos *int) (int, []float32, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	p := sess.next
	if pos != nil {
		p = *pos
	}
	logits, err := sess.engine.Forward(token, p)
	if err != nil {
		return p, nil, err
	}
	sess.next = p + 1
	return p, append([]float32(nil), logits...), nil
}

// Reset starts a new sequence on the session.
func (sess *Session) Reset() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.engine.Reset()
	sess.next = 0
}

func (sess *Session) info() SessionResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return SessionResponse{
		ID:        sess.ID,
		Object:    "session",
		CreatedAt: sess.CreatedAt.Unix(),
		Pos:       sess.next,
		SeqLen:    sess.engine.Config().SeqLen,
	}
}
