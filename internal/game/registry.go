/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// IDLength is the number of characters in a game id.
	IDLength = 6

	// idAlphabet omits characters that are easily confused when read aloud.
	idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxIDAttempts = 64
)

// Registry maps game ids to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	notifier Notifier
	assigner *Assigner
	now      func() time.Time
	newID    func() (string, error)
	log      *zap.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces GenerateID, for tests.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.newID = gen }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithAssigner(a *Assigner) Option {
	return func(r *Registry) { r.assigner = a }
}

func NewRegistry(notifier Notifier, opts ...Option) *Registry {
	if notifier == nil {
		notifier = nopNotifier{}
	}

	r := &Registry{
		sessions: make(map[string]*Session),
		notifier: notifier,
		assigner: NewAssigner(nil),
		now:      time.Now,
		newID:    GenerateID,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GenerateID returns a random game id drawn from idAlphabet.
func GenerateID() (string, error) {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	for i := range buf {
		buf[i] = idAlphabet[int(buf[i])%len(idAlphabet)]
	}

	return string(buf), nil
}

// NormalizeID canonicalizes a user-typed game id.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Create allocates a session under a fresh id with no players.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxIDAttempts {
		id, err := r.newID()
		if err != nil {
			return nil, err
		}
		id = NormalizeID(id)

		if _, taken := r.sessions[id]; taken {
			continue
		}

		s := newSession(id, r.assigner, r.notifier, r.now, r.log)
		r.sessions[id] = s

		r.log.Info("session created", zap.String("game", id), zap.Int("sessions", len(r.sessions)))

		return s, nil
	}

	return nil, newError(KindUnknown, "could not allocate a unique game id")
}

// Host creates a session and registers hostID in it as instructor.
func (r *Registry) Host(hostID, name string) (*Session, error) {
	s, err := r.Create()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	err = s.registerLocked(hostID, Registration{Role: RoleInstructor, Name: name})
	if err == nil {
		// The host learns the game id before anything else about it.
		s.outbox = append([]delivery{{to: hostID, ev: SessionCreated{GameID: s.id}}}, s.outbox...)
	} else {
		s.outbox = nil
	}
	s.unlock()

	if err != nil {
		r.remove(s.id)
		return nil, err
	}

	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	id = NormalizeID(id)

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, newError(KindNotFound, "game %s not found", id)
	}

	return s, nil
}

func (r *Registry) remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)

	return s
}

// Close terminates a session on its instructor's request.
func (r *Registry) Close(id, callerID string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = s.requireInstructorLocked(callerID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if r.remove(s.id) != nil {
		s.close("The instructor has closed this game.")
	}

	return nil
}

// EvictIdle closes every session whose last activity is older than
// timeout and returns their ids.
func (r *Registry) EvictIdle(timeout time.Duration) []string {
	now := r.now()

	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if now.Sub(s.LastActivity()) > timeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	var evicted []string
	for _, s := range stale {
		if r.remove(s.id) == nil {
			continue
		}
		s.close("This game was closed after a period of inactivity.")
		evicted = append(evicted, s.id)

		r.log.Info("session evicted", zap.String("game", s.id), zap.Duration("timeout", timeout))
	}

	return evicted
}

// ForfeitAbsent applies Session.ForfeitAbsent across every session.
func (r *Registry) ForfeitAbsent(grace time.Duration) int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	n := 0
	for _, s := range sessions {
		n += s.ForfeitAbsent(grace)
	}

	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
