package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
)

// Registry errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session belongs to another user")
)

// DefinitionSource fetches the exam a session runs against.
type DefinitionSource interface {
	Get(ctx context.Context, examID string) (*engine.ExamDefinition, error)
}

// AccessChecker gates whether a user may open a session at all.
type AccessChecker interface {
	Check(ctx context.Context, def *engine.ExamDefinition, userID string) error
}

// SweepPolicy controls eviction of sessions nobody is driving any more.
type SweepPolicy struct {
	// Retention keeps finished or abandoned sessions readable for this long.
	Retention time.Duration
	// IdleTimeout abandons sessions that never started their timer.
	IdleTimeout time.Duration
}

// AttemptService owns the live sessions of this process. There is at most
// one non-terminal session per exam and user.
type AttemptService struct {
	mu       sync.Mutex
	sessions map[string]*engine.Session
	live     map[string]string // exam/user -> session id

	catalog DefinitionSource
	access  AccessChecker
	policy  SweepPolicy
	opts    []engine.Option
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService. opts are applied to every session.
func NewAttemptService(catalog DefinitionSource, access AccessChecker, policy SweepPolicy, log zerolog.Logger, opts ...engine.Option) *AttemptService {
	l := log.With().Str("component", "attempt_service").Logger()
	return &AttemptService{
		sessions: make(map[string]*engine.Session),
		live:     make(map[string]string),
		catalog:  catalog,
		access:   access,
		policy:   policy,
		opts:     append([]engine.Option{engine.WithLogger(l)}, opts...),
		log:      l,
	}
}

func liveKey(examID, userID string) string { return examID + "/" + userID }

// Start opens a session for identity on examID, or returns the user's live one.
// created is false when an existing session was returned.
func (s *AttemptService) Start(ctx context.Context, examID string, identity engine.Identity) (sess *engine.Session, created bool, err error) {
	if existing := s.liveSession(examID, identity.ID); existing != nil {
		return existing, false, nil
	}

	def, err := s.catalog.Get(ctx, examID)
	if err != nil {
		return nil, false, err
	}
	if err := s.access.Check(ctx, def, identity.ID); err != nil {
		return nil, false, err
	}

	sess, err = engine.NewSession(def, identity, s.opts...)
	if err != nil {
		return nil, false, fmt.Errorf("new session: %w", err)
	}

	s.mu.Lock()
	key := liveKey(def.ID, identity.ID)
	if id, ok := s.live[key]; ok {
		if other := s.sessions[id]; other != nil && !other.Phase().Terminal() {
			s.mu.Unlock()
			sess.Close()
			return other, false, nil
		}
	}
	s.sessions[sess.ID()] = sess
	s.live[key] = sess.ID()
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", sess.ID()).
		Str("exam_id", def.ID).
		Str("user_id", identity.ID).
		Msg("Session started")
	return sess, true, nil
}

func (s *AttemptService) liveSession(examID, userID string) *engine.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.live[liveKey(examID, userID)]
	if !ok {
		return nil
	}
	sess := s.sessions[id]
	if sess == nil || sess.Phase().Terminal() {
		return nil
	}
	return sess
}

// Get returns session sessionID if it belongs to userID.
func (s *AttemptService) Get(sessionID, userID string) (*engine.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Identity().ID != userID {
		return nil, ErrSessionForbidden
	}
	return sess, nil
}

// Retake replaces a finished or abandoned session with a fresh one for the
// same exam. The exam is re-fetched and access re-checked as in Start. If the
// user already has a live session for the exam, that session is returned and
// created is false.
func (s *AttemptService) Retake(ctx context.Context, sessionID string, identity engine.Identity) (sess *engine.Session, created bool, err error) {
	old, err := s.Get(sessionID, identity.ID)
	if err != nil {
		return nil, false, err
	}
	if !old.Phase().Terminal() {
		return nil, false, engine.ErrNotRetakeable
	}

	sess, created, err = s.Start(ctx, old.Exam().ID, identity)
	if err != nil {
		return nil, false, err
	}

	s.remove(old)
	old.Close()

	s.log.Info().
		Str("previous_session_id", old.ID()).
		Str("session_id", sess.ID()).
		Bool("created", created).
		Msg("Session retaken")
	return sess, created, nil
}

// Discard closes and forgets a session without scoring it.
func (s *AttemptService) Discard(sessionID, userID string) error {
	sess, err := s.Get(sessionID, userID)
	if err != nil {
		return err
	}
	s.remove(sess)
	sess.Close()
	return nil
}

// Sweep evicts stale sessions and returns how many were removed.
// Sessions whose timer is running are never evicted; expiry finishes them.
func (s *AttemptService) Sweep(now time.Time) int {
	s.mu.Lock()
	var stale []*engine.Session
	for _, sess := range s.sessions {
		idle := now.Sub(sess.UpdatedAt())
		switch phase := sess.Phase(); {
		case phase.Terminal():
			if idle >= s.policy.Retention {
				stale = append(stale, sess)
			}
		case phase == engine.PhaseInProgress:
		default:
			if s.policy.IdleTimeout > 0 && idle >= s.policy.IdleTimeout {
				stale = append(stale, sess)
			}
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, sess := range stale {
		// A session begun since the scan keeps running.
		if !sess.Phase().Terminal() && !sess.AbandonIfNotStarted() {
			continue
		}
		s.remove(sess)
		sess.Close()
		evicted++
	}

	if evicted > 0 {
		s.log.Info().Int("evicted", evicted).Msg("Swept stale sessions")
	}
	return evicted
}

// Count returns the number of sessions held.
func (s *AttemptService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session. Running timers stop; nothing is scored.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	all := make([]*engine.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*engine.Session)
	s.live = make(map[string]string)
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}

func (s *AttemptService) remove(sess *engine.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID())
	key := liveKey(sess.Exam().ID, sess.Identity().ID)
	if s.live[key] == sess.ID() {
		delete(s.live, key)
	}
}
