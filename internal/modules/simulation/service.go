package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokenfolio/restager/internal/events"
)

// CallRecorder receives the outcome of every engine round trip, for the
// audit log. Implementations must not block; failures are logged and
// swallowed upstream.
type CallRecorder interface {
	RecordEngineCall(sessionID string, stage int, outcome string, message string, elapsed time.Duration)
}

// Session is one user's simulator, alive for the lifetime of their visit.
// Nothing about it is persisted.
type Session struct {
	ID         string
	Sequencer  *Sequencer
	CreatedAt  time.Time
	LastActive time.Time

	mu sync.Mutex
}

func (s *Session) touch() {
	s.LastActive = time.Now()
}

// Service manages simulator sessions: creation, lookup, expiry and the
// engine round trip. Sessions are in-memory only and pruned after the
// configured idle TTL.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	engine   Suggester
	recorder CallRecorder
	events   *events.Manager
	ttl      time.Duration
	log      zerolog.Logger
}

// NewService creates a session service. recorder may be nil.
func NewService(engine Suggester, recorder CallRecorder, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		engine:   engine,
		recorder: recorder,
		events:   events.NewManager(log),
		ttl:      ttl,
		log:      log.With().Str("component", "simulation_service").Logger(),
	}
}

// CreateSession starts a fresh simulation at stage 1.
func (s *Service) CreateSession() *Session {
	sess := &Session{
		ID:         uuid.New().String(),
		Sequencer:  NewSequencer(s.engine, s.log),
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.events.Emit(events.SessionCreated, "simulation", map[string]interface{}{
		"session_id": sess.ID,
	})
	return sess
}

// Get returns a session by id.
func (s *Service) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Close removes a session (the user is done with the simulator).
func (s *Service) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.events.Emit(events.SessionClosed, "simulation", map[string]interface{}{
		"session_id": id,
	})
	return true
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than the TTL and returns how many
// were removed. LastActive is written under the per-session lock, so it is
// read under that lock too; the service lock alone does not exclude touch.
func (s *Service) Prune() int {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.LastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.events.Emit(events.SessionsPruned, "simulation", map[string]interface{}{
			"removed":   removed,
			"remaining": len(s.sessions),
		})
	}
	return removed
}

// Submit runs the engine round trip for a session's active stage. The
// session lock is released while the request is outstanding; the stage's
// in-flight flag rejects a concurrent submit for the same stage in the
// meantime.
func (s *Service) Submit(ctx context.Context, sess *Session, form FormState) (*AllocationResult, error) {
	sess.mu.Lock()
	sess.touch()
	stageIndex := sess.Sequencer.ActiveStage().Index
	req, err := sess.Sequencer.PrepareSubmit(form)
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, engineErr := s.engine.Suggest(ctx, req)
	s.record(sess.ID, stageIndex, engineErr, time.Since(start))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	resolved, err := sess.Sequencer.ResolveSubmit(result, engineErr)
	if err == nil {
		s.events.Emit(events.StageSubmitted, "simulation", map[string]interface{}{
			"session_id": sess.ID,
			"stage":      stageIndex,
		})
	}
	return resolved, err
}

func (s *Service) record(sessionID string, stage int, engineErr error, elapsed time.Duration) {
	outcome := "success"
	message := ""
	if engineErr != nil {
		outcome = "error"
		message = engineErr.Error()
		s.events.EmitError("simulation", engineErr, map[string]interface{}{
			"session_id": sessionID,
			"stage":      stage,
		})
	}
	if s.recorder != nil {
		s.recorder.RecordEngineCall(sessionID, stage, outcome, message, elapsed)
	}
}

// Proceed closes out the session's active stage and opens the next one.
func (s *Service) Proceed(sess *Session) (*Stage, error) {
	var next *Stage
	err := s.WithSession(sess, func(seq *Sequencer) error {
		var err error
		next, err = seq.Proceed()
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.StageAdvanced, "simulation", map[string]interface{}{
		"session_id":   sess.ID,
		"stage":        next.Index,
		"seed_capital": next.SeedCapital,
	})
	return next, nil
}

// WithSession runs fn while holding the session's lock, bumping its
// last-active timestamp. All non-submit mutations go through here.
func (s *Service) WithSession(sess *Session, fn func(*Sequencer) error) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touch()
	return fn(sess.Sequencer)
}

// PruneJob adapts Service.Prune to the scheduler's job interface.
type PruneJob struct {
	service *Service
}

// NewPruneJob creates the recurring session-expiry job.
func NewPruneJob(service *Service) *PruneJob {
	return &PruneJob{service: service}
}

// Name identifies the job in scheduler logs.
func (j *PruneJob) Name() string { return "simulation_session_prune" }

// Run prunes idle sessions.
func (j *PruneJob) Run() error {
	j.service.Prune()
	return nil
}
