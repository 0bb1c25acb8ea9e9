package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	sessionID string
	stage     int
	outcome   string
}

type memRecorder struct {
	calls []recordedCall
}

func (m *memRecorder) RecordEngineCall(sessionID string, stage int, outcome string, message string, elapsed time.Duration) {
	m.calls = append(m.calls, recordedCall{sessionID: sessionID, stage: stage, outcome: outcome})
}

func TestService_SessionLifecycle(t *testing.T) {
	svc := NewService(&stubEngine{result: stubResult()}, nil, time.Hour, zerolog.Nop())

	sess := svc.CreateSession()
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, svc.Count())

	got, ok := svc.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	assert.True(t, svc.Close(sess.ID))
	assert.False(t, svc.Close(sess.ID))
	assert.Equal(t, 0, svc.Count())
}

func TestService_SubmitRecordsEngineCall(t *testing.T) {
	recorder := &memRecorder{}
	svc := NewService(&stubEngine{result: stubResult()}, recorder, time.Hour, zerolog.Nop())
	sess := svc.CreateSession()

	_, err := svc.Submit(context.Background(), sess, validForm())
	require.NoError(t, err)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, sess.ID, recorder.calls[0].sessionID)
	assert.Equal(t, 1, recorder.calls[0].stage)
	assert.Equal(t, "success", recorder.calls[0].outcome)
}

func TestService_SubmitRecordsFailures(t *testing.T) {
	recorder := &memRecorder{}
	svc := NewService(&stubEngine{err: &EngineError{Message: "nope"}}, recorder, time.Hour, zerolog.Nop())
	sess := svc.CreateSession()

	_, err := svc.Submit(context.Background(), sess, validForm())
	require.Error(t, err)

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "error", recorder.calls[0].outcome)
}

func TestService_ValidationFailureSkipsEngineAndRecorder(t *testing.T) {
	recorder := &memRecorder{}
	engine := &stubEngine{result: stubResult()}
	svc := NewService(engine, recorder, time.Hour, zerolog.Nop())
	sess := svc.CreateSession()

	form := validForm()
	form.CurrentPortfolio = 0
	_, err := svc.Submit(context.Background(), sess, form)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, engine.calls)
	assert.Empty(t, recorder.calls)
}

func TestService_PruneDropsIdleSessions(t *testing.T) {
	svc := NewService(&stubEngine{result: stubResult()}, nil, time.Minute, zerolog.Nop())

	stale := svc.CreateSession()
	stale.LastActive = time.Now().Add(-2 * time.Minute)
	fresh := svc.CreateSession()

	removed := svc.Prune()
	assert.Equal(t, 1, removed)

	_, ok := svc.Get(stale.ID)
	assert.False(t, ok)
	_, ok = svc.Get(fresh.ID)
	assert.True(t, ok)
}

// Pruning runs on the scheduler goroutine while requests keep touching the
// session, so the two must be able to interleave safely.
func TestService_PruneConcurrentWithActivity(t *testing.T) {
	svc := NewService(&stubEngine{result: stubResult()}, nil, time.Minute, zerolog.Nop())
	sess := svc.CreateSession()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			svc.Prune()
		}
	}()

	for i := 0; i < 500; i++ {
		_ = svc.WithSession(sess, func(*Sequencer) error { return nil })
	}
	<-done

	// Continuously touched, so never pruned.
	_, ok := svc.Get(sess.ID)
	assert.True(t, ok)
}

func TestPruneJob(t *testing.T) {
	svc := NewService(&stubEngine{result: stubResult()}, nil, time.Minute, zerolog.Nop())
	stale := svc.CreateSession()
	stale.LastActive = time.Now().Add(-time.Hour)

	job := NewPruneJob(svc)
	assert.Equal(t, "simulation_session_prune", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 0, svc.Count())
}
