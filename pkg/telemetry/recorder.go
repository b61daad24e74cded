package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// messageRecord is the in-memory accumulator entry for one logged message.
type messageRecord struct {
	Role           string
	Content        string
	TokenCount     int
	ResponseTimeMs *int
	Cost           float64
}

// runState tracks one active run between StartRun and CompleteRun/LogError.
type runState struct {
	runID      string
	userID     string
	startedAt  time.Time
	messages   []messageRecord
	errorCount int
	retryCount int
}

// Recorder is the dual-sink conversation telemetry facade. The trace sink is
// primary: a StartRun failure there propagates. The relational store is
// best-effort: its failures are logged and swallowed so the chat response
// never depends on the database being reachable.
//
// A session holds at most one active run; starting again while one is active
// reuses its run id.
type Recorder struct {
	trace TraceSink
	store *RunStore

	// start collapses concurrent StartRun calls for the same session into a
	// single open; gin serves each request on its own goroutine.
	start singleflight.Group

	mu     sync.Mutex
	active map[string]*runState
}

// NewRecorder wires the two sinks. store may be nil when the process runs
// without a relational backend; all store writes are then skipped.
func NewRecorder(trace TraceSink, store *RunStore) *Recorder {
	if trace == nil {
		trace = NoopTraceSink{}
	}
	return &Recorder{
		trace:  trace,
		store:  store,
		active: make(map[string]*runState),
	}
}

// StartRun opens (or reuses) the run for a session and returns its id.
// Concurrent starts for the same session share one open; every caller gets
// the same run id.
func (r *Recorder) StartRun(ctx context.Context, sessionID, userID string, inputs map[string]any) (string, error) {
	runID, err, _ := r.start.Do(sessionID, func() (any, error) {
		return r.openRun(ctx, sessionID, userID, inputs)
	})
	if err != nil {
		return "", err
	}
	return runID.(string), nil
}

func (r *Recorder) openRun(ctx context.Context, sessionID, userID string, inputs map[string]any) (string, error) {
	r.mu.Lock()
	if state, ok := r.active[sessionID]; ok {
		r.mu.Unlock()
		return state.runID, nil
	}
	r.mu.Unlock()

	// A previous process may have left an active row behind; adopt it rather
	// than opening a second active run for the session.
	if r.store != nil {
		existing, err := r.store.ActiveRun(ctx, sessionID)
		if err != nil {
			slog.Warn("Active run lookup failed", "sessionId", sessionID, "error", err)
		} else if existing != nil {
			r.mu.Lock()
			state := &runState{runID: existing.ID, userID: existing.UserID, startedAt: existing.StartedAt}
			r.active[sessionID] = state
			r.mu.Unlock()
			return existing.ID, nil
		}
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()

	err := r.trace.StartRun(ctx, &TraceRun{
		ID:     runID,
		Name:   "conversation",
		Inputs: inputs,
		Metadata: map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start trace run: %w", err)
	}

	if r.store != nil {
		storeErr := r.store.CreateRun(ctx, &ConversationRun{
			ID:        runID,
			SessionID: sessionID,
			UserID:    userID,
			Status:    RunActive,
			StartedAt: startedAt,
		})
		if storeErr != nil {
			slog.Warn("Run row insert failed, continuing without relational record",
				"runId", runID, "error", storeErr)
		}
	}

	r.mu.Lock()
	r.active[sessionID] = &runState{runID: runID, userID: userID, startedAt: startedAt}
	r.mu.Unlock()

	return runID, nil
}

// LogMessage appends a message to the run's accumulator and persists it to
// the relational sink. There is no active run to fail loudly against, so an
// unknown session is logged and ignored.
func (r *Recorder) LogMessage(ctx context.Context, sessionID, role, content string, tokenCount int, responseTimeMs *int, cost float64) {
	r.mu.Lock()
	state, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		slog.Warn("Message logged for session with no active run", "sessionId", sessionID)
		return
	}
	state.messages = append(state.messages, messageRecord{
		Role:           role,
		Content:        content,
		TokenCount:     tokenCount,
		ResponseTimeMs: responseTimeMs,
		Cost:           cost,
	})
	runID := state.runID
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	err := r.store.InsertMessage(ctx, &ConversationMessage{
		RunID:          runID,
		Role:           role,
		Content:        content,
		TokenCount:     tokenCount,
		ResponseTimeMs: responseTimeMs,
		Cost:           cost,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Message row insert failed", "runId", runID, "role", role, "error", err)
	}
}

// RecordRetry counts a client-reported retry toward the run's analytics.
func (r *Recorder) RecordRetry(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.active[sessionID]; ok {
		state.retryCount++
	}
}

// CompleteRun finalizes the run in both sinks and derives analytics. The
// trace sink is updated even when the relational sink is unreachable.
func (r *Recorder) CompleteRun(ctx context.Context, sessionID string, outputs map[string]any, satisfactionScore *float64) {
	state := r.takeRun(sessionID)
	if state == nil {
		slog.Warn("Completion for session with no active run", "sessionId", sessionID)
		return
	}

	if err := r.trace.EndRun(ctx, state.runID, outputs, nil); err != nil {
		slog.Warn("Trace run completion failed", "runId", state.runID, "error", err)
	}

	if r.store == nil {
		return
	}

	run := r.summarize(state)
	run.SessionID = sessionID
	run.Status = RunCompleted
	run.SatisfactionScore = satisfactionScore
	now := time.Now().UTC()
	run.CompletedAt = &now

	if err := r.store.CompleteRun(ctx, run); err != nil {
		slog.Warn("Run completion update failed", "runId", state.runID, "error", err)
		return
	}

	analytics := deriveAnalytics(run, state.messages, state.errorCount, state.retryCount)
	analytics.CreatedAt = now
	if err := r.store.InsertAnalytics(ctx, analytics); err != nil {
		slog.Warn("Analytics insert failed", "runId", state.runID, "error", err)
	}
}

// LogError marks the run failed in both sinks.
func (r *Recorder) LogError(ctx context.Context, sessionID string, runErr error, metadata map[string]any) {
	state := r.takeRun(sessionID)
	if state == nil {
		slog.Warn("Error logged for session with no active run",
			"sessionId", sessionID, "error", runErr)
		return
	}

	if err := r.trace.EndRun(ctx, state.runID, metadata, runErr); err != nil {
		slog.Warn("Trace run error update failed", "runId", state.runID, "error", err)
	}

	if r.store == nil {
		return
	}
	if err := r.store.MarkRunError(ctx, state.runID, runErr.Error()); err != nil {
		slog.Warn("Run error update failed", "runId", state.runID, "error", err)
	}
}

// takeRun removes and returns the session's active run state.
func (r *Recorder) takeRun(sessionID string) *runState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.active[sessionID]
	if !ok {
		return nil
	}
	delete(r.active, sessionID)
	return state
}

// summarize folds the accumulator into the run row's aggregate fields.
func (r *Recorder) summarize(state *runState) *ConversationRun {
	run := &ConversationRun{
		ID:            state.runID,
		UserID:        state.userID,
		StartedAt:     state.startedAt,
		TotalMessages: len(state.messages),
	}

	timed := 0
	timedTotal := 0
	for _, m := range state.messages {
		run.TotalTokens += m.TokenCount
		run.TotalCost += m.Cost
		if m.ResponseTimeMs != nil {
			timed++
			timedTotal += *m.ResponseTimeMs
		}
	}
	if timed > 0 {
		run.AverageResponseTime = float64(timedTotal) / float64(timed)
	}
	return run
}
