package core

import (
	"context"
	"errors"
	"maps"

	"github.com/hupe1980/codepipe/logging"
	"github.com/hupe1980/codepipe/metrics"
)

var (
	errSessionStoreMissing  = errors.New("session store not configured")
	errArtifactStoreMissing = errors.New("artifact store not configured")
)

// RunContextOptions holds optional RunContext collaborators.
type RunContextOptions struct {
	Logger        logging.Logger
	Metrics       metrics.Recorder
	MaxModelCalls int
	ArtifactStore ArtifactStore
}

// RunContext carries the mutable, per-run execution scope handed to a
// Worker's Run method. It aggregates:
//   - the ambient cancellation Context
//   - identifiers (session key, RunID, current worker)
//   - the user's input Content
//   - emission / resume coordination channels
//   - the backing session and artifact stores
//   - a working Session snapshot and pending StateDelta / Artifacts
//     (artifact id -> saved byte length)
//
// State mutations made via SetState accumulate in StateDelta until the next
// EmitEvent attaches them to an event; the runner applies the delta when it
// persists that event.
type RunContext struct {
	Context       context.Context
	Key           SessionKey
	RunID         string
	Worker        WorkerInfo
	UserContent   Content
	Emit          chan<- Event
	Resume        <-chan struct{}
	SessionStore  SessionStore
	ArtifactStore ArtifactStore
	Limiter       *ModelLimiter
	Metrics       metrics.Recorder
	Session       *Session
	StateDelta    map[string]any
	Artifacts     map[string]int
	Branch        string

	*loggerAdapter
}

// NewRunContext constructs a RunContext with empty state and artifact
// deltas.
func NewRunContext(
	ctx context.Context,
	key SessionKey,
	runID string,
	worker WorkerInfo,
	userContent Content,
	emit chan<- Event,
	resume <-chan struct{},
	sess *Session,
	sessionStore SessionStore,
	optFns ...func(o *RunContextOptions),
) *RunContext {
	opts := RunContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NoOp{}
	}

	return &RunContext{
		Context:       ctx,
		Key:           key,
		RunID:         runID,
		Worker:        worker,
		UserContent:   userContent,
		Emit:          emit,
		Resume:        resume,
		Session:       sess,
		SessionStore:  sessionStore,
		ArtifactStore: opts.ArtifactStore,
		Limiter:       NewModelLimiter(opts.MaxModelCalls),
		Metrics:       recorder,
		StateDelta:    map[string]any{},
		Artifacts:     map[string]int{},
		loggerAdapter: newLoggerAdapter(opts.Logger),
	}
}

// SessionID returns the id part of the session key.
func (rc *RunContext) SessionID() string { return rc.Key.SessionID }

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns a staged value if present, else the persisted session value.
func (rc *RunContext) GetState(k string) (any, bool) {
	if v, ok := rc.StateDelta[k]; ok {
		return v, true
	}

	if rc.Session != nil {
		return rc.Session.GetState(k)
	}

	return nil, false
}

// GetStateString returns a string state value or "".
func (rc *RunContext) GetStateString(k string) string {
	v, ok := rc.GetState(k)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetState stages a state mutation in the delta buffer.
func (rc *RunContext) SetState(k string, v any) { rc.StateDelta[k] = v }

// SaveArtifact stores bytes in the ArtifactStore and stages the id with its
// byte length for the next emitted event.
func (rc *RunContext) SaveArtifact(id string, data []byte) error {
	if rc.ArtifactStore == nil {
		return errArtifactStoreMissing
	}

	if err := rc.ArtifactStore.Save(rc.Key, id, data); err != nil {
		return err
	}

	rc.Artifacts[id] = len(data)

	return nil
}

// GetArtifact retrieves previously saved artifact bytes.
func (rc *RunContext) GetArtifact(id string) ([]byte, error) {
	if rc.ArtifactStore == nil {
		return nil, errArtifactStoreMissing
	}

	return rc.ArtifactStore.Get(rc.Key, id)
}

// RefreshSession reloads the session snapshot from the SessionStore.
func (rc *RunContext) RefreshSession() error {
	if rc.SessionStore == nil {
		return errSessionStoreMissing
	}

	s, err := rc.SessionStore.Get(rc.Key)
	if err != nil {
		return err
	}

	rc.Session = s

	return nil
}

// CommitStateDelta persists the accumulated StateDelta then clears the buffer.
func (rc *RunContext) CommitStateDelta() error {
	if len(rc.StateDelta) == 0 {
		return nil
	}

	if rc.SessionStore == nil {
		return errSessionStoreMissing
	}

	if err := rc.SessionStore.ApplyDelta(rc.Key, rc.StateDelta); err != nil {
		return err
	}

	rc.StateDelta = map[string]any{}

	return nil
}

// WorkerName returns the name of the worker currently executing.
func (rc *RunContext) WorkerName() string { return rc.Worker.Name }

// Clone returns a shallow copy with deep-copied delta & artifact buffers.
func (rc *RunContext) Clone() *RunContext {
	c := *rc
	c.StateDelta = maps.Clone(rc.StateDelta)
	c.Artifacts = maps.Clone(rc.Artifacts)
	return &c
}

// ForWorker derives the context a nested worker runs in. It shares the
// emit/resume channels, stores and limiter but starts with fresh buffers.
func (rc *RunContext) ForWorker(w WorkerInfo) *RunContext {
	c := *rc
	c.Worker = w
	c.StateDelta = map[string]any{}
	c.Artifacts = map[string]int{}
	if rc.Branch != "" {
		c.Branch = rc.Branch + "." + w.Name
	} else {
		c.Branch = w.Name
	}
	return &c
}

// EmitEvent merges pending StateDelta / Artifacts into the event and emits
// it. Partial fragments are never persisted, so they carry no deltas.
func (rc *RunContext) EmitEvent(ev Event) error {
	if ev.Branch == nil && rc.Branch != "" {
		b := rc.Branch
		ev.Branch = &b
	}

	partial := ev.IsPartial()

	if !partial && len(rc.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, rc.StateDelta)
	}

	if !partial && len(rc.Artifacts) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for id, size := range rc.Artifacts {
			if _, ok := ev.Actions.ArtifactDelta[id]; !ok {
				ev.Actions.ArtifactDelta[id] = size
			}
		}
	}

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	if !partial {
		rc.StateDelta = map[string]any{}
		rc.Artifacts = map[string]int{}
	}

	return nil
}

// WaitForResume blocks until Resume signals or context cancellation.
func (rc *RunContext) WaitForResume() error {
	if rc.Resume == nil {
		return nil
	}

	select {
	case <-rc.Resume:
		return nil
	case <-rc.Context.Done():
		return rc.Context.Err()
	}
}

// Publish emits ev and, unless it is a partial fragment, waits until the
// runner has persisted it and reloads the session snapshot so the next
// step observes it.
func (rc *RunContext) Publish(ev Event) error {
	if err := rc.EmitEvent(ev); err != nil {
		return err
	}

	if ev.IsPartial() {
		return nil
	}

	if err := rc.WaitForResume(); err != nil {
		return err
	}

	if rc.SessionStore == nil {
		return nil
	}

	return rc.RefreshSession()
}
