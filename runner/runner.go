package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/codepipe/artifact"
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/tracing"
	"github.com/hupe1980/codepipe/logging"
	"github.com/hupe1980/codepipe/metrics"
	"github.com/hupe1980/codepipe/session"
)

var (
	// ErrEmptyQuery is returned by Run for blank input.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrRunNotFound is returned by Cancel for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// AppName is the application part of every session key.
	AppName string
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run (<= 0: unlimited).
	MaxModelCalls int
	// SessionStore persists sessions.
	SessionStore core.SessionStore
	// ArtifactStore persists artifacts.
	ArtifactStore core.ArtifactStore
	// Logger receives runner and worker logs.
	Logger logging.Logger
	// Metrics receives run, stage, tool and model measurements.
	Metrics metrics.Recorder
}

// Runner coordinates worker execution: creates run contexts, streams
// events, persists them, and tracks active runs for cancellation. Public
// methods are safe for concurrent use.
type Runner struct {
	root core.Worker

	appName         string
	eventBufferSize int
	maxModelCalls   int

	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	logger        logging.Logger
	metrics       metrics.Recorder

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(root core.Worker, optFns ...func(o *Options)) *Runner {
	opts := Options{
		AppName:         "codepipe",
		EventBufferSize: 100,
		MaxModelCalls:   100,
		SessionStore:    session.NewInMemoryStore(),
		ArtifactStore:   artifact.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
		Metrics:         metrics.NoOp{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		root:            root,
		appName:         opts.AppName,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		sessionStore:    opts.SessionStore,
		artifactStore:   opts.ArtifactStore,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// AppName returns the application name used in session keys.
func (r *Runner) AppName() string { return r.appName }

// SessionStore returns the backing session store.
func (r *Runner) SessionStore() core.SessionStore { return r.sessionStore }

// ArtifactStore returns the backing artifact store.
func (r *Runner) ArtifactStore() core.ArtifactStore { return r.artifactStore }

// Key builds the session key for userID and sessionID.
func (r *Runner) Key(userID, sessionID string) core.SessionKey {
	return core.SessionKey{AppName: r.appName, UserID: userID, SessionID: sessionID}
}

// Run starts an asynchronous run of the root worker for query. The returned
// error covers startup only; everything after that is reported through the
// event stream, which always ends with a terminal event unless ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context, userID, sessionID, query string) (string, <-chan core.Event, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, ErrEmptyQuery
	}

	key := r.Key(userID, sessionID)

	if _, err := r.sessionStore.Get(key); err != nil {
		return "", nil, fmt.Errorf("failed to get session: %w", err)
	}

	runID := core.NewID()
	userContent := core.NewTextContent("user", query)

	if err := r.sessionStore.AppendEvent(key, core.NewUserContentEvent(runID, &userContent)); err != nil {
		return "", nil, fmt.Errorf("failed to append user event: %w", err)
	}

	sess, err := r.sessionStore.Get(key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := tracing.StartRun(ctx, runID, userID, sessionID, r.root.Name())

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	emit := make(chan core.Event, r.eventBufferSize)
	resume := make(chan struct{}, 1)
	out := make(chan core.Event, r.eventBufferSize)

	runCtx := core.NewRunContext(
		ctx, key, runID,
		core.WorkerInfo{Name: r.root.Name(), Type: "root"},
		userContent, emit, resume, sess, r.sessionStore,
		func(o *core.RunContextOptions) {
			o.Logger = r.logger
			o.Metrics = r.metrics
			o.MaxModelCalls = r.maxModelCalls
			o.ArtifactStore = r.artifactStore
		},
	)

	r.logger.Info("runner.run.start", "run_id", runID, "session_id", sessionID, "user_id", userID, "root", r.root.Name())

	done := make(chan error, 1)

	go func() {
		done <- r.root.Run(runCtx)
	}()

	s := &stream{
		runner: r,
		runCtx: runCtx,
		cancel: cancel,
		emit:   emit,
		resume: resume,
		out:    out,
		done:   done,
		start:  time.Now(),
	}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
		}()

		outcome, err := s.loop()

		r.metrics.RunFinished(outcome, time.Since(s.start))
		tracing.End(span, outcome, err)

		r.logger.Info("runner.run.complete", "run_id", runID, "outcome", outcome, "model_calls", runCtx.Limiter.Count(), "duration", time.Since(s.start))
	}()

	return runID, out, nil
}

// RunSync runs query to completion and returns every yielded event.
func (r *Runner) RunSync(ctx context.Context, userID, sessionID, query string) ([]core.Event, error) {
	_, events, err := r.Run(ctx, userID, sessionID, query)
	if err != nil {
		return nil, err
	}

	var collected []core.Event
	for ev := range events {
		collected = append(collected, ev)
	}

	if len(collected) == 0 || !collected[len(collected)-1].IsTerminal() {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
	}

	return collected, nil
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	r.logger.Info("runner.run.cancel", "run_id", runID)

	cancel()

	return nil
}

// ActiveRuns returns the number of runs in flight.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

// stream is the consumer side of one run.
type stream struct {
	runner *Runner
	runCtx *core.RunContext
	cancel context.CancelFunc
	emit   <-chan core.Event
	resume chan<- struct{}
	out    chan core.Event
	done   <-chan error
	start  time.Time

	closed     bool
	escalated  bool
	lastFinal  *core.Event
	persistErr error
}

// loop persists and yields events until the root worker returns.
func (s *stream) loop() (string, error) {
	for {
		select {
		case ev := <-s.emit:
			s.handle(ev)
		case err := <-s.done:
			s.drain()
			return s.finish(err)
		}
	}
}

func (s *stream) handle(ev core.Event) {
	if !ev.IsPartial() && s.persistErr == nil {
		if err := s.persist(ev); err != nil {
			s.persistErr = err
			s.runner.logger.Error("runner.event.persist_failed", "run_id", s.runCtx.RunID, "event_id", ev.ID, "error", err)
			s.cancel()
		}

		if ev.Content != nil && ev.IsFinalResponse() && ev.Content.Text() != "" {
			final := ev
			s.lastFinal = &final
		}
	}

	s.deliver(ev)

	if !ev.IsPartial() {
		select {
		case s.resume <- struct{}{}:
		default:
		}
	}
}

// drain picks up partial fragments still buffered when the root returned.
func (s *stream) drain() {
	for {
		select {
		case ev := <-s.emit:
			s.handle(ev)
		default:
			return
		}
	}
}

func (s *stream) persist(ev core.Event) error {
	store := s.runner.sessionStore
	key := s.runCtx.Key

	if err := store.AppendEvent(key, ev); err != nil {
		return fmt.Errorf("failed to append event to session: %w", err)
	}

	if len(ev.Actions.StateDelta) > 0 {
		if err := store.ApplyDelta(key, ev.Actions.StateDelta); err != nil {
			return fmt.Errorf("failed to apply state delta: %w", err)
		}
	}

	if len(ev.Actions.ArtifactDelta) > 0 {
		s.runner.logger.Debug("runner.event.artifacts", "run_id", s.runCtx.RunID, "event_id", ev.ID, "artifacts", len(ev.Actions.ArtifactDelta))
	}

	if ev.Actions.TransferToWorker != nil {
		s.runner.logger.Debug("runner.event.transfer", "run_id", s.runCtx.RunID, "to_worker", *ev.Actions.TransferToWorker)
	}

	s.runner.logger.Debug("runner.event.persisted", "run_id", s.runCtx.RunID, "event_id", ev.ID, "author", ev.Author)

	return nil
}

// deliver yields ev unless the stream already ended.
func (s *stream) deliver(ev core.Event) {
	if s.closed {
		return
	}

	select {
	case s.out <- ev:
	case <-s.runCtx.Done():
		if !ev.IsTerminal() {
			return
		}
		select {
		case s.out <- ev:
		default:
		}
	}

	if ev.IsTerminal() {
		s.escalated = ev.IsEscalation()
		s.closed = true
		close(s.out)
	}
}

// finish emits the terminal event the root did not produce and closes the
// stream.
func (s *stream) finish(runErr error) (string, error) {
	if s.persistErr != nil {
		runErr = s.persistErr
	}

	if s.closed {
		if runErr != nil {
			s.runner.logger.Warn("runner.run.error_after_terminal", "run_id", s.runCtx.RunID, "error", runErr)
		}
		return s.outcome(), nil
	}

	var ev core.Event
	if runErr != nil {
		code, ok := core.EscalationCode(runErr)
		if !ok {
			code = core.ErrorCodeInternal
		}

		s.runner.logger.Error("runner.run.error", "run_id", s.runCtx.RunID, "code", code, "error", runErr)

		ev = core.NewEscalationEvent(s.runCtx.RunID, s.runner.root.Name(), code, runErr.Error())
	} else {
		content := core.NewTextContent("assistant", core.NoFinalResponseText)
		if s.lastFinal != nil {
			content = *s.lastFinal.Content
		}

		ev = core.NewTerminalEvent(s.runCtx.RunID, s.runner.root.Name(), content)
	}

	if s.persistErr == nil {
		if err := s.persist(ev); err != nil {
			s.runner.logger.Error("runner.event.persist_failed", "run_id", s.runCtx.RunID, "event_id", ev.ID, "error", err)
		}
	}

	s.deliver(ev)

	if !s.closed {
		s.closed = true
		close(s.out)
	}

	if runErr != nil {
		return metrics.OutcomeError, runErr
	}

	return s.outcome(), nil
}

func (s *stream) outcome() string {
	if s.escalated {
		return metrics.OutcomeEscalated
	}
	return metrics.OutcomeSuccess
}
