package testutil

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/hupe1980/codepipe/artifact"
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/session"
)

// Harness owns the stores and channels of a RunContext and consumes its
// events the way the runner does: every non-partial event is appended to
// the session (applying its state delta) before the worker is resumed.
type Harness struct {
	Store     *session.InMemoryStore
	Artifacts *artifact.InMemoryStore
	Key       core.SessionKey
	RunCtx    *core.RunContext

	mu     sync.Mutex
	events []core.Event
	stop   chan struct{}
	done   chan struct{}
}

// NewHarness creates a session holding the user query and a RunContext for
// a root worker named root. The harness stops at test cleanup.
func NewHarness(t testing.TB, root, query string, optFns ...func(o *core.RunContextOptions)) *Harness {
	t.Helper()

	h := &Harness{
		Store:     session.NewInMemoryStore(),
		Artifacts: artifact.NewInMemoryStore(),
		Key:       DefaultKey,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if _, err := h.Store.Create(h.Key, nil); err != nil {
		t.Fatalf("create session: %v", err)
	}

	userContent := core.NewTextContent("user", query)
	if err := h.Store.AppendEvent(h.Key, core.NewUserContentEvent("test-run", &userContent)); err != nil {
		t.Fatalf("append user event: %v", err)
	}

	sess, err := h.Store.Get(h.Key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	emit := make(chan core.Event)
	resume := make(chan struct{}, 1)

	opts := append([]func(o *core.RunContextOptions){
		func(o *core.RunContextOptions) { o.ArtifactStore = h.Artifacts },
	}, optFns...)

	h.RunCtx = core.NewRunContext(
		context.Background(), h.Key, "test-run",
		core.WorkerInfo{Name: root},
		userContent, emit, resume, sess, h.Store, opts...,
	)

	go h.consume(t, emit, resume)

	t.Cleanup(h.Close)

	return h
}

func (h *Harness) consume(t testing.TB, emit <-chan core.Event, resume chan<- struct{}) {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			return
		case ev := <-emit:
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()

			if ev.IsPartial() {
				continue
			}

			if err := h.Store.AppendEvent(h.Key, ev); err != nil {
				t.Errorf("append event: %v", err)
			}
			if len(ev.Actions.StateDelta) > 0 {
				if err := h.Store.ApplyDelta(h.Key, ev.Actions.StateDelta); err != nil {
					t.Errorf("apply delta: %v", err)
				}
			}

			select {
			case resume <- struct{}{}:
			case <-h.stop:
				return
			}
		}
	}
}

// Events returns every event received so far, including partials.
func (h *Harness) Events() []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

// Authors returns the authors of the non-partial events in order.
func (h *Harness) Authors() []string {
	var authors []string
	for _, ev := range h.Events() {
		if !ev.IsPartial() {
			authors = append(authors, ev.Author)
		}
	}
	return authors
}

// Last returns the last non-partial event, or false.
func (h *Harness) Last() (core.Event, bool) {
	events := h.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].IsPartial() {
			return events[i], true
		}
	}
	return core.Event{}, false
}

// State returns the persisted session state.
func (h *Harness) State() map[string]any {
	sess, err := h.Store.Get(h.Key)
	if err != nil {
		return nil
	}
	return sess.StateSnapshot()
}

// Close stops the consumer. It is safe to call more than once.
func (h *Harness) Close() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}
