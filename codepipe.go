// Package codepipe provides a high-level façade over the code sample
// pipeline. Most applications interact with this package by:
//  1. Loading a config.Config (or using config.Default())
//  2. Creating a CodePipe via New(), optionally overriding collaborators,
//     stores, logging or metrics
//  3. Running queries asynchronously (Run) or synchronously (RunSync)
//
// The façade builds the pipeline with pipeline.BuildPipeline and delegates
// execution to runner.Runner. All defaults are in-memory and safe for local
// development and testing.
package codepipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/codepipe/artifact"
	"github.com/hupe1980/codepipe/config"
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/logging"
	"github.com/hupe1980/codepipe/metrics"
	"github.com/hupe1980/codepipe/pipeline"
	"github.com/hupe1980/codepipe/runner"
	"github.com/hupe1980/codepipe/session"
)

// Options configures a CodePipe.
type Options struct {
	// Deps overrides pipeline collaborators (model registry, grounding,
	// generator, evaluator).
	Deps pipeline.Deps
	// Root replaces the configured pipeline entirely.
	Root core.Worker
	// SessionStore defaults to an in-memory store.
	SessionStore core.SessionStore
	// ArtifactStore defaults to an in-memory store.
	ArtifactStore core.ArtifactStore
	// Logger defaults to one built from the logging config, writing to stderr.
	Logger logging.Logger
	// Metrics defaults to a Prometheus collector when metrics are enabled,
	// otherwise to a no-op recorder.
	Metrics metrics.Recorder
	// Registerer receives the Prometheus collectors; defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// CodePipe aggregates the pipeline, its stores and the runner.
type CodePipe struct {
	cfg       *config.Config
	root      core.Worker
	runner    *runner.Runner
	sessions  core.SessionStore
	artifacts core.ArtifactStore
	logger    logging.Logger
}

// New validates cfg (nil means config.Default()) and assembles a CodePipe.
func New(cfg *config.Config, optFns ...func(o *Options)) (*CodePipe, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	opts := Options{
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		logger, err := logging.New(logging.Options{
			Backend: cfg.Logging.Backend,
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			Output:  os.Stderr,
		})
		if err != nil {
			return nil, core.NewConfigurationError("config", "logging", err.Error())
		}
		opts.Logger = logger
	}

	if opts.Metrics == nil {
		if cfg.Metrics.Enabled {
			opts.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, opts.Registerer)
		} else {
			opts.Metrics = metrics.NoOp{}
		}
	}

	root := opts.Root
	if root == nil {
		built, err := pipeline.BuildPipeline(cfg, opts.Deps)
		if err != nil {
			return nil, err
		}
		root = built
	}

	r := runner.New(root, func(o *runner.Options) {
		o.AppName = cfg.AppName
		o.EventBufferSize = cfg.EventBufferSize
		o.MaxModelCalls = cfg.MaxModelCalls
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	opts.Logger.Debug("codepipe.created", "root", root.Name(), "topology", cfg.Topology)

	return &CodePipe{
		cfg:       cfg,
		root:      root,
		runner:    r,
		sessions:  opts.SessionStore,
		artifacts: opts.ArtifactStore,
		logger:    opts.Logger,
	}, nil
}

// Root returns the root worker.
func (p *CodePipe) Root() core.Worker { return p.root }

// Runner returns the underlying runner.
func (p *CodePipe) Runner() *runner.Runner { return p.runner }

// SessionKey returns the configured session key.
func (p *CodePipe) SessionKey() core.SessionKey {
	return p.runner.Key(p.cfg.UserID, p.cfg.SessionID)
}

// Session returns a snapshot of the configured session.
func (p *CodePipe) Session() (*core.Session, error) {
	return p.sessions.Get(p.SessionKey())
}

// Artifact returns the latest bytes of an artifact of the configured
// session, e.g. collab.ArtifactSample.
func (p *CodePipe) Artifact(id string) ([]byte, error) {
	return p.artifacts.Get(p.SessionKey(), id)
}

// ensureSession creates the configured session on first use and records
// query as the current "query" state value on every run.
func (p *CodePipe) ensureSession(query string) error {
	if strings.TrimSpace(query) == "" {
		return runner.ErrEmptyQuery
	}

	key := p.SessionKey()
	state := map[string]any{"query": query}

	_, err := p.sessions.Get(key)
	if err == nil {
		return p.sessions.ApplyDelta(key, state)
	}

	if !errors.Is(err, core.ErrSessionNotFound) {
		return err
	}

	if _, err := p.sessions.Create(key, state); err != nil {
		var dup *core.DuplicateSessionError
		if !errors.As(err, &dup) {
			return fmt.Errorf("failed to create session: %w", err)
		}

		return p.sessions.ApplyDelta(key, state)
	}

	return nil
}

// Run starts an asynchronous run of query on the configured session.
func (p *CodePipe) Run(ctx context.Context, query string) (string, <-chan core.Event, error) {
	if err := p.ensureSession(query); err != nil {
		return "", nil, err
	}

	return p.runner.Run(ctx, p.cfg.UserID, p.cfg.SessionID, query)
}

// RunSync runs query to completion. It returns the caller-facing answer
// (see core.FinalText) together with every event.
func (p *CodePipe) RunSync(ctx context.Context, query string) (string, []core.Event, error) {
	if err := p.ensureSession(query); err != nil {
		return "", nil, err
	}

	events, err := p.runner.RunSync(ctx, p.cfg.UserID, p.cfg.SessionID, query)
	if err != nil {
		return "", events, err
	}

	if len(events) == 0 {
		return core.NoFinalResponseText, events, nil
	}

	return core.FinalText(events[len(events)-1]), events, nil
}

// Cancel cancels an in-flight run.
func (p *CodePipe) Cancel(runID string) error { return p.runner.Cancel(runID) }
