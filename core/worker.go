package core

// WorkerInfo identifies the worker executing within a RunContext.
type WorkerInfo struct {
	Name string
	Type string
}

// Worker is a named unit of work inside a pipeline. Leaf workers call a
// model with tools; coordinators run other workers. A Worker is immutable
// once built and may be shared by concurrent runs.
type Worker interface {
	// Name returns the worker's unique (within its tree) name.
	Name() string
	// Description is shown to routing models.
	Description() string
	// SubWorkers returns the ordered children, empty for leaves.
	SubWorkers() []Worker
	// FindWorker searches this worker and its descendants depth-first.
	FindWorker(name string) Worker
	// Run executes the worker, emitting events through runCtx. Escalations
	// are reported as events; a returned error is an unrecoverable failure.
	Run(runCtx *RunContext) error
}
