// Package runner binds a root worker to session and artifact stores and
// streams the events of each run.
//
// A run is driven by two goroutines: one executes the root worker, the other
// consumes its events. The consumer appends every non-partial event to the
// session (applying its state delta) before yielding it and only then
// resumes the worker, so persistence and model turns never interleave.
//
// The stream closes after the first terminal event. If the root worker
// returns an error the runner reports it as a terminal escalation event; if
// it returns without any terminal event the runner ends the run with the
// last final response.
package runner
