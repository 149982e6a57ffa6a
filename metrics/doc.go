// Package metrics exposes pipeline counters and histograms.
//
// Components report through the Recorder interface; NoOp is the default and
// Collector backs it with Prometheus collectors registered on a
// caller-supplied registry.
package metrics
