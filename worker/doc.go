// Package worker contains the worker implementations that make up a
// pipeline:
//
//  1. LeafWorker: a model bound to an instruction and tools
//  2. RouterWorker: a model that delegates to sub-workers through the
//     transfer_to_worker tool
//  3. Sequence: runs stages strictly in order
//
// All workers are immutable once built. Builders validate their input and
// fail with *core.ConfigurationError.
//
// Execution model:
//   - Run receives a *core.RunContext; coordinators derive one per stage
//     with RunContext.ForWorker
//   - Leaf failures surface as *core.ToolInvocationError or
//     *core.ModelUnavailableError; coordinators turn them into a terminal
//     escalation event instead of returning them
//   - The root coordinator ends a successful run with a terminal event;
//     nested coordinators emit their result as a plain message
package worker
