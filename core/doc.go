// Package core holds the domain types shared by every layer of codepipe:
//
//   - Workers (named units that answer, call tools or delegate)
//   - Events (immutable records appended to a session's log)
//   - Sessions (per-run state plus the ordered event log)
//   - RunContext / ToolContext (explicit execution scope handed to workers and tools)
//   - Typed errors used to decide between escalation and hard failure
//
// Concrete workers, stores and model adapters live in their own packages and
// depend on core, never the other way around.
package core
