// Package testutil contains helpers used across tests: fluent builders for
// events and sessions, and a Harness that plays the runner's part for a
// worker under test (persisting events and answering the resume
// handshake). Not intended for production usage.
package testutil
