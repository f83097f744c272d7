// Package loadtest orchestrates runs against the target.
//
// [Orchestrator.Start] is fire-and-forget: it authenticates one session,
// starts a reporter and NumWorkers indefinite workers, then returns. The
// workers stop only when the caller's context is cancelled.
//
// [Orchestrator.Sweep] runs a series of fixed-length iterations with a
// growing worker count. Every iteration gets a fresh aggregator and a
// freshly authenticated session, and ends with one summary row written after
// all of its workers have exited.
package loadtest
