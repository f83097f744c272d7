// Package worker holds the load-generating control loops.
//
// A worker repeatedly calls a [WorkFunc]. Two loop shapes exist:
//   - [RunForever] loops until its context is cancelled, which the CLI ties
//     to process termination signals.
//   - [RunFor] loops while its lifetime has not elapsed. The bound is checked
//     between calls only, so a call in flight always completes.
//
// The work function built by [NewWorkFunc] drives [RetryUntilSuccess]: it
// fetches the index page, discards failed attempts and retries at once, with
// no backoff and no attempt limit. Only the successful attempt's latency is
// recorded, together with the total number of attempts it took.
package worker
