// Package poll waits for a submitted MinerU batch to reach a terminal state.
//
// The Poller queries the batch status endpoint on a fixed interval until every
// tracked item is done or failed, the deadline passes, or the caller cancels.
// Status is level-triggered: each response carries the full state of the
// batch, so a missed cycle loses nothing.
package poll
