// Package task implements the counter-task execution engine: a bounded
// worker pool that advances claimed tasks one step per tick, a registry of
// in-flight task handles, a cooperative cancellation coordinator, and a
// periodic staleness sweeper.
package task
