// Package progress observes a worker pool and reports on it.
//
// A [Monitor] never mutates the pool. It is started with two accessor
// functions, one returning the pool status and one returning the queue, and
// polls them on a fixed interval. Each poll synthesizes "started" activity
// records for workers that picked up a new issue, derives [ProgressMetrics],
// runs bottleneck detection and notifies listeners.
//
// Completions and failures reach the monitor through RecordCompletion and
// RecordFailure, typically wired from the coordinator's event bus with
// [Monitor.Attach].
//
// Reports can be rendered as JSON or markdown and persisted under the
// configured report directory as progress_report.json and
// progress_report.md.
package progress
