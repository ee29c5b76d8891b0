// Package event provides a synchronous pub-sub bus used to decouple the
// worker-pool coordinator, the lock coordinator, the metrics collector and
// the progress monitor.
//
// # Main Types
//
//   - [Event]: interface implemented by all events (EventType, Timestamp)
//   - [Bus]: synchronous dispatcher with subscription IDs for unregistering
//   - [Handler]: func(Event)
//
// # Event Types
//
// Event types follow the pattern "category.action":
//   - work_order.created, work.assigned, task.completed
//   - worker.released, worker.reset, queue.depth_changed
//   - lock.acquired, lock.released, lock.timeout
//   - progress.updated, bottleneck.detected
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine. A panicking handler is recovered and logged so the
// remaining handlers still receive the event.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	id := bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
//	    done := e.(event.TaskCompletedEvent)
//	    log.Printf("%s finished on %s", done.OrderID, done.WorkerID)
//	})
//	defer bus.Unsubscribe(id)
package event
