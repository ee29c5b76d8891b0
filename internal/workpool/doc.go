// Package workpool coordinates a fixed pool of logical worker slots.
//
// A [Coordinator] owns the worker slots, a priority queue of issues waiting
// for a slot, the registry of work orders it has created, and the sets of
// completed and failed order IDs. It never executes work itself: an external
// driver dequeues an issue, creates a work order, assigns it to an idle slot,
// and later reports completion or failure.
//
// Worker slots follow a small state machine:
//
//	idle --AssignWork--> working --CompleteWork/ReleaseWorker--> idle
//	                     working --FailWork--> error --ResetWorker--> idle
//
// The queue always yields the highest score first. Equal scores come out in
// the order they were enqueued.
//
// Every mutating operation has a WithLock twin that brackets it with a
// distributed lock, so several processes sharing one persisted project can
// cooperate. When no lock coordinator is configured the twins call the base
// operation directly.
//
// Usage:
//
//	coord := workpool.New(st, workpool.WithMaxWorkers(3))
//	coord.Enqueue("ISSUE-1", 75)
//
//	if slot, ok := coord.AvailableSlot(); ok {
//	    issueID, _ := coord.Dequeue()
//	    order, err := coord.CreateWorkOrder(ctx, workpool.Issue{ID: issueID}, nil)
//	    ...
//	    err = coord.AssignWork(slot, order)
//	}
package workpool
