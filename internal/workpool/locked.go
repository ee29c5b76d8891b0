package workpool

import (
	"context"

	"github.com/Iron-Ham/foreman/internal/lock"
)

// withLock runs fn under the coordinator lock, or directly when locking is
// disabled.
func withLock[T any](ctx context.Context, c *Coordinator, fn func(context.Context) (T, error)) (T, error) {
	if c.locker == nil {
		return fn(ctx)
	}
	return lock.Do(ctx, c.locker, c.LockName(), c.lockOpts, fn)
}

func withLockErr(ctx context.Context, c *Coordinator, fn func(context.Context) error) error {
	_, err := withLock(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// slot is the result of AvailableSlotWithLock and DequeueWithLock.
type slot struct {
	id string
	ok bool
}

// AssignWorkWithLock is AssignWork under the coordinator lock.
func (c *Coordinator) AssignWorkWithLock(ctx context.Context, workerID string, order *WorkOrder) error {
	return withLockErr(ctx, c, func(context.Context) error {
		return c.AssignWork(workerID, order)
	})
}

// CompleteWorkWithLock is CompleteWork under the coordinator lock.
func (c *Coordinator) CompleteWorkWithLock(ctx context.Context, workerID string, result WorkOrderResult) error {
	return withLockErr(ctx, c, func(context.Context) error {
		return c.CompleteWork(workerID, result)
	})
}

// FailWorkWithLock is FailWork under the coordinator lock.
func (c *Coordinator) FailWorkWithLock(ctx context.Context, workerID, orderID string, cause error) error {
	return withLockErr(ctx, c, func(context.Context) error {
		return c.FailWork(workerID, orderID, cause)
	})
}

// CreateWorkOrderWithLock is CreateWorkOrder under the coordinator lock.
func (c *Coordinator) CreateWorkOrderWithLock(ctx context.Context, issue Issue, oc *OrderContext) (*WorkOrder, error) {
	return withLock(ctx, c, func(ctx context.Context) (*WorkOrder, error) {
		return c.CreateWorkOrder(ctx, issue, oc)
	})
}

// EnqueueWithLock is Enqueue under the coordinator lock.
func (c *Coordinator) EnqueueWithLock(ctx context.Context, issueID string, score float64) (QueueEntry, error) {
	return withLock(ctx, c, func(context.Context) (QueueEntry, error) {
		return c.Enqueue(issueID, score), nil
	})
}

// DequeueWithLock is Dequeue under the coordinator lock.
func (c *Coordinator) DequeueWithLock(ctx context.Context) (string, bool, error) {
	s, err := withLock(ctx, c, func(context.Context) (slot, error) {
		id, ok := c.Dequeue()
		return slot{id, ok}, nil
	})
	return s.id, s.ok, err
}

// AvailableSlotWithLock is AvailableSlot under the coordinator lock.
func (c *Coordinator) AvailableSlotWithLock(ctx context.Context) (string, bool, error) {
	s, err := withLock(ctx, c, func(context.Context) (slot, error) {
		id, ok := c.AvailableSlot()
		return slot{id, ok}, nil
	})
	return s.id, s.ok, err
}

// ReleaseWorkerWithLock is ReleaseWorker under the coordinator lock.
func (c *Coordinator) ReleaseWorkerWithLock(ctx context.Context, workerID string) error {
	return withLockErr(ctx, c, func(context.Context) error {
		return c.ReleaseWorker(workerID)
	})
}

// ResetWorkerWithLock is ResetWorker under the coordinator lock.
func (c *Coordinator) ResetWorkerWithLock(ctx context.Context, workerID string) error {
	return withLockErr(ctx, c, func(context.Context) error {
		return c.ResetWorker(workerID)
	})
}

// SaveStateWithLock is SaveState under the coordinator lock.
func (c *Coordinator) SaveStateWithLock(ctx context.Context, projectID string) (*ControllerState, error) {
	return withLock(ctx, c, func(ctx context.Context) (*ControllerState, error) {
		return c.SaveState(ctx, projectID)
	})
}

// LoadStateWithLock is LoadState under the coordinator lock.
func (c *Coordinator) LoadStateWithLock(ctx context.Context, projectID string) (*ControllerState, error) {
	return withLock(ctx, c, func(ctx context.Context) (*ControllerState, error) {
		return c.LoadState(ctx, projectID)
	})
}

// SynchronizeState adopts the persisted snapshot for projectID, if any, and
// writes the resulting in-memory state back, all under one lock hold.
func (c *Coordinator) SynchronizeState(ctx context.Context, projectID string) (*ControllerState, error) {
	return withLock(ctx, c, func(ctx context.Context) (*ControllerState, error) {
		if _, err := c.LoadState(ctx, projectID); err != nil {
			return nil, err
		}
		return c.SaveState(ctx, projectID)
	})
}

// Transact loads the project state, runs fn, and saves the result, all
// under one lock hold. State is not saved when fn returns an error.
func (c *Coordinator) Transact(ctx context.Context, projectID string, fn func(context.Context, *Coordinator) error) error {
	return withLockErr(ctx, c, func(ctx context.Context) error {
		if _, err := c.LoadState(ctx, projectID); err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		_, err := c.SaveState(ctx, projectID)
		return err
	})
}
