package workpool

import (
	"context"
	"regexp"
	"strconv"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/store"
)

// Persisted keys, relative to the store root.
const (
	StateKey      = "controller_state.json"
	WorkOrdersDir = "work_orders/"
)

var orderIDPattern = regexp.MustCompile(`WO-(\d+)`)

func orderKey(orderID string) string {
	return WorkOrdersDir + orderID + ".json"
}

// SaveState writes a snapshot of the coordinator under projectID and
// returns it.
func (c *Coordinator) SaveState(ctx context.Context, projectID string) (*ControllerState, error) {
	c.mu.Lock()
	state := c.snapshotLocked(projectID)
	c.mu.Unlock()

	if c.store == nil {
		return nil, errors.NewPersistenceError(projectID, "save", errors.New("no store configured"))
	}
	if err := store.PutJSON(ctx, c.store, StateKey, state); err != nil {
		c.logger.WithProject(projectID).Error("failed to save controller state", "error", err)
		return nil, errors.NewPersistenceError(projectID, "save", err)
	}
	c.logger.WithProject(projectID).Debug("controller state saved",
		"workers", len(state.WorkerPool), "queued", len(state.WorkQueue))
	return state, nil
}

func (c *Coordinator) snapshotLocked(projectID string) *ControllerState {
	state := &ControllerState{
		ProjectID:       projectID,
		WorkerPool:      make([]Worker, 0, len(c.workers)),
		WorkQueue:       c.queue.entries(),
		CompletedOrders: append([]string{}, c.completed...),
		FailedOrders:    append([]string{}, c.failed...),
		SavedAt:         c.now(),
	}
	for _, w := range c.workers {
		state.WorkerPool = append(state.WorkerPool, w.Clone())
	}
	return state
}

// LoadState reads the persisted snapshot and, when it belongs to projectID,
// replaces the in-memory workers, queue and terminal sets with it. It
// returns nil with no error when nothing is stored or the stored snapshot
// belongs to another project.
//
// The order ID counter is advanced past every order ID found in the
// snapshot or under work_orders/, so a restored coordinator never reuses
// an ID.
func (c *Coordinator) LoadState(ctx context.Context, projectID string) (*ControllerState, error) {
	if c.store == nil {
		return nil, nil
	}
	log := c.logger.WithProject(projectID)

	keys, err := c.store.List(ctx, WorkOrdersDir)
	if err != nil {
		return nil, errors.NewPersistenceError(projectID, "list_orders", err)
	}
	c.advanceOrderCounter(highestOrderNumber(keys))

	var state ControllerState
	if err := store.GetJSON(ctx, c.store, StateKey, &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		log.Error("failed to load controller state", "error", err)
		return nil, errors.NewPersistenceError(projectID, "load", err)
	}
	if state.ProjectID != projectID {
		log.Warn("ignoring controller state for another project", "stored_project", state.ProjectID)
		return nil, nil
	}

	c.mu.Lock()
	c.applyLocked(&state)
	highest := highestOrderNumber(state.CompletedOrders, state.FailedOrders)
	for _, w := range state.WorkerPool {
		if n := orderNumber(w.CurrentOrderID); n > highest {
			highest = n
		}
	}
	if highest > c.lastOrder {
		c.lastOrder = highest
	}
	depth := c.depthLocked()
	c.mu.Unlock()

	log.Debug("controller state loaded", "workers", len(state.WorkerPool), "queued", len(state.WorkQueue))
	c.publishDepth(depth)
	return &state, nil
}

func (c *Coordinator) applyLocked(state *ControllerState) {
	if len(state.WorkerPool) > 0 {
		c.workers = make([]*Worker, 0, len(state.WorkerPool))
		c.byID = make(map[string]*Worker, len(state.WorkerPool))
		for _, w := range state.WorkerPool {
			cp := w.Clone()
			c.workers = append(c.workers, &cp)
			c.byID[cp.ID] = &cp
		}
	}

	c.queue.clear()
	for _, e := range state.WorkQueue {
		c.queue.pushEntry(e)
	}

	c.completed = nil
	c.failed = nil
	c.terminal = make(map[string]bool)
	for _, id := range state.CompletedOrders {
		c.markTerminalLocked(id, true)
	}
	for _, id := range state.FailedOrders {
		c.markTerminalLocked(id, false)
	}
}

// LoadWorkOrder reads a persisted work order and registers it.
func (c *Coordinator) LoadWorkOrder(ctx context.Context, orderID string) (*WorkOrder, error) {
	if o, err := c.WorkOrder(orderID); err == nil {
		return o, nil
	}
	if c.store == nil {
		return nil, errors.NewWorkOrderNotFoundError(orderID)
	}
	var order WorkOrder
	if err := store.GetJSON(ctx, c.store, orderKey(orderID), &order); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NewWorkOrderNotFoundError(orderID)
		}
		return nil, errors.NewPersistenceError("", "read_order", err)
	}

	c.mu.Lock()
	if _, ok := c.orders[orderID]; !ok {
		cp := order
		c.orders[orderID] = &cp
	}
	c.mu.Unlock()
	c.advanceOrderCounter(orderNumber(orderID))
	return &order, nil
}

func (c *Coordinator) advanceOrderCounter(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.lastOrder {
		c.lastOrder = n
	}
}

func highestOrderNumber(lists ...[]string) int {
	highest := 0
	for _, list := range lists {
		for _, s := range list {
			if n := orderNumber(s); n > highest {
				highest = n
			}
		}
	}
	return highest
}

func orderNumber(s string) int {
	m := orderIDPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
