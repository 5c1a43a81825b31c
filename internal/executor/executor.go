// Package executor implements the worker-pool task executor: submit,
// get, result, and the background worker loop that drains the pending
// queue and invokes the routed ChatModel. Workers are spawned
// opportunistically on submit behind a non-blocking semaphore acquire
// and exit on their own once the queue stays empty for a full dequeue
// timeout.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/task"
	"github.com/nodeforge/modelgate/internal/taskstore"
)

// ErrTaskNotFound matches any TaskNotFoundError via errors.Is.
var ErrTaskNotFound = errors.New("task not existed")

// TaskNotFoundError reports a task id that is absent or expired.
type TaskNotFoundError struct{ ID string }

func (e *TaskNotFoundError) Error() string { return fmt.Sprintf("Task '%s' not existed", e.ID) }

func (e *TaskNotFoundError) Unwrap() error { return ErrTaskNotFound }

// Executor drives a bounded pool of worker goroutines over a shared
// *taskstore.Store and *ModelRegistry. The zero value is not usable;
// build one with New or NewFromConfig.
type Executor struct {
	store     *taskstore.Store
	registry  *ModelRegistry
	lifetime  time.Duration
	semaphore chan struct{}
	log       logger.Logger

	// overrides holds per-request ?model= overrides between Submit and
	// the worker picking the task back up. Kept in-memory and
	// process-local rather than on the persisted Task: distributed
	// scheduling across processes is out of scope, so a side channel
	// keyed by task id is the simplest correct design, and it keeps the
	// Redis-persisted Task shape exactly what a second process (or a
	// restarted one) expects to see.
	overridesMu sync.Mutex
	overrides   map[string]string
}

// New builds an Executor bounded to cfg.NumWorkers concurrent workers,
// each exiting after cfg.Lifetime of idle waiting.
func New(store *taskstore.Store, registry *ModelRegistry, cfg config.ExecutorConfig, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Noop
	}
	return &Executor{
		store:     store,
		registry:  registry,
		lifetime:  cfg.Lifetime,
		semaphore: make(chan struct{}, cfg.NumWorkers),
		log:       log.With(map[string]interface{}{"component": "executor"}),
		overrides: make(map[string]string),
	}
}

// NewFromConfig builds the ModelRegistry from cfg.Models and wires it
// into a new Executor.
func NewFromConfig(store *taskstore.Store, cfg *config.Config, log logger.Logger) (*Executor, error) {
	registry, err := NewModelRegistryFromConfig(cfg.Models, log)
	if err != nil {
		return nil, err
	}
	return New(store, registry, cfg.Executor, log), nil
}

// Submit persists message as a new Pending task, enqueues it, and
// opportunistically spawns a worker if the pool has spare capacity. It
// returns as soon as the task is durably enqueued; execution happens
// asynchronously.
func (e *Executor) Submit(ctx context.Context, message task.Message, modelOverride string) (*task.Task, error) {
	t := task.New(message)
	if err := e.store.Submit(ctx, t); err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}
	if modelOverride != "" {
		e.setOverride(t.ID, modelOverride)
	}

	select {
	case e.semaphore <- struct{}{}:
		go e.runWorker()
	default:
	}

	return t, nil
}

// Get reads the current state of a task, or (nil, nil) if it is
// absent or expired.
func (e *Executor) Get(ctx context.Context, id string) (*task.Task, error) {
	return e.store.Get(ctx, id)
}

// Result long-polls at 1Hz until the task reaches a terminal status or
// timeoutSeconds elapses. The first poll happens immediately;
// timeoutSeconds == 0 returns the task's state after that single poll,
// regardless of status.
func (e *Executor) Result(ctx context.Context, id string, timeoutSeconds int) (*task.Task, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()

	for {
		t, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll task %s: %w", id, err)
		}
		if t == nil {
			return nil, &TaskNotFoundError{ID: id}
		}
		if t.Terminal() || timeoutSeconds == 0 {
			return t, nil
		}
		if time.Since(start).Seconds() >= float64(timeoutSeconds) {
			return nil, fmt.Errorf("Timeout '%ds' exceeded", timeoutSeconds)
		}
		if err := waitTick(ctx, ticker); err != nil {
			return nil, err
		}
	}
}

func waitTick(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) setOverride(id, model string) {
	e.overridesMu.Lock()
	defer e.overridesMu.Unlock()
	e.overrides[id] = model
}

func (e *Executor) popOverride(id string) string {
	e.overridesMu.Lock()
	defer e.overridesMu.Unlock()
	model := e.overrides[id]
	delete(e.overrides, id)
	return model
}

// runWorker holds one semaphore permit for its lifetime: it drains the
// pending queue until a dequeue times out with nothing available, then
// releases the permit and exits. The pool therefore grows from zero up
// to capacity as load warrants and shrinks back down on its own.
func (e *Executor) runWorker() {
	defer func() { <-e.semaphore }()

	ctx := context.Background()
	for {
		id, err := e.store.Dequeue(ctx, e.lifetime)
		if err != nil {
			e.log.Error("dequeue failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		if id == "" {
			return
		}
		e.process(ctx, id)
	}
}

// process loads, runs, and finalizes exactly one task. A task is
// processed at-most-once per successful dequeue: a crash between
// dequeue and the final write simply orphans the task, which the
// TaskStore's TTL eventually reaps.
func (e *Executor) process(ctx context.Context, id string) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		e.log.Error("load dequeued task failed", map[string]interface{}{"task_id": id, "error": err.Error()})
		return
	}
	if t == nil {
		e.log.Error("dequeued task not existed", map[string]interface{}{"task_id": id})
		return
	}

	t.MarkRunning()
	if err := e.store.Set(ctx, t); err != nil {
		e.log.Error("persist running state failed", map[string]interface{}{"task_id": id, "error": err.Error()})
	}

	modelOverride := e.popOverride(id)
	model, err := e.registry.Route(t.Message)
	if err != nil {
		e.finishFailed(ctx, t, err)
		return
	}

	if err := e.executeStreaming(ctx, t, model, modelOverride); err != nil {
		e.finishFailed(ctx, t, err)
		return
	}

	e.log.Info("task finished", map[string]interface{}{"task_id": id})
}

func (e *Executor) finishFailed(ctx context.Context, t *task.Task, cause error) {
	t.MarkFailed(cause)
	if err := e.store.Set(ctx, t); err != nil {
		e.log.Error("persist failed state failed", map[string]interface{}{"task_id": t.ID, "error": err.Error()})
	}
	e.log.Error("task failed", map[string]interface{}{"task_id": t.ID, "error": cause.Error()})
}
