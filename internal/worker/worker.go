// ============================================================================
// zerog-bots Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that runs one wallet at a time in its own goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run task.Run with a context derived from the pool context
//   3. Send result to resultCh
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   Task.Timeout > 0 wraps the pool context with context.WithTimeout.
//   Cancelling the pool context cancels every running task.
//
// Panic Handling:
//   A panic inside task.Run is recovered and reported as a failed Result,
//   so one bad wallet never takes the other workers down.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker represents a work execution unit
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
	stopCh   <-chan struct{}
}

// newWorker creates a new Worker instance
func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run(ctx context.Context) {
	for task := range w.taskCh {
		start := time.Now()
		err := w.execute(ctx, task)

		result := Result{
			ID:       task.ID,
			Index:    task.Index,
			Success:  err == nil,
			Error:    err,
			Duration: time.Since(start),
		}

		select {
		case w.resultCh <- result:
		case <-w.stopCh:
			log.Warn().Int("worker", w.id).Str("task", task.ID).Msg("pool stopped, dropping result")
		}
	}
}

// execute runs one task, converting a panic into an error
func (w *Worker) execute(ctx context.Context, task Task) (err error) {
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", w.id).
				Str("task", task.ID).
				Str("stack", string(debug.Stack())).
				Msgf("task panicked: %v", r)
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()

	return task.Run(ctx)
}
