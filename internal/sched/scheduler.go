// Package sched defers low-priority work into bounded batches processed off
// the decision path. A failing or panicking task is logged and never halts
// the remainder of the queue.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

type Task struct {
	Name     string
	Priority Priority
	Run      func() error
}

type Scheduler struct {
	mu         sync.Mutex
	high       []Task
	low        []Task
	processing bool

	batchSize int
	idle      time.Duration
	logger    *slog.Logger
	wake      chan struct{}
}

func New(batchSize int, idle time.Duration, logger *slog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 5
	}
	if idle <= 0 {
		idle = 10 * time.Millisecond
	}
	return &Scheduler{
		batchSize: batchSize,
		idle:      idle,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the idle worker. The caller's context stops it.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			for {
				if !s.runBatch() {
					break
				}
				// Yield between batches so the main path is never starved.
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.idle):
				}
			}
		}
	}()
}

func (s *Scheduler) Enqueue(t Task) {
	if t.Run == nil {
		return
	}
	s.mu.Lock()
	if t.Priority == PriorityHigh {
		s.high = append(s.high, t)
	} else {
		s.low = append(s.low, t)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Clear drops all pending tasks. A batch already dispatched still completes.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.high = nil
	s.low = nil
	s.mu.Unlock()
}

// Depth reports the number of queued tasks.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high) + len(s.low)
}

func (s *Scheduler) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Flush synchronously drains the queue on the calling goroutine. Used at
// shutdown and in tests.
func (s *Scheduler) Flush() {
	for s.runBatch() {
	}
}

// runBatch takes and executes up to batchSize tasks, high priority first,
// enqueue order within each priority. Reports whether any task ran.
func (s *Scheduler) runBatch() bool {
	batch := s.takeBatch()
	if len(batch) == 0 {
		return false
	}
	for _, t := range batch {
		s.runTask(t)
	}
	s.mu.Lock()
	s.processing = len(s.high)+len(s.low) > 0
	s.mu.Unlock()
	return true
}

func (s *Scheduler) takeBatch() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.batchSize
	batch := make([]Task, 0, n)
	for len(batch) < n && len(s.high) > 0 {
		batch = append(batch, s.high[0])
		s.high = s.high[1:]
	}
	for len(batch) < n && len(s.low) > 0 {
		batch = append(batch, s.low[0])
		s.low = s.low[1:]
	}
	if len(batch) > 0 {
		s.processing = true
	}
	return batch
}

func (s *Scheduler) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("deferred task panic", "task", t.Name, "err", fmt.Sprint(r))
			}
		}
	}()
	if err := t.Run(); err != nil {
		if s.logger != nil {
			s.logger.Warn("deferred task failed", "task", t.Name, "err", err)
		}
	}
}
