package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns the background tasks of the process. A failing or panicking
// task is logged and ends on its own without affecting the others.
type Supervisor struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewSupervisor returns a supervisor logging through logger
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{logger: logger}
}

// Go runs fn in its own goroutine under name
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(ctx, name, fn); err != nil {
			s.logger.Error("Background task failed", zap.String("task", name), zap.Error(err))
			return
		}
		s.logger.Info("Background task finished", zap.String("task", name))
	}()
}

func (s *Supervisor) run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()

	s.logger.Info("Background task started", zap.String("task", name))
	return fn(ctx)
}

// Wait blocks until every task has returned
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
