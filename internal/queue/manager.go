// Package queue runs long jobs (engine synthesis calls) on a fixed set of
// workers so request handlers stay responsive and overlapping submissions
// are rejected instead of piling up.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("queue: full")
	ErrShutdown  = errors.New("queue: shutdown")
	ErrPanicked  = errors.New("queue: job panicked")
)

type Config struct {
	// Workers is the number of jobs that run at once.
	Workers int
	// MaxQueue is how many submitted jobs may wait for a worker.
	MaxQueue int
	Logger   zerolog.Logger
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Active   int
	Queued   int
	Rejected int64
}

type Manager struct {
	jobs     chan job
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	logger   zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	workers  int32
	active   atomic.Int32
	rejected atomic.Int64
}

type job struct {
	ctx    context.Context
	name   string
	fn     func(context.Context) error
	result chan error
}

func NewManager(cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}

	m := &Manager{
		jobs:    make(chan job, cfg.MaxQueue),
		closed:  make(chan struct{}),
		workers: int32(cfg.Workers),
		logger:  cfg.Logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	return m
}

// Submit runs fn on a worker and waits for its result. It fails fast with
// ErrQueueFull when every worker is busy and the waiting room is full.
// Cancelling ctx stops the wait; a job that already started keeps running.
func (m *Manager) Submit(ctx context.Context, name string, fn func(context.Context) error) error {
	select {
	case <-m.closed:
		return ErrShutdown
	default:
	}

	j := job{ctx: ctx, name: name, fn: fn, result: make(chan error, 1)}

	if cap(m.jobs) == 0 {
		if m.active.Load() >= m.workers {
			return m.reject(name)
		}

		select {
		case m.jobs <- j:
		case <-m.closed:
			return ErrShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case m.jobs <- j:
		case <-m.closed:
			return ErrShutdown
		default:
			return m.reject(name)
		}
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		// allow in-flight job to finish if already running
		select {
		case err := <-j.result:
			return err
		default:
			return ErrShutdown
		}
	}
}

// Stats reports current activity.
func (m *Manager) Stats() Stats {
	return Stats{
		Active:   int(m.active.Load()),
		Queued:   len(m.jobs),
		Rejected: m.rejected.Load(),
	}
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)
		close(m.jobs)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug().Msg("Job queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) reject(name string) error {
	m.rejected.Add(1)
	m.logger.Warn().Str("job", name).Msg("Job rejected, queue full")
	return ErrQueueFull
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	for j := range m.jobs {
		m.inflight.Add(1)
		m.active.Add(1)

		start := time.Now()
		err := m.run(j)
		m.logger.Debug().
			Int("worker", id).
			Str("job", j.name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Job finished")

		j.result <- err
		m.active.Add(-1)
		m.inflight.Done()
	}
}

func (m *Manager) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("job", j.name).Interface("panic", r).Msg("Job panicked")
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return j.fn(j.ctx)
}
