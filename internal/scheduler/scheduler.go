// Package scheduler drives transcription of an ordered list of chunks
// through a transcribe.Backend with bounded concurrency, retrying
// transient failures with exponential backoff and full jitter.
package scheduler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alikebrahim/neuravox/internal/logging"
	"github.com/alikebrahim/neuravox/internal/transcribe"
)

const (
	maxAttempts  = 3
	baseBackoff  = 1 * time.Second
	maxBackoff   = 30 * time.Second
	backoffBase2 = 2.0
)

// Clock abstracts time so retry backoff is deterministic under test,
// mirroring the job queue's own Clock seam. After returns a channel
// rather than blocking directly so a cancellable sleep can select on
// ctx.Done() alongside it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Float64() float64 // in [0, 1), used for full-jitter backoff
}

// RealClock is the default Clock, backed by the system clock and an
// unseeded random source.
type RealClock struct{}

func (RealClock) Now() time.Time                       { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Float64() float64                      { return rand.Float64() }

// Input is one chunk awaiting transcription.
type Input struct {
	ChunkIndex int
	AudioPath  string
	StartS     float64
	EndS       float64
}

// Outcome is one chunk's result, always populated at its input's position
// in Run's return slice regardless of success or failure.
type Outcome struct {
	ChunkIndex int
	Result     *transcribe.Result
	Err        error // non-nil if every retry was exhausted, the kind was fatal, or ctx was cancelled
	Elapsed    time.Duration
}

// Scheduler runs a fixed pool of workers pulling from a shared queue of
// chunks, retrying each chunk's backend call independently.
type Scheduler struct {
	backend       transcribe.Backend
	maxConcurrent int64
	perAttempt    time.Duration
	clock         Clock
}

// New builds a Scheduler bounded to maxConcurrent in-flight chunks.
func New(backend transcribe.Backend, maxConcurrent int, perAttemptTimeout time.Duration) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		backend:       backend,
		maxConcurrent: int64(maxConcurrent),
		perAttempt:    perAttemptTimeout,
		clock:         RealClock{},
	}
}

// WithClock overrides the Scheduler's Clock, for deterministic tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run dispatches every input to a worker, blocks until all have either
// completed or the queue was cancelled, and returns results ordered by
// ChunkIndex regardless of completion order. On cancellation, in-flight
// backend calls see the cancelled context, no further attempts are made,
// and pending chunks are never dispatched; the returned slice still holds
// one Outcome per input, with ctx.Err() as the Err of every chunk that was
// not dispatched.
func (s *Scheduler) Run(ctx context.Context, inputs []Input) []Outcome {
	log := logging.ForComponent("scheduler")
	sem := semaphore.NewWeighted(s.maxConcurrent)
	outcomes := make([]Outcome, len(inputs))
	dispatched := make([]bool, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Debug("scheduler cancelled before dispatch", "chunk_index", in.ChunkIndex)
			break
		}
		dispatched[i] = true
		wg.Add(1)
		go func(idx int, input Input) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[idx] = s.runOne(ctx, input)
		}(i, in)
	}
	// Wait for every dispatched worker to actually finish and write its
	// Outcome; sem.Release only signals the slot is free, not that the
	// goroutine holding it has returned.
	wg.Wait()

	result := make([]Outcome, 0, len(inputs))
	for i, in := range inputs {
		if dispatched[i] {
			result = append(result, outcomes[i])
		} else {
			result = append(result, Outcome{ChunkIndex: in.ChunkIndex, Err: ctx.Err()})
		}
	}
	return result
}

// runOne executes one chunk's backend call with retry-on-transient-failure.
func (s *Scheduler) runOne(ctx context.Context, in Input) Outcome {
	log := logging.ForComponent("scheduler")
	var lastErr error
	start := s.clock.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Outcome{ChunkIndex: in.ChunkIndex, Err: ctx.Err(), Elapsed: s.clock.Now().Sub(start)}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if s.perAttempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.perAttempt)
		}
		result, err := s.backend.Transcribe(attemptCtx, in.AudioPath, transcribe.Options{IncludeTimestamps: true})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return Outcome{ChunkIndex: in.ChunkIndex, Result: result, Elapsed: s.clock.Now().Sub(start)}
		}

		lastErr = err
		kind := failureKind(err)
		if !kind.Retryable() {
			break
		}

		log.Warn("chunk transcription failed, retrying", "chunk_index", in.ChunkIndex, "attempt", attempt+1, "error", err)
		if attempt < maxAttempts-1 {
			s.sleepBackoff(ctx, attempt)
		}
	}

	return Outcome{ChunkIndex: in.ChunkIndex, Err: lastErr, Elapsed: s.clock.Now().Sub(start)}
}

// sleepBackoff waits an exponentially growing, fully-jittered delay
// before the next retry attempt, or returns early on cancellation.
func (s *Scheduler) sleepBackoff(ctx context.Context, attempt int) {
	capped := math.Min(float64(maxBackoff), float64(baseBackoff)*math.Pow(backoffBase2, float64(attempt)))
	delay := time.Duration(s.clock.Float64() * capped)

	select {
	case <-ctx.Done():
	case <-s.clock.After(delay):
	}
}

func failureKind(err error) transcribe.FailureKind {
	var failure *transcribe.Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return transcribe.FailureNetwork
}
