package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alikebrahim/neuravox/internal/transcribe"
)

// fakeClock never actually sleeps; it records every requested delay so
// tests can assert on backoff shape without real wall-clock time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time { return c.now }

// After fires immediately rather than waiting d, so retry tests run at
// full speed; the requested delay is still recorded for assertions.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Float64 returns 1.0 so tests can assert on the upper bound of the
// jittered backoff window deterministically.
func (c *fakeClock) Float64() float64 { return 1.0 }

// scriptedBackend returns a pre-scripted sequence of results per chunk
// index; each call to Transcribe pops the next scripted outcome.
type scriptedBackend struct {
	mu       sync.Mutex
	scripts  map[int][]scriptedCall
	calls    map[int]int
	inFlight int32
	maxSeen  int32
}

type scriptedCall struct {
	result *transcribe.Result
	err    error
	delay  time.Duration
}

func newScriptedBackend(scripts map[int][]scriptedCall) *scriptedBackend {
	return &scriptedBackend{scripts: scripts, calls: make(map[int]int)}
}

func (b *scriptedBackend) ID() string                 { return "scripted" }
func (b *scriptedBackend) RequiresCredential() string { return "" }
func (b *scriptedBackend) SupportsTimestamps() bool   { return true }

func (b *scriptedBackend) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	n := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&b.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&b.maxSeen, seen, n) {
			break
		}
	}

	var idx int
	if _, err := fmt.Sscanf(audioPath, "chunk-%d", &idx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	call := idx
	attempt := b.calls[call]
	b.calls[call] = attempt + 1
	script := b.scripts[call]
	b.mu.Unlock()

	if attempt >= len(script) {
		attempt = len(script) - 1
	}
	c := script[attempt]
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	return c.result, c.err
}

func TestRun_OrdersResultsByChunkIndexRegardlessOfCompletionOrder(t *testing.T) {
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {{result: &transcribe.Result{Text: "zero"}, delay: 30 * time.Millisecond}},
		1: {{result: &transcribe.Result{Text: "one"}}},
		2: {{result: &transcribe.Result{Text: "two"}}},
	})
	s := New(backend, 3, 0).WithClock(newFakeClock())

	inputs := []Input{
		{ChunkIndex: 0, AudioPath: "chunk-0"},
		{ChunkIndex: 1, AudioPath: "chunk-1"},
		{ChunkIndex: 2, AudioPath: "chunk-2"},
	}
	results := s.Run(context.Background(), inputs)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.ChunkIndex)
		require.NoError(t, r.Err)
	}
	assert.Equal(t, "zero", results[0].Result.Text)
	assert.Equal(t, "one", results[1].Result.Text)
	assert.Equal(t, "two", results[2].Result.Text)
}

func TestRun_RetriesTransientFailureThenSucceeds(t *testing.T) {
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {
			{err: &transcribe.Failure{Kind: transcribe.FailureServiceUnavailable, Message: "down"}},
			{result: &transcribe.Result{Text: "recovered"}},
		},
	})
	clock := newFakeClock()
	s := New(backend, 1, 0).WithClock(clock)

	results := s.Run(context.Background(), []Input{{ChunkIndex: 0, AudioPath: "chunk-0"}})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "recovered", results[0].Result.Text)
	require.Len(t, clock.delays, 1)
	assert.LessOrEqual(t, clock.delays[0], baseBackoff)
}

func TestRun_FatalFailureIsNotRetried(t *testing.T) {
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {
			{err: &transcribe.Failure{Kind: transcribe.FailureInvalidCredential, Message: "bad key"}},
			{result: &transcribe.Result{Text: "should never reach here"}},
		},
	})
	s := New(backend, 1, 0).WithClock(newFakeClock())

	results := s.Run(context.Background(), []Input{{ChunkIndex: 0, AudioPath: "chunk-0"}})

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, 1, backend.calls[0])
}

func TestRun_ExhaustsRetriesThenFails(t *testing.T) {
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {
			{err: &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: "1"}},
			{err: &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: "2"}},
			{err: &transcribe.Failure{Kind: transcribe.FailureNetwork, Message: "3"}},
		},
	})
	s := New(backend, 1, 0).WithClock(newFakeClock())

	results := s.Run(context.Background(), []Input{{ChunkIndex: 0, AudioPath: "chunk-0"}})

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, maxAttempts, backend.calls[0])
}

func TestRun_NeverExceedsMaxConcurrent(t *testing.T) {
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {{result: &transcribe.Result{Text: "a"}, delay: 15 * time.Millisecond}},
		1: {{result: &transcribe.Result{Text: "b"}, delay: 15 * time.Millisecond}},
		2: {{result: &transcribe.Result{Text: "c"}, delay: 15 * time.Millisecond}},
		3: {{result: &transcribe.Result{Text: "d"}, delay: 15 * time.Millisecond}},
	})
	s := New(backend, 2, 0).WithClock(newFakeClock())

	inputs := []Input{
		{ChunkIndex: 0, AudioPath: "chunk-0"},
		{ChunkIndex: 1, AudioPath: "chunk-1"},
		{ChunkIndex: 2, AudioPath: "chunk-2"},
		{ChunkIndex: 3, AudioPath: "chunk-3"},
	}
	results := s.Run(context.Background(), inputs)

	require.Len(t, results, 4)
	assert.LessOrEqual(t, int(backend.maxSeen), 2)
}

func TestRun_CancellationStopsNewDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := newScriptedBackend(map[int][]scriptedCall{
		0: {{result: &transcribe.Result{Text: "a"}, delay: 20 * time.Millisecond}},
		1: {{result: &transcribe.Result{Text: "b"}}},
	})
	s := New(backend, 1, 0).WithClock(newFakeClock())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	inputs := []Input{
		{ChunkIndex: 0, AudioPath: "chunk-0"},
		{ChunkIndex: 1, AudioPath: "chunk-1"},
	}
	results := s.Run(ctx, inputs)

	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.Equal(t, 1, results[1].ChunkIndex)
	assert.Error(t, results[1].Err)
}
