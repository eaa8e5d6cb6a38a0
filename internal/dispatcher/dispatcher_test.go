package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(d.Shutdown)
	return d
}

func TestNewRejectsInvalidSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1} {
		d, err := New(Config{Workers: n}, nil)
		require.ErrorIs(t, err, ErrInvalidSize)
		assert.Nil(t, d)
	}

	_, err := New(Config{Workers: 1, QueueCapacity: -1}, nil)
	require.Error(t, err)
}

func TestDispatcherRunsEveryJobExactlyOnce(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		for _, jobs := range []int{0, 1, 250} {
			t.Run(fmt.Sprintf("workers=%d/jobs=%d", workers, jobs), func(t *testing.T) {
				t.Parallel()

				d, err := New(Config{Workers: workers}, zap.NewNop())
				require.NoError(t, err)
				assert.Equal(t, workers, d.Size())

				counts := make([]atomic.Int32, jobs)
				for i := 0; i < jobs; i++ {
					i := i
					require.NoError(t, d.Submit(context.Background(), func() { counts[i].Add(1) }))
				}
				d.Shutdown()

				for i := range counts {
					require.Equalf(t, int32(1), counts[i].Load(), "job %d", i)
				}
				assert.Equal(t, int64(jobs), d.Stats().Executed)
			})
		}
	}
}

func TestShutdownDrainsPendingJobs(t *testing.T) {
	t.Parallel()

	d, err := New(Config{Workers: 2}, zap.NewNop())
	require.NoError(t, err)

	const jobs = 20
	var done atomic.Int32
	for i := 0; i < jobs; i++ {
		require.NoError(t, d.Submit(context.Background(), func() {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		}))
	}
	d.Shutdown()

	assert.Equal(t, int32(jobs), done.Load())
	assert.Zero(t, d.Pending())
}

func TestShutdownWithoutJobsReturnsPromptly(t *testing.T) {
	t.Parallel()

	d, err := New(Config{Workers: 8}, zap.NewNop())
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		d.Shutdown()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("shutdown of idle pool did not return")
	}
}

func TestShutdownIsIdempotentAndConcurrent(t *testing.T) {
	t.Parallel()

	d, err := New(Config{Workers: 3}, zap.NewNop())
	require.NoError(t, err)

	release := make(chan struct{})
	var ran atomic.Bool
	require.NoError(t, d.Submit(context.Background(), func() {
		<-release
		ran.Store(true)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Shutdown()
			// Every caller observes the drained pool.
			assert.True(t, ran.Load())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	d.Shutdown()

	assert.True(t, d.Stats().Closed)
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	d, err := New(Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	d.Shutdown()

	require.ErrorIs(t, d.Submit(context.Background(), func() {}), ErrClosed)
	require.ErrorIs(t, d.TrySubmit(func() {}), ErrClosed)
}

func TestSubmitNilJob(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, Config{Workers: 1})
	require.ErrorIs(t, d.Submit(context.Background(), nil), ErrNilJob)
	require.ErrorIs(t, d.TrySubmit(nil), ErrNilJob)
}

func TestConcurrentProducersNeverLoseOrDuplicate(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 10, 200
	d, err := New(Config{Workers: 4}, zap.NewNop())
	require.NoError(t, err)

	counts := make([]atomic.Int32, producers*perProducer)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				idx := p*perProducer + i
				assert.NoError(t, d.Submit(context.Background(), func() { counts[idx].Add(1) }))
			}
		}(p)
	}
	wg.Wait()
	d.Shutdown()

	for i := range counts {
		require.Equalf(t, int32(1), counts[i].Load(), "job %d", i)
	}
}

func TestPanickingJobsDoNotShrinkPool(t *testing.T) {
	t.Parallel()

	const workers = 3
	d, err := New(Config{Workers: workers}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < workers*2; i++ {
		require.NoError(t, d.Submit(context.Background(), func() { panic("bad connection") }))
	}

	// Every worker must still be able to hold a job concurrently.
	var started sync.WaitGroup
	started.Add(workers)
	release := make(chan struct{})
	for i := 0; i < workers; i++ {
		require.NoError(t, d.Submit(context.Background(), func() {
			started.Done()
			<-release
		}))
	}
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	select {
	case <-allStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("pool lost workers after panics")
	}
	assert.Equal(t, workers, d.Stats().Active)
	close(release)
	d.Shutdown()

	stats := d.Stats()
	assert.Equal(t, int64(workers*2), stats.Panicked)
	assert.Equal(t, int64(workers*3), stats.Executed)
}

func TestBoundedQueueBackpressure(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, Config{Workers: 1, QueueCapacity: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	// Worker is busy; one slot in the queue.
	require.NoError(t, d.TrySubmit(func() {}))
	require.ErrorIs(t, d.TrySubmit(func() {}), ErrBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Submit(ctx, func() {}), context.DeadlineExceeded)

	blocked := make(chan error, 1)
	go func() {
		blocked <- d.Submit(context.Background(), func() {})
	}()
	select {
	case err := <-blocked:
		t.Fatalf("submit on full queue returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked submit did not resume")
	}
	assert.True(t, d.Stats().Bounded)
}

func TestStatsReportsPending(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(context.Background(), func() {}))
	}

	stats := d.Stats()
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 3, stats.Pending)
	assert.False(t, stats.Bounded)
	assert.False(t, stats.Closed)
	require.Len(t, stats.PerWorker, 1)
	assert.Equal(t, WorkerStats{ID: 0, State: "executing"}, stats.PerWorker[0])
	close(release)
}
