package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
	"i4.energy/across/atlink/pdu"
)

// recordingSender answers with the queued results in order and records
// when each call happened.
type recordingSender struct {
	mu      sync.Mutex
	results []error
	calls   []time.Time
}

func (s *recordingSender) Send(ctx context.Context, to, message string) (modem.SMSReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if len(s.results) == 0 {
		return modem.SMSReference(len(s.calls)), nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return modem.SMSReference(len(s.calls)), err
}

func (s *recordingSender) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

func startDispatcher(t *testing.T, sender Sender, opts DispatcherOptions) *Dispatcher {
	t.Helper()
	opts.Logger = discardLogger()
	d := NewDispatcher(sender, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func waitFinished(t *testing.T, d *Dispatcher, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		job, _ = d.Job(id)
		return job.Status == JobSent || job.Status == JobFailed
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func TestDispatcherSends(t *testing.T) {
	sender := &recordingSender{}
	d := startDispatcher(t, sender, DispatcherOptions{})

	queued, err := d.Enqueue("+420603123456", "Hello")
	require.NoError(t, err)

	job := waitFinished(t, d, queued.ID)
	assert.Equal(t, JobSent, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 1, job.Reference)
	assert.Empty(t, job.Error)
}

func TestDispatcherRetries(t *testing.T) {
	t.Run("Succeeds after a transient failure", func(t *testing.T) {
		noPrompt := fmt.Errorf("%w: %w", at.ErrTimeout, at.ErrNoPrompt)
		sender := &recordingSender{results: []error{noPrompt}}
		d := startDispatcher(t, sender, DispatcherOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

		queued, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)

		job := waitFinished(t, d, queued.ID)
		assert.Equal(t, JobSent, job.Status)
		assert.Equal(t, 2, job.Attempts)
	})

	t.Run("Gives up after the retry limit", func(t *testing.T) {
		cmsErr := &at.Error{Kind: at.KindCMS, Code: 500}
		sender := &recordingSender{results: []error{cmsErr, cmsErr, cmsErr}}
		d := startDispatcher(t, sender, DispatcherOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

		queued, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)

		job := waitFinished(t, d, queued.ID)
		assert.Equal(t, JobFailed, job.Status)
		assert.Equal(t, 3, job.Attempts)
		assert.Equal(t, cmsErr.Error(), job.Error)
		d.mu.RLock()
		assert.Equal(t, 2, d.retries)
		d.mu.RUnlock()
	})

	t.Run("Timeout after the body is not retried", func(t *testing.T) {
		bodyTimeout := fmt.Errorf("submit: %w", fmt.Errorf("%w: %w", at.ErrTimeout, at.ErrBodyTimeout))
		sender := &recordingSender{results: []error{bodyTimeout}}
		d := startDispatcher(t, sender, DispatcherOptions{MaxRetries: 3, RetryDelay: time.Millisecond})

		queued, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)

		job := waitFinished(t, d, queued.ID)
		assert.Equal(t, JobFailed, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Len(t, sender.callTimes(), 1)
	})

	t.Run("Closed modem is not retried", func(t *testing.T) {
		sender := &recordingSender{results: []error{modem.ErrAlreadyClosed}}
		d := startDispatcher(t, sender, DispatcherOptions{MaxRetries: 5, RetryDelay: time.Millisecond})

		queued, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)

		job := waitFinished(t, d, queued.ID)
		assert.Equal(t, JobFailed, job.Status)
		assert.Equal(t, 1, job.Attempts)
	})
}

func TestDispatcherMinInterval(t *testing.T) {
	sender := &recordingSender{}
	interval := 50 * time.Millisecond
	d := startDispatcher(t, sender, DispatcherOptions{MinInterval: interval})

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitFinished(t, d, id)
	}

	calls := sender.callTimes()
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval)
	}
}

func TestDispatcherEnqueue(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, DispatcherOptions{QueueSize: 1, Logger: discardLogger()})

	_, err := d.Enqueue("+420603123456", strings.Repeat("x", 161))
	assert.ErrorIs(t, err, pdu.ErrTooLong)

	job, err := d.Enqueue("+420603123456", "first")
	require.NoError(t, err)
	got, ok := d.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobQueued, got.Status)

	_, err = d.Enqueue("+420603123456", "second")
	assert.ErrorIs(t, err, ErrQueueFull)

	_, ok = d.Job("missing")
	assert.False(t, ok)
}

func TestDispatcherPrunesFinishedJobs(t *testing.T) {
	d := startDispatcher(t, &recordingSender{}, DispatcherOptions{KeepJobs: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := d.Enqueue("+420603123456", "Hello")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	require.Eventually(t, func() bool {
		job, ok := d.Job(ids[2])
		return ok && job.Status == JobSent
	}, 3*time.Second, 5*time.Millisecond)

	_, ok := d.Job(ids[0])
	assert.False(t, ok, "oldest finished job should be pruned")
	_, ok = d.Job(ids[1])
	assert.True(t, ok)
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(&pdu.TooLongError{Limit: 160, Actual: 161}))
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(modem.ErrAlreadyClosed))
	assert.True(t, retryable(at.ErrTimeout))
	assert.True(t, retryable(fmt.Errorf("%w: %w", at.ErrTimeout, at.ErrNoPrompt)))
	assert.False(t, retryable(fmt.Errorf("%w: %w", at.ErrTimeout, at.ErrBodyTimeout)))
	assert.True(t, retryable(errors.New("port busy")))
}

func TestDispatcherMetrics(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, DispatcherOptions{Logger: discardLogger()})
	_, err := d.Enqueue("+420603123456", "Hello")
	require.NoError(t, err)

	// jobs by four statuses, queue length and retries
	assert.Equal(t, 6, testutil.CollectAndCount(d))
	assert.Equal(t, 4, testutil.CollectAndCount(d, "atlink_dispatcher_jobs"))
}
