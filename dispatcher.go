package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
	"i4.energy/across/atlink/pdu"
)

// ErrQueueFull is returned by Enqueue when the outgoing queue is at
// capacity.
var ErrQueueFull = errors.New("send queue full")

// Sender submits one message to the network.
type Sender interface {
	Send(ctx context.Context, to, message string) (modem.SMSReference, error)
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobSending JobStatus = "sending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
)

// Job is an outgoing message and its delivery state.
type Job struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	Reference int       `json:"reference,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DispatcherOptions struct {
	MinInterval time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	QueueSize   int
	// KeepJobs bounds how many finished jobs stay queryable.
	KeepJobs int
	Logger   *slog.Logger
}

// Dispatcher drains the outgoing queue with a single worker, keeping at
// least MinInterval between submissions and resubmitting failed messages
// up to MaxRetries times.
type Dispatcher struct {
	sender Sender
	opts   DispatcherOptions
	queue  chan string

	mu       sync.RWMutex
	jobs     map[string]*Job
	finished []string
	retries  int
	counts   map[JobStatus]int

	desc map[string]*prometheus.Desc
}

func NewDispatcher(sender Sender, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.KeepJobs <= 0 {
		opts.KeepJobs = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		sender: sender,
		opts:   opts,
		queue:  make(chan string, opts.QueueSize),
		jobs:   make(map[string]*Job),
		counts: make(map[JobStatus]int),
		desc: map[string]*prometheus.Desc{
			"jobs":    prometheus.NewDesc("atlink_dispatcher_jobs", "Outgoing messages by status", []string{"status"}, nil),
			"queue":   prometheus.NewDesc("atlink_dispatcher_queue_length", "Messages waiting to be sent", nil, nil),
			"retries": prometheus.NewDesc("atlink_dispatcher_retries_total", "Resubmissions of failed messages", nil, nil),
		},
	}
}

// Enqueue validates and queues a message. Text that does not fit a
// single message is rejected here rather than by the worker.
func (d *Dispatcher) Enqueue(to, message string) (Job, error) {
	if _, err := pdu.EncodeText(message); err != nil {
		return Job{}, err
	}
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		To:        to,
		Message:   message,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case d.queue <- job.ID:
	default:
		return Job{}, ErrQueueFull
	}
	d.jobs[job.ID] = job
	d.counts[JobQueued]++
	return *job, nil
}

// Job returns a snapshot of the job with id.
func (d *Dispatcher) Job(id string) (Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	job, ok := d.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run is the worker loop. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var last time.Time
	for {
		var id string
		select {
		case <-ctx.Done():
			return
		case id = <-d.queue:
		}

		if wait := d.opts.MinInterval - time.Since(last); !last.IsZero() && wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		d.deliver(ctx, id)
		last = time.Now()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, id string) {
	job, ok := d.Job(id)
	if !ok {
		return
	}
	logger := d.opts.Logger.With("id", id, "to", job.To)

	for attempt := 1; ; attempt++ {
		d.update(id, func(j *Job) {
			j.Status = JobSending
			j.Attempts = attempt
		})
		ref, err := d.sender.Send(ctx, job.To, job.Message)
		if err == nil {
			d.update(id, func(j *Job) {
				j.Status = JobSent
				j.Reference = int(ref)
				j.Error = ""
			})
			logger.Info("SMS sent", "reference", ref, "attempts", attempt)
			return
		}

		if attempt > d.opts.MaxRetries || !retryable(err) || ctx.Err() != nil {
			d.update(id, func(j *Job) {
				j.Status = JobFailed
				j.Error = err.Error()
			})
			logger.Error("SMS failed", "error", err, "attempts", attempt)
			return
		}

		backoff := time.Duration(attempt) * d.opts.RetryDelay
		logger.Warn("SMS send failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)
		d.mu.Lock()
		d.retries++
		d.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

// retryable reports whether resubmitting could succeed without sending
// the message twice. A timeout after the body was written is not
// retried: the network may already have accepted the message.
func retryable(err error) bool {
	switch {
	case errors.Is(err, pdu.ErrTooLong),
		errors.Is(err, at.ErrBodyTimeout),
		errors.Is(err, modem.ErrAlreadyClosed),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (d *Dispatcher) update(id string, fn func(*Job)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return
	}
	before := job.Status
	fn(job)
	job.UpdatedAt = time.Now()
	if job.Status == before {
		return
	}
	d.counts[before]--
	d.counts[job.Status]++

	if job.Status == JobSent || job.Status == JobFailed {
		d.finished = append(d.finished, id)
		for len(d.finished) > d.opts.KeepJobs {
			old := d.finished[0]
			d.finished = d.finished[1:]
			d.counts[d.jobs[old].Status]--
			delete(d.jobs, old)
		}
	}
}

// Describe sends all metric descriptions to the Prometheus channel.
func (d *Dispatcher) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range d.desc {
		ch <- desc
	}
}

// Collect reports the current job counts.
func (d *Dispatcher) Collect(ch chan<- prometheus.Metric) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, status := range []JobStatus{JobQueued, JobSending, JobSent, JobFailed} {
		ch <- prometheus.MustNewConstMetric(d.desc["jobs"], prometheus.GaugeValue, float64(d.counts[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(d.desc["queue"], prometheus.GaugeValue, float64(len(d.queue)))
	ch <- prometheus.MustNewConstMetric(d.desc["retries"], prometheus.CounterValue, float64(d.retries))
}
