package ingest

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Queue defaults. The ceiling matches what the archive can comfortably serve
// in parallel; the poll interval only matters when the queue is saturated.
const (
	DefaultConcurrency  = 10
	DefaultPollInterval = 200 * time.Millisecond
	DefaultJobTTL       = time.Hour
)

// Runner executes one job's pipeline. The progress callback may be called at
// any point during the run; values are 0-100.
type Runner interface {
	Run(ctx context.Context, p Payload, progress func(int)) (*Outcome, error)
}

// Options tune the queue.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	JobTTL       time.Duration
}

// Queue is a bounded-concurrency in-memory job queue with FIFO admission.
// The scheduler goroutine is started lazily on enqueue and exits when the
// queue drains, so an idle process carries no background work beyond the
// cleanup ticker.
type Queue struct {
	mu      sync.Mutex
	jobs    map[int64]*Job
	waiting []int64
	active  int
	running bool
	nextID  int64

	runner  Runner
	results *ResultCache
	opts    Options
	logger  zerolog.Logger
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// NewQueue creates a queue that executes jobs with runner and mirrors
// terminal states into results.
func NewQueue(runner Runner, results *ResultCache, opts Options, logger zerolog.Logger) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	return &Queue{
		jobs:    make(map[int64]*Job),
		runner:  runner,
		results: results,
		opts:    opts,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Enqueue registers a job and returns a snapshot immediately; the caller
// never waits on pipeline completion. The scheduler is started if it is not
// already running.
func (q *Queue) Enqueue(p Payload) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	job := &Job{
		ID:        q.nextID,
		Kind:      JobKindProcessStudy,
		Payload:   p,
		Status:    JobStatusWaiting,
		CreatedAt: q.nowFunc(),
	}
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)

	if !q.running {
		q.running = true
		go q.schedule()
	}

	q.logger.Info().
		Int64("job_id", job.ID).
		Str("request_id", p.RequestID).
		Str("external_study_id", p.ExternalStudyID).
		Int("queue_depth", len(q.waiting)).
		Msg("job enqueued")
	return job.clone()
}

// GetJob returns a snapshot of a job by id.
func (q *Queue) GetJob(id int64) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// GetJobByRequestID returns a snapshot of the job carrying the request id.
func (q *Queue) GetJobByRequestID(requestID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Payload.RequestID == requestID {
			return job.clone(), true
		}
	}
	return nil, false
}

// Stats reports how many jobs sit in each state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusWaiting:
			s.Waiting++
		case JobStatusActive:
			s.Active++
		case JobStatusCompleted:
			s.Completed++
		case JobStatusFailed:
			s.Failed++
		}
	}
	return s
}

// schedule admits waiting jobs FIFO up to the concurrency ceiling and exits
// once the queue is fully drained. Enqueue restarts it.
func (q *Queue) schedule() {
	for {
		q.mu.Lock()
		for q.active < q.opts.Concurrency && len(q.waiting) > 0 {
			id := q.waiting[0]
			q.waiting = q.waiting[1:]
			job := q.jobs[id]
			job.Status = JobStatusActive
			job.Progress = 10
			q.active++
			go q.run(id, job.Payload)
		}
		if q.active == 0 && len(q.waiting) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		time.Sleep(q.opts.PollInterval)
	}
}

// run executes one job. A panic in the pipeline fails only this job.
func (q *Queue) run(id int64, p Payload) {
	var (
		outcome *Outcome
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4096)
				n := runtime.Stack(stack, false)
				q.logger.Error().
					Int64("job_id", id).
					Interface("panic", r).
					Bytes("stack", stack[:n]).
					Msg("job panicked")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		outcome, err = q.runner.Run(context.Background(), p, func(pct int) {
			q.setProgress(id, pct)
		})
	}()
	q.finish(id, outcome, err)
}

func (q *Queue) setProgress(id int64, pct int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok && job.Status == JobStatusActive {
		job.Progress = pct
	}
}

// finish records the terminal state and mirrors it into the result cache so
// it outlives the job's eviction.
func (q *Queue) finish(id int64, outcome *Outcome, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.active--
		q.mu.Unlock()
		return
	}
	q.active--
	job.finishedAt = q.nowFunc()
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
		job.Result = outcome
		job.Progress = 100
	}
	result := JobResult{
		JobID:       job.ID,
		RequestID:   job.Payload.RequestID,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		Outcome:     job.Result,
		CompletedAt: job.finishedAt,
	}
	q.mu.Unlock()

	q.results.Put(result)

	if err != nil {
		q.logger.Error().
			Int64("job_id", id).
			Str("request_id", result.RequestID).
			Err(err).
			Msg("job failed")
		return
	}
	q.logger.Info().
		Int64("job_id", id).
		Str("request_id", result.RequestID).
		Str("study_uid", outcome.StudyUID).
		Str("method", outcome.Method).
		Msg("job completed")
}

// EvictExpired removes terminal jobs older than the job TTL and reports how
// many were dropped. Their results stay available through the result cache.
func (q *Queue) EvictExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.nowFunc()
	removed := 0
	for id, job := range q.jobs {
		if job.terminal() && now.Sub(job.finishedAt) > q.opts.JobTTL {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

// StartCleanup evicts expired terminal jobs on a ticker until ctx is
// cancelled.
func (q *Queue) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = q.opts.JobTTL / 4
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := q.EvictExpired(); n > 0 {
					q.logger.Debug().Int("evicted", n).Msg("evicted expired jobs")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
