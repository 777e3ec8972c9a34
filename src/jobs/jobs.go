/*
Package jobs runs the server's background workers: the card backfill and, in dev,
the local S3 server. Every worker gets a cancelable context with a job logger
attached, and the server waits on all of them at shutdown.
*/
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/utils"
	"github.com/rs/zerolog"
)

type Job struct {
	Name   string
	Ctx    context.Context
	Logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	skipped  bool
	runs     int
	failures int
	lastErr  error
	lastRun  time.Time
}

// What a job has been up to, for logging at shutdown.
type Status struct {
	Name      string    `json:"name"`
	Skipped   bool      `json:"skipped,omitempty"`
	Finished  bool      `json:"finished"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
}

func New(name string) *Job {
	logger := logging.With().Str("job", name).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		Name:   name,
		Ctx:    logging.AttachLoggerToContext(&logger, ctx),
		Logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// A job that never runs, because config turned it off or its preconditions
// aren't met. The reason is logged once.
func Skipped(name, reason string) *Job {
	job := New(name)
	job.skipped = true
	job.Logger.Info().Str("reason", reason).Msg("Background job not started")
	return job.Finish()
}

/*
Calls work after firstDelay and then every interval until the job is canceled.
Errors and panics from work are logged and counted, and the loop carries on. An
interval of zero or less means the job is disabled.
*/
func Every(name string, firstDelay, interval time.Duration, work func(ctx context.Context) error) *Job {
	if interval <= 0 {
		return Skipped(name, "interval is not positive")
	}

	job := New(name)
	go func() {
		defer func() {
			job.Logger.Info().Msg("Background job stopped")
			job.Finish()
		}()
		job.Logger.Info().Dur("interval", interval).Msg("Background job started")

		timer := time.NewTimer(firstDelay)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				job.RunOnce(work)
				timer.Reset(interval)
			case <-job.Canceled():
				return
			}
		}
	}()
	return job
}

// Runs one pass of work on the job's context and records the outcome.
func (j *Job) RunOnce(work func(ctx context.Context) error) error {
	err := func() (err error) {
		defer utils.RecoverPanicAsError(&err)
		return work(j.Ctx)
	}()

	j.mu.Lock()
	j.runs++
	j.lastRun = time.Now()
	j.lastErr = err
	if err != nil {
		j.failures++
	}
	j.mu.Unlock()

	if err != nil {
		j.Logger.Error().Err(err).Msg("Background job run failed")
	}
	return err
}

// Asks the job to stop. Work in progress sees its context canceled.
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) Canceled() <-chan struct{} {
	return j.Ctx.Done()
}

// Called by the job itself once it has nothing left running. Not safe to call
// twice.
func (j *Job) Finish() *Job {
	close(j.done)
	return j
}

func (j *Job) Finished() <-chan struct{} {
	return j.done
}

func (j *Job) IsFinished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Status{
		Name:     j.Name,
		Skipped:  j.skipped,
		Finished: j.IsFinished(),
		Runs:     j.runs,
		Failures: j.failures,
		LastRun:  j.lastRun,
	}
	if j.lastErr != nil {
		s.LastError = j.lastErr.Error()
	}
	return s
}

type Jobs []*Job

// Cancels every job and waits for them all to finish, up to timeout. Returns the
// names of the ones still running when time ran out.
func (jobs Jobs) CancelAndWait(timeout time.Duration) []string {
	for _, job := range jobs {
		job.Cancel()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, job := range jobs {
		select {
		case <-job.Finished():
		case <-deadline.C:
			return jobs.ListUnfinished()
		}
	}
	return nil
}

func (jobs Jobs) ListUnfinished() []string {
	unfinished := []string{}
	for _, job := range jobs {
		if !job.IsFinished() {
			unfinished = append(unfinished, job.Name)
		}
	}
	return unfinished
}

func (jobs Jobs) Statuses() []Status {
	statuses := make([]Status, len(jobs))
	for i, job := range jobs {
		statuses[i] = job.Status()
	}
	return statuses
}
