// Package scheduler runs the periodic orchestration tasks: draining job queues
// into execution handlers, reconciling campaign state, failing stalled jobs,
// and promoting scheduled/recurring jobs when their due time arrives. The
// scheduler holds no domain logic about what a job does; handlers report a
// typed outcome and the scheduler drives the queue transitions from it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/guard"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/queue"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomePermanent
)

// Outcome is the typed result of one handler invocation. Retry decisions are
// driven by this value, never by inspecting error types at the loop boundary.
type Outcome struct {
	kind   outcomeKind
	reason string
}

// Success reports the job finished.
func Success() Outcome { return Outcome{kind: outcomeSuccess} }

// Retry reports a transient failure; the job re-enters pending with backoff.
func Retry(reason string) Outcome { return Outcome{kind: outcomeRetryable, reason: reason} }

// Permanent reports an unrecoverable failure; the job is dead-lettered
// immediately.
func Permanent(reason string) Outcome { return Outcome{kind: outcomePermanent, reason: reason} }

// Succeeded reports whether the job finished.
func (o Outcome) Succeeded() bool { return o.kind == outcomeSuccess }

// Retryable reports whether the outcome requests a retry with backoff.
func (o Outcome) Retryable() bool { return o.kind == outcomeRetryable }

// Reason returns the failure reason, empty on success.
func (o Outcome) Reason() string { return o.reason }

// Handler executes one job and classifies the result.
type Handler interface {
	Execute(ctx context.Context, job *models.Job) Outcome
}

// Config tunes the periodic task intervals and policies.
type Config struct {
	DrainInterval     time.Duration
	ReconcileInterval time.Duration
	StallInterval     time.Duration
	PromoteInterval   time.Duration

	StallTimeout    time.Duration // age in processing after which a job is failed
	ConflictRequeue time.Duration // deferral when the campaign guard is held
	MaxRetries      int           // budget for reconciler-enqueued jobs
}

// Scheduler owns the periodic loops. Construct with New, register a handler
// per job type, then Start.
type Scheduler struct {
	queue  *queue.Queue
	guard  *guard.Guard
	store  store.Store
	cfg    Config
	logger *slog.Logger

	handlers map[string]Handler

	// One run-lock per task so a slow tick is skipped rather than stacked.
	drainLocks    map[string]*sync.Mutex
	reconcileLock sync.Mutex
	stallLock     sync.Mutex
	promoteLock   sync.Mutex
}

// New creates a Scheduler. Handlers are registered separately before Start.
func New(q *queue.Queue, g *guard.Guard, s store.Store, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = time.Minute
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.StallInterval <= 0 {
		cfg.StallInterval = 15 * time.Minute
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Minute
	}
	if cfg.ConflictRequeue <= 0 {
		cfg.ConflictRequeue = 30 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Minute
	}
	return &Scheduler{
		queue:      q,
		guard:      g,
		store:      s,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		handlers:   make(map[string]Handler),
		drainLocks: make(map[string]*sync.Mutex),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (s *Scheduler) Register(jobType string, h Handler) {
	s.handlers[jobType] = h
	s.drainLocks[jobType] = &sync.Mutex{}
}

// Start launches all periodic loops. They run until ctx is canceled; the
// returned channel closes once every loop has stopped.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	var wg sync.WaitGroup

	for jobType, lock := range s.drainLocks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, "drain:"+jobType, s.cfg.DrainInterval, lock, func(ctx context.Context) error {
				return s.DrainOnce(ctx, jobType)
			})
		}()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		s.loop(ctx, "reconcile", s.cfg.ReconcileInterval, &s.reconcileLock, s.Reconcile)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "stalled", s.cfg.StallInterval, &s.stallLock, s.FailStalled)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "promote", s.cfg.PromoteInterval, &s.promoteLock, s.Promote)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// loop runs one periodic task. A tick that is still running when the next one
// fires is skipped, not stacked; tick errors are logged and the task runs
// again next interval. No task failure halts the others.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, lock *sync.Mutex, tick func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !lock.TryLock() {
				s.logger.Warn("previous tick still running, skipping", "task", name)
				continue
			}
			if err := s.safeTick(ctx, tick); err != nil {
				s.logger.Error("tick failed", "task", name, "error", err)
			}
			lock.Unlock()
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return tick(ctx)
}

// DrainOnce runs the next ready job of a type, if any.
func (s *Scheduler) DrainOnce(ctx context.Context, jobType string) error {
	job, err := s.queue.Next(ctx, jobType)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	return s.runJob(ctx, job)
}

// runJob is the shared execution path for the drain and promoter loops:
// admit through the guard, claim, execute, transition by outcome.
func (s *Scheduler) runJob(ctx context.Context, job *models.Job) error {
	handler, ok := s.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	entered, err := s.guard.TryEnter(ctx, job.CampaignID)
	if err != nil {
		return err
	}
	if !entered {
		// Not a failure: the campaign already has a pass in flight. Defer
		// without touching the retry budget.
		s.logger.Info("campaign busy, deferring job",
			"job_id", job.ID, "campaign_id", job.CampaignID, "delay", s.cfg.ConflictRequeue)
		return s.queue.Requeue(ctx, job.ID, s.cfg.ConflictRequeue)
	}
	defer func() {
		if err := s.guard.Exit(ctx, job.CampaignID); err != nil {
			s.logger.Error("guard release failed", "campaign_id", job.CampaignID, "error", err)
		}
	}()

	if err := s.queue.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, queue.ErrNotPending) {
			return nil // another worker claimed it first
		}
		return err
	}

	s.logger.Info("job started", "job_id", job.ID, "type", job.Type, "campaign_id", job.CampaignID)
	outcome := s.execute(ctx, handler, job)

	switch outcome.kind {
	case outcomeSuccess:
		if err := s.queue.MarkCompleted(ctx, job.ID); err != nil {
			return err
		}
		s.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
		return s.scheduleNextOccurrence(ctx, job)
	case outcomePermanent:
		s.logger.Warn("job failed permanently", "job_id", job.ID, "reason", outcome.reason)
		return s.queue.MarkDead(ctx, job.ID, outcome.reason)
	default:
		s.logger.Warn("job failed", "job_id", job.ID, "reason", outcome.reason,
			"retry_count", job.RetryCount+1, "max_retries", job.MaxRetries)
		return s.queue.MarkFailed(ctx, job.ID, outcome.reason)
	}
}

// execute invokes the handler, converting a panic into a retryable failure so
// one bad job cannot take the loop down.
func (s *Scheduler) execute(ctx context.Context, h Handler, job *models.Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "job_id", job.ID, "panic", r)
			out = Retry(fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return h.Execute(ctx, job)
}

// FailStalled fails processing jobs stuck past the stall timeout. This consumes
// retry budget like any other failure.
func (s *Scheduler) FailStalled(ctx context.Context) error {
	for jobType := range s.handlers {
		ids, err := s.queue.Stalled(ctx, jobType, s.cfg.StallTimeout)
		if err != nil {
			return err
		}
		for _, id := range ids {
			s.logger.Warn("stalled job detected", "job_id", id, "type", jobType)
			if err := s.queue.MarkFailed(ctx, id, "job timed out"); err != nil {
				s.logger.Error("failing stalled job", "job_id", id, "error", err)
			}
		}
	}
	return nil
}

// Promote runs scheduled jobs whose due time has passed through the
// normal execution path. Recurrence advancement happens on success inside
// runJob.
func (s *Scheduler) Promote(ctx context.Context) error {
	for jobType := range s.handlers {
		due, err := s.queue.DueScheduled(ctx, jobType)
		if err != nil {
			return err
		}
		for _, job := range due {
			if err := s.runJob(ctx, job); err != nil {
				s.logger.Error("promoted job run failed", "job_id", job.ID, "error", err)
			}
		}
	}
	return nil
}

// scheduleNextOccurrence enqueues the next run of a recurring job. No-op for
// unscheduled or once-only jobs; stops once the next occurrence would pass the
// schedule's end date.
func (s *Scheduler) scheduleNextOccurrence(ctx context.Context, job *models.Job) error {
	current, ok := job.ScheduledFor()
	if !ok {
		return nil
	}
	next, ok := NextOccurrence(current, job.Payload[models.PayloadRecurrence])
	if !ok {
		return nil
	}
	if raw, set := job.Payload[models.PayloadEndDate]; set {
		end, err := time.Parse(time.RFC3339, raw)
		if err == nil && next.After(end) {
			s.logger.Info("recurrence finished",
				"campaign_id", job.CampaignID, "type", job.Type, "end_date", raw)
			return nil
		}
	}

	payload := make(map[string]string, len(job.Payload))
	for k, v := range job.Payload {
		payload[k] = v
	}
	payload[models.PayloadScheduledFor] = next.UTC().Format(time.RFC3339)

	succ, err := s.queue.Add(ctx, job.Type, job.CampaignID, payload, job.Priority, job.MaxRetries)
	if err != nil {
		return fmt.Errorf("schedule next occurrence: %w", err)
	}
	s.logger.Info("next occurrence scheduled",
		"job_id", succ.ID, "campaign_id", job.CampaignID, "scheduled_for", payload[models.PayloadScheduledFor])
	return nil
}
