// Package queue implements the durable, priority-ordered job queue on Redis
// sorted sets. Jobs are JSON records at job:<id>; per-type sorted sets hold job
// ids scored by priority tier and time, so ZRANGE order is dequeue order and
// deferred jobs naturally sort behind currently-due ones.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrNotPending is returned by MarkProcessing when another worker already
	// claimed the job.
	ErrNotPending = errors.New("job is not in the pending set")
	// ErrNotProcessing is returned by MarkCompleted when the caller does not
	// hold the processing claim.
	ErrNotProcessing = errors.New("job is not in the processing set")
)

// priorityWeight spaces priority tiers apart in the score. Within a tier,
// earlier timestamps (in ms) dequeue first; the weight dwarfs any realistic
// ms timestamp so a higher tier always dequeues first. Scores stay under
// 2^53, so float64 set scores hold them exactly.
const priorityWeight = 1_000_000_000_000_000

// nextPeekBatch is the page size Next scans the pending set with while
// skipping deferred entries.
const nextPeekBatch = 10

// moveScript atomically moves a job id between two sorted sets. ZREM is the
// claim: only the caller that removed the member performs the ZADD, so two
// concurrent workers can never both claim one job.
var moveScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

// Config tunes retry backoff and completed-record retention.
type Config struct {
	BackoffBase time.Duration
	Retention   time.Duration
}

// Queue is the Redis-backed job queue. Safe for concurrent use; all cross-set
// moves go through a single server-side script.
type Queue struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the queue's clock, used by tests to make backoff and
// retention deterministic.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.now = clock
		}
	}
}

// New creates a Queue. Zero config fields fall back to one minute backoff base
// and 24h retention.
func New(client *redis.Client, cfg Config, opts ...Option) *Queue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	q := &Queue{client: client, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// score computes the sort key: priority tier dominates, time in ms breaks ties
// FIFO within a tier. Deferred jobs carry a future time component.
func score(priority string, at time.Time) float64 {
	return float64(int64(models.PriorityRank(priority))*priorityWeight + at.UnixMilli())
}

// dueAt recovers the time component of a member's score.
func dueAt(priority string, memberScore float64) time.Time {
	ms := int64(memberScore) - int64(models.PriorityRank(priority))*priorityWeight
	return time.UnixMilli(ms)
}

// Add enqueues a new job and returns it. If the payload carries a scheduled_for
// time in the future, the job is deferred until then; such jobs are picked up
// by the scheduler's promoter, not the drain loop.
func (q *Queue) Add(ctx context.Context, jobType string, campaignID uuid.UUID, payload map[string]string, priority string, maxRetries int) (*models.Job, error) {
	if !models.ValidJobType(jobType) {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if !models.ValidPriority(priority) {
		return nil, fmt.Errorf("unknown priority %q", priority)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	now := q.now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		Type:       jobType,
		CampaignID: campaignID,
		Priority:   priority,
		Payload:    payload,
		CreatedAt:  now,
		MaxRetries: maxRetries,
	}

	at := now
	if due, ok := job.ScheduledFor(); ok && due.After(now) {
		at = due
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, setKey(jobType, stagePending), redis.Z{Score: score(priority, at), Member: job.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Next peeks the highest-priority due job of the given type without claiming
// it. Jobs carrying a scheduled_for payload belong to the promoter loop and are
// skipped here. The scan pages through the whole pending set, so a due job is
// found even behind a head full of deferred or scheduled entries. Returns nil
// when nothing is ready.
func (q *Queue) Next(ctx context.Context, jobType string) (*models.Job, error) {
	now := q.now()
	for offset := int64(0); ; offset += nextPeekBatch {
		members, err := q.client.ZRangeWithScores(ctx, setKey(jobType, stagePending), offset, offset+nextPeekBatch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("peek pending set: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}
		for _, m := range members {
			id := m.Member.(string)
			job, err := q.getJob(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				// Orphaned member whose record expired; drop it. The removal
				// shifts later members down one rank, so the offset compensates.
				q.client.ZRem(ctx, setKey(jobType, stagePending), id)
				offset--
				continue
			}
			if err != nil {
				return nil, err
			}
			if _, scheduled := job.ScheduledFor(); scheduled {
				continue
			}
			if dueAt(job.Priority, m.Score).After(now) {
				continue
			}
			return job, nil
		}
	}
}

// DueScheduled returns pending jobs carrying a scheduled_for payload whose due
// time has passed, in score order.
func (q *Queue) DueScheduled(ctx context.Context, jobType string) ([]*models.Job, error) {
	members, err := q.client.ZRangeWithScores(ctx, setKey(jobType, stagePending), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending set: %w", err)
	}

	now := q.now()
	var due []*models.Job
	for _, m := range members {
		job, err := q.getJob(ctx, m.Member.(string))
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, scheduled := job.ScheduledFor(); !scheduled {
			continue
		}
		if !dueAt(job.Priority, m.Score).After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

// MarkProcessing claims a pending job: sets startedAt and atomically moves the
// id from pending to processing. Returns ErrNotPending if another worker won
// the claim. The processing-set score is the start time in ms, which the
// stalled-job detector ranges over.
func (q *Queue) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	job, err := q.getJob(ctx, id.String())
	if err != nil {
		return err
	}

	now := q.now().UTC()
	claimed, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stagePending), setKey(job.Type, stageProcessing)},
		id.String(), float64(now.UnixMilli()),
	).Int()
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if claimed != 1 {
		return ErrNotPending
	}

	job.StartedAt = &now
	return q.saveJob(ctx, job, 0)
}

// MarkCompleted moves a processing job to the completed set. The record is kept
// for the retention window for observability, then garbage collected.
func (q *Queue) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	job, err := q.getJob(ctx, id.String())
	if err != nil {
		return err
	}

	now := q.now().UTC()
	claimed, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stageProcessing), setKey(job.Type, stageCompleted)},
		id.String(), float64(now.UnixMilli()),
	).Int()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if claimed != 1 {
		// The member still sits in pending or failed; recording a completion
		// here would leave a completed job dequeueable.
		return ErrNotProcessing
	}

	job.CompletedAt = &now
	if err := q.saveJob(ctx, job, q.cfg.Retention); err != nil {
		return err
	}

	// Opportunistic GC of completed members past retention.
	cutoff := now.Add(-q.cfg.Retention).UnixMilli()
	q.client.ZRemRangeByScore(ctx, setKey(job.Type, stageCompleted), "-inf", fmt.Sprintf("%d", cutoff))
	return nil
}

// MarkFailed records a failure. Below the retry budget the job is re-enqueued
// into pending with an exponential backoff delay (2^retryCount x backoff base);
// once the budget is spent it is dead-lettered into the failed set.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	job, err := q.getJob(ctx, id.String())
	if err != nil {
		return err
	}

	now := q.now().UTC()
	job.RetryCount++
	job.LastError = &reason
	job.StartedAt = nil

	if job.RetryCount < job.MaxRetries {
		delay := time.Duration(1<<uint(job.RetryCount)) * q.cfg.BackoffBase
		job.FailedAt = nil
		if err := q.saveJob(ctx, job, 0); err != nil {
			return err
		}
		return q.requeueFromProcessing(ctx, job, now.Add(delay))
	}

	job.FailedAt = &now
	if err := q.saveJob(ctx, job, 0); err != nil {
		return err
	}
	if _, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stageProcessing), setKey(job.Type, stageFailed)},
		id.String(), float64(now.UnixMilli()),
	).Int(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

// MarkDead dead-letters a processing job immediately, bypassing the remaining
// retry budget. Used for permanent failures where retrying cannot help.
func (q *Queue) MarkDead(ctx context.Context, id uuid.UUID, reason string) error {
	job, err := q.getJob(ctx, id.String())
	if err != nil {
		return err
	}

	now := q.now().UTC()
	job.RetryCount = job.MaxRetries
	job.LastError = &reason
	job.StartedAt = nil
	job.FailedAt = &now
	if err := q.saveJob(ctx, job, 0); err != nil {
		return err
	}
	if _, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stageProcessing), setKey(job.Type, stageFailed)},
		id.String(), float64(now.UnixMilli()),
	).Int(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

// Requeue defers a pending job that cannot run yet (e.g. its campaign is
// already in flight). Does not consume retry budget. If the job is no longer
// pending the deferral is a no-op: another worker claimed it in the meantime,
// and demoting that claim back into pending would let the job run twice.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	job, err := q.getJob(ctx, id.String())
	if err != nil {
		return err
	}
	at := q.now().UTC().Add(delay)
	if _, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stagePending), setKey(job.Type, stagePending)},
		id.String(), score(job.Priority, at),
	).Int(); err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	return nil
}

// requeueFromProcessing moves a claimed job back into the pending set with a
// (possibly future) time component. The move is conditional the same way
// claims are: a member not in processing is left where it is.
func (q *Queue) requeueFromProcessing(ctx context.Context, job *models.Job, at time.Time) error {
	if _, err := moveScript.Run(ctx, q.client,
		[]string{setKey(job.Type, stageProcessing), setKey(job.Type, stagePending)},
		job.ID.String(), score(job.Priority, at),
	).Int(); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// Stalled returns ids of processing jobs started before the cutoff.
func (q *Queue) Stalled(ctx context.Context, jobType string, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()
	members, err := q.client.ZRangeByScore(ctx, setKey(jobType, stageProcessing), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan processing set: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns a single job record by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return q.getJob(ctx, id.String())
}

// JobsByCampaign scans every named set of every type and returns the campaign's
// jobs.
func (q *Queue) JobsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*models.Job, error) {
	var jobs []*models.Job
	err := q.scanCampaign(ctx, campaignID, func(job *models.Job, jobType, stage string) error {
		jobs = append(jobs, job)
		return nil
	})
	return jobs, err
}

// RemoveByCampaign removes a campaign's jobs from all named sets and deletes
// their records. Running work is not interrupted; cancellation means no future
// work. Returns the number of jobs removed.
func (q *Queue) RemoveByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	removed := 0
	err := q.scanCampaign(ctx, campaignID, func(job *models.Job, jobType, stage string) error {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, setKey(jobType, stage), job.ID.String())
		pipe.Del(ctx, jobKey(job.ID))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("remove job %s: %w", job.ID, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Counts holds per-stage job counts for one campaign.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CountsByCampaign derives a campaign's job status counts by scanning queue
// membership.
func (q *Queue) CountsByCampaign(ctx context.Context, campaignID uuid.UUID) (Counts, error) {
	var c Counts
	err := q.scanCampaign(ctx, campaignID, func(job *models.Job, jobType, stage string) error {
		switch stage {
		case stagePending:
			c.Pending++
		case stageProcessing:
			c.Processing++
		case stageCompleted:
			c.Completed++
		case stageFailed:
			c.Failed++
		}
		return nil
	})
	return c, err
}

// HasLiveJobs reports whether the campaign has any non-terminal (pending or
// processing) jobs. Used by the reconciliation pass as its enqueue gate.
func (q *Queue) HasLiveJobs(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	live := false
	err := q.scanCampaign(ctx, campaignID, func(job *models.Job, jobType, stage string) error {
		if stage == stagePending || stage == stageProcessing {
			live = true
		}
		return nil
	})
	return live, err
}

// Size returns the number of pending jobs for a type.
func (q *Queue) Size(ctx context.Context, jobType string) (int64, error) {
	n, err := q.client.ZCard(ctx, setKey(jobType, stagePending)).Result()
	if err != nil {
		return 0, fmt.Errorf("pending set size: %w", err)
	}
	return n, nil
}

// Ping checks store connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) scanCampaign(ctx context.Context, campaignID uuid.UUID, visit func(job *models.Job, jobType, stage string) error) error {
	for _, jobType := range []string{models.JobTypeSearch, models.JobTypeProfileFetch} {
		for _, stage := range stages {
			members, err := q.client.ZRange(ctx, setKey(jobType, stage), 0, -1).Result()
			if err != nil {
				return fmt.Errorf("scan %s/%s: %w", jobType, stage, err)
			}
			for _, m := range members {
				job, err := q.getJob(ctx, m)
				if errors.Is(err, ErrJobNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if job.CampaignID != campaignID {
					continue
				}
				if err := visit(job, jobType, stage); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (q *Queue) getJob(ctx context.Context, id string) (*models.Job, error) {
	raw, err := q.client.Get(ctx, "job:"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.client.Set(ctx, jobKey(job.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
