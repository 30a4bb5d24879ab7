package scheduler

import (
	"context"
	"time"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// activeStatuses are the campaign states the reconciler advances. Paused and
// terminal campaigns are left alone.
var activeStatuses = []string{
	models.CampaignStatusQueued,
	models.CampaignStatusRunning,
	models.CampaignStatusSearchCompleted,
}

// Reconcile advances every active campaign with no live jobs. Campaign
// progress is decided here by inspecting leads, not mutated directly by job
// completions, so one job's outcome never decides an entire campaign's state.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	for _, status := range activeStatuses {
		campaigns, err := s.store.ListCampaignsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, c := range campaigns {
			if err := s.reconcileCampaign(ctx, c); err != nil {
				s.logger.Error("campaign reconcile failed", "campaign_id", c.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) reconcileCampaign(ctx context.Context, c *models.Campaign) error {
	live, err := s.queue.HasLiveJobs(ctx, c.ID)
	if err != nil {
		return err
	}
	if live {
		return nil
	}

	total, processed, err := s.store.LeadCounts(ctx, c.ID)
	if err != nil {
		return err
	}
	if total != c.LeadsFound || processed != c.LeadsProcessed {
		if err := s.store.SetCampaignCounters(ctx, c.ID, total, processed); err != nil {
			return err
		}
	}

	// No live jobs but dead-lettered ones: the campaign is stuck. Surface the
	// last error for diagnosis.
	counts, err := s.queue.CountsByCampaign(ctx, c.ID)
	if err != nil {
		return err
	}
	if counts.Failed > 0 {
		reason := s.lastFailure(ctx, c)
		s.logger.Warn("campaign has only dead-lettered jobs, failing",
			"campaign_id", c.ID, "reason", reason)
		return s.store.UpdateCampaignStatus(ctx, c.ID, models.CampaignStatusFailed,
			store.WithLastError(reason))
	}

	switch {
	case total == 0 && c.Status != models.CampaignStatusSearchCompleted:
		job, err := s.queue.Add(ctx, models.JobTypeSearch, c.ID, schedulePayload(c), c.Priority, s.cfg.MaxRetries)
		if err != nil {
			return err
		}
		s.logger.Info("search job enqueued", "campaign_id", c.ID, "job_id", job.ID)
		return nil
	case processed < total:
		job, err := s.queue.Add(ctx, models.JobTypeProfileFetch, c.ID, nil, c.Priority, s.cfg.MaxRetries)
		if err != nil {
			return err
		}
		s.logger.Info("profile fetch job enqueued",
			"campaign_id", c.ID, "job_id", job.ID, "unprocessed", total-processed)
		return nil
	default:
		// Search ran and every lead is processed (or a completed search found
		// nothing). Terminal success.
		s.logger.Info("campaign completed", "campaign_id", c.ID, "leads", total)
		return s.store.UpdateCampaignStatus(ctx, c.ID, models.CampaignStatusCompleted)
	}
}

// lastFailure picks the most recent dead-lettered job's error for the
// campaign's terminal record.
func (s *Scheduler) lastFailure(ctx context.Context, c *models.Campaign) string {
	jobs, err := s.queue.JobsByCampaign(ctx, c.ID)
	if err != nil {
		return "job failed permanently"
	}
	reason := "job failed permanently"
	var latest *models.Job
	for _, j := range jobs {
		if j.FailedAt == nil || j.LastError == nil {
			continue
		}
		if latest == nil || j.FailedAt.After(*latest.FailedAt) {
			latest = j
		}
	}
	if latest != nil {
		reason = *latest.LastError
	}
	return reason
}

// schedulePayload carries a campaign's schedule into its search job so the
// promoter loop owns when it runs and how it recurs.
func schedulePayload(c *models.Campaign) map[string]string {
	if c.ScheduledFor == nil {
		return nil
	}
	payload := map[string]string{
		models.PayloadScheduledFor: c.ScheduledFor.UTC().Format(time.RFC3339),
	}
	if c.Recurrence != "" && c.Recurrence != models.RecurrenceOnce {
		payload[models.PayloadRecurrence] = c.Recurrence
	}
	if c.ScheduleEndDate != nil {
		payload[models.PayloadEndDate] = c.ScheduleEndDate.UTC().Format(time.RFC3339)
	}
	return payload
}
