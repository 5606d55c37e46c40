package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/campaign"
	"github.com/reachkit/reachkit/internal/metrics"
	"github.com/reachkit/reachkit/internal/queue"
)

const maxAttempts = 3

// Dispatcher runs a scheduled campaign. Implemented by the campaign
// service.
type Dispatcher interface {
	SendScheduled(ctx context.Context, orgID, campaignID string) (*campaign.SendSummary, error)
}

// Worker polls the dispatch queue and runs campaigns whose scheduled time
// has arrived. It also implements campaign.Scheduler so the lifecycle
// service can enqueue runs.
type Worker struct {
	queue        queue.Queue
	dispatcher   Dispatcher
	pollInterval time.Duration
	logger       *slog.Logger
}

func New(q queue.Queue, dispatcher Dispatcher, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		queue:        q,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker"),
	}
}

// Schedule enqueues a future dispatch run for a campaign.
func (w *Worker) Schedule(campaignID, orgID string, runAt time.Time) error {
	return w.queue.Enqueue(context.Background(), &queue.Job{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		OrgID:      orgID,
		RunAt:      runAt,
	})
}

// Unschedule removes every queued job for a campaign. Called when a
// campaign is cancelled or deleted.
func (w *Worker) Unschedule(campaignID string) error {
	return w.queue.DeleteByCampaign(context.Background(), campaignID)
}

// Run polls until the context is cancelled. Each tick drains every due job.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.pollInterval)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
			w.publishStats(ctx)
		}
	}
}

// drain runs due jobs one at a time until the queue yields nothing.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", "error", err)
			return
		}
		if job == nil {
			return
		}
		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job) {
	log := w.logger.With("job_id", job.ID, "campaign_id", job.CampaignID)

	summary, err := w.dispatcher.SendScheduled(ctx, job.OrgID, job.CampaignID)
	switch {
	case err == nil:
		job.Status = queue.StatusDone
		log.Info("scheduled dispatch finished",
			"success", summary.SuccessCount,
			"failed", summary.FailureCount)

	case errors.Is(err, campaign.ErrInvalidState), errors.Is(err, campaign.ErrNotFound):
		// Campaign was cancelled, paused or deleted after scheduling; the
		// job has nothing left to do.
		job.Status = queue.StatusDone
		log.Info("scheduled dispatch skipped", "reason", err)

	case job.Attempts >= maxAttempts:
		job.Status = queue.StatusFailed
		job.LastError = err.Error()
		log.Error("scheduled dispatch failed permanently", "attempts", job.Attempts, "error", err)

	default:
		// Transient failure, back off and retry.
		job.Status = queue.StatusScheduled
		job.RunAt = time.Now().Add(backoff(job.Attempts))
		job.LastError = err.Error()
		log.Warn("scheduled dispatch failed, retrying",
			"attempts", job.Attempts,
			"next_run_at", job.RunAt,
			"error", err)
	}

	if err := w.queue.Update(ctx, job); err != nil {
		log.Error("job update failed", "error", err)
	}
}

func (w *Worker) publishStats(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueSize(int(stats.Scheduled))

	if bs, ok := w.queue.(*queue.BoltStorage); ok {
		oldest, err := bs.OldestScheduled(ctx)
		if err == nil {
			if oldest.IsZero() {
				metrics.SetQueueOldest(0)
			} else {
				metrics.SetQueueOldest(time.Since(oldest).Seconds())
			}
		}
	}
}

// backoff doubles per attempt: 30s, 1m, 2m.
func backoff(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
