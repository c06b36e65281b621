// Package worker runs queued duplication jobs.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gumroad/internal/domain"
	applog "gumroad/internal/log"
	"gumroad/internal/queue"
	"gumroad/internal/repos"
	"gumroad/internal/services"
)

// DuplicateProductWorker copies a product for a queued DuplicationJob. It is
// safe to run more than once for the same job.
type DuplicateProductWorker struct {
	Jobs   *repos.DuplicationRepo
	Users  *repos.UserRepo
	Locker Locker
	Quota  services.ProductCreationLimiter
	Now    func() time.Time
}

func NewDuplicateProductWorker(jobs *repos.DuplicationRepo, users *repos.UserRepo, locker Locker, quota services.ProductCreationLimiter) *DuplicateProductWorker {
	return &DuplicateProductWorker{Jobs: jobs, Users: users, Locker: locker, Quota: quota, Now: time.Now}
}

func (w *DuplicateProductWorker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *DuplicateProductWorker) Handler() queue.Handler { return w.Perform }

// Perform returns an error only when the job should be retried.
func (w *DuplicateProductWorker) Perform(ctx context.Context, jobID string) error {
	job, err := w.Jobs.Get(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		applog.BackgroundError("duplicate.job.missing", err, map[string]any{"job_id": jobID})
		return nil
	}
	if err != nil {
		return err
	}

	release, err := w.Locker.Lock(ctx, lockKey(job.SourceProductID))
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock; a previous delivery may have finished it.
	job, err = w.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	fields := map[string]any{"job_id": job.ID, "product_id": job.SourceProductID, "user_id": job.UserID}
	if job.Status.Terminal() {
		applog.Background("duplicate.job.skip", fields)
		return nil
	}

	claimed, err := w.Jobs.Claim(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Left running by a delivery that died mid-copy; the copy rolled back.
		applog.Background("duplicate.job.resume", fields)
	}
	job.Status = domain.JobRunning

	dup, err := w.Jobs.Copy(ctx, job, w.now())
	if err != nil {
		applog.BackgroundError("duplicate.job.failed", err, fields)
		if aerr := w.Jobs.Abort(ctx, job, err.Error(), w.now()); aerr != nil {
			return errors.Join(err, aerr)
		}
		return nil
	}
	// The flag is clear; the next duplication of this product may start now.
	release()

	fields["duplicate_id"] = dup.ID
	fields["duplicate_permalink"] = dup.Permalink
	applog.Background("duplicate.job.succeeded", fields)
	w.record(ctx, job.UserID)
	return nil
}

func (w *DuplicateProductWorker) record(ctx context.Context, userID string) {
	if w.Quota == nil || w.Users == nil {
		return
	}
	u, err := w.Users.ByID(ctx, userID)
	if err != nil {
		applog.BackgroundError("quota.record", err, map[string]any{"user_id": userID})
		return
	}
	if err := w.Quota.Record(ctx, u, services.ActionProductCreation); err != nil {
		applog.BackgroundError("quota.record", err, map[string]any{"user_id": userID})
	}
}
