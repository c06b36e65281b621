package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"gumroad/internal/domain"
)

// maxPermalinkAttempts bounds the "-copy", "-copy-2", ... search.
const maxPermalinkAttempts = 50

var ErrNoFreePermalink = errors.New("no free permalink for duplicate")

type DuplicationRepo struct{ db *sqlx.DB }

func NewDuplicationRepo(db *sqlx.DB) *DuplicationRepo { return &DuplicationRepo{db: db} }

const jobColumns = `id, source_product_id, user_id, status, result_product_id, error, started_at, completed_at`

func (r *DuplicationRepo) Get(ctx context.Context, id string) (domain.DuplicationJob, error) {
	var j domain.DuplicationJob
	err := r.db.GetContext(ctx, &j, `SELECT `+jobColumns+` FROM duplication_jobs WHERE id = ?`, id)
	return j, err
}

// Latest returns the most recently started job for the source product, or
// sql.ErrNoRows.
func (r *DuplicationRepo) Latest(ctx context.Context, sourceProductID int64) (domain.DuplicationJob, error) {
	var j domain.DuplicationJob
	err := r.db.GetContext(ctx, &j, `
		SELECT `+jobColumns+`
		FROM duplication_jobs
		WHERE source_product_id = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, sourceProductID)
	return j, err
}

// Pending lists jobs that were accepted but never reached a terminal state,
// oldest first.
func (r *DuplicationRepo) Pending(ctx context.Context) ([]domain.DuplicationJob, error) {
	var jobs []domain.DuplicationJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM duplication_jobs
		WHERE status IN (?, ?)
		ORDER BY started_at
	`, domain.JobQueued, domain.JobRunning)
	return jobs, err
}

// Start flips the product's is_duplicating flag from false to true and records a
// queued job in the same transaction. started is false when the flag was
// already set, in which case nothing is written.
func (r *DuplicationRepo) Start(ctx context.Context, product domain.Product, now time.Time) (job domain.DuplicationJob, started bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return job, false, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := markDuplicating(ctx, tx, product.ID)
	if err != nil || !ok {
		return job, false, err
	}

	job = domain.DuplicationJob{
		ID:              uuid.NewString(),
		SourceProductID: product.ID,
		UserID:          product.UserID,
		Status:          domain.JobQueued,
		StartedAt:       dbTime(now),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO duplication_jobs(id, source_product_id, user_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.SourceProductID, job.UserID, job.Status, job.StartedAt); err != nil {
		return job, false, err
	}
	if err := tx.Commit(); err != nil {
		return job, false, err
	}
	return job, true, nil
}

// Claim moves a queued job to running. It reports false if another worker got
// there first or the job is no longer queued.
func (r *DuplicationRepo) Claim(ctx context.Context, jobID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE duplication_jobs SET status = ?
		WHERE id = ? AND status = ?
	`, domain.JobRunning, jobID, domain.JobQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Abort marks the job failed and clears the source flag.
func (r *DuplicationRepo) Abort(ctx context.Context, job domain.DuplicationJob, reason string, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE duplication_jobs SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, domain.JobFailed, reason, dbTime(now), job.ID); err != nil {
		return err
	}
	if err := clearDuplicating(ctx, tx, job.SourceProductID); err != nil {
		return err
	}
	return tx.Commit()
}

// Copy creates the duplicate of the job's source product with its files,
// subtitles and preorder link, marks the job succeeded and clears the source
// flag, all in one transaction.
func (r *DuplicationRepo) Copy(ctx context.Context, job domain.DuplicationJob, now time.Time) (domain.Product, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Product{}, err
	}
	defer func() { _ = tx.Rollback() }()

	src, err := productByID(ctx, tx, job.SourceProductID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("load source product %d: %w", job.SourceProductID, err)
	}

	dup := domain.Product{
		UserID:      src.UserID,
		Name:        src.Name + " (copy)",
		Description: src.Description,
		NativeType:  src.NativeType,
		Price:       src.Price,
		Currency:    src.Currency,
		CreatedAt:   now,
	}
	if err := insertWithFreePermalink(ctx, tx, &dup, src.Permalink); err != nil {
		return domain.Product{}, err
	}

	files, err := productFiles(ctx, tx, src.ID)
	if err != nil {
		return domain.Product{}, err
	}
	for _, f := range files {
		subs, err := subtitles(ctx, tx, f.ID)
		if err != nil {
			return domain.Product{}, err
		}
		nf := domain.ProductFile{
			ProductID:   dup.ID,
			ExternalID:  uuid.NewString(),
			URL:         f.URL,
			DisplayName: f.DisplayName,
			Position:    f.Position,
		}
		if err := insertFile(ctx, tx, &nf); err != nil {
			return domain.Product{}, err
		}
		for _, s := range subs {
			ns := domain.SubtitleFile{ProductFileID: nf.ID, URL: s.URL, Language: s.Language}
			if err := insertSubtitle(ctx, tx, &ns); err != nil {
				return domain.Product{}, err
			}
		}
	}

	pl, err := preorder(ctx, tx, src.ID)
	switch {
	case err == nil:
		np := domain.PreorderLink{ProductID: dup.ID, ReleaseAt: pl.ReleaseAt, URL: pl.URL}
		if err := insertPreorder(ctx, tx, &np); err != nil {
			return domain.Product{}, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Product{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE duplication_jobs SET status = ?, result_product_id = ?, error = NULL, completed_at = ?
		WHERE id = ?
	`, domain.JobSucceeded, dup.ID, dbTime(now), job.ID); err != nil {
		return domain.Product{}, err
	}
	if err := clearDuplicating(ctx, tx, src.ID); err != nil {
		return domain.Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Product{}, err
	}
	return dup, nil
}

// insertWithFreePermalink tries base-copy, base-copy-2, ... until an insert
// succeeds. Each attempt runs under a savepoint so a unique-key failure does
// not poison the surrounding transaction.
func insertWithFreePermalink(ctx context.Context, tx *sqlx.Tx, p *domain.Product, base string) error {
	for i := 1; i <= maxPermalinkAttempts; i++ {
		candidate := base + "-copy"
		if i > 1 {
			candidate = fmt.Sprintf("%s-copy-%d", base, i)
		}
		var taken int
		if err := tx.GetContext(ctx, &taken, `SELECT COUNT(*) FROM products WHERE unique_permalink = ?`, candidate); err != nil {
			return err
		}
		if taken > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT permalink_attempt`); err != nil {
			return err
		}
		p.Permalink = candidate
		err := insertProduct(ctx, tx, p)
		if err == nil {
			_, err = tx.ExecContext(ctx, `RELEASE SAVEPOINT permalink_attempt`)
			return err
		}
		if !isUniqueViolation(err) {
			return err
		}
		if _, rerr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT permalink_attempt`); rerr != nil {
			return rerr
		}
	}
	return ErrNoFreePermalink
}
