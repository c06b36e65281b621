package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gumroad/internal/domain"
	"gumroad/internal/repos"
)

// ErrNotFound covers unknown permalinks and products owned by someone else.
var ErrNotFound = errors.New("product not found")

const DuplicationInProgressMessage = "Duplication in progress..."

// JobQueue hands accepted duplication jobs to the asynchronous worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.DuplicationJob) error
}

type RejectReason string

const (
	RejectQuotaExceeded RejectReason = "quota_exceeded"
	RejectInProgress    RejectReason = "duplication_in_progress"
)

// BeginResult is either Started (Reason empty, Job set) or a rejection.
type BeginResult struct {
	Job     *domain.DuplicationJob
	Reason  RejectReason
	Message string
}

func (r BeginResult) Started() bool { return r.Reason == "" }

type StatusResult struct {
	Status    domain.DuplicationStatus
	Product   domain.Product
	Duplicate *domain.Product
	Job       *domain.DuplicationJob
	// NeverStarted is set when a failed status means no duplication was ever requested.
	NeverStarted bool
}

type DuplicationService struct {
	Products *repos.ProductRepo
	Jobs     *repos.DuplicationRepo
	Quota    ProductCreationLimiter
	Queue    JobQueue
	Now      func() time.Time
}

func NewDuplicationService(products *repos.ProductRepo, jobs *repos.DuplicationRepo, quota ProductCreationLimiter, queue JobQueue) *DuplicationService {
	return &DuplicationService{Products: products, Jobs: jobs, Quota: quota, Queue: queue, Now: time.Now}
}

func (s *DuplicationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *DuplicationService) ownedProduct(ctx context.Context, permalink string, user *domain.User) (domain.Product, error) {
	permalink = strings.TrimSpace(permalink)
	if user == nil || permalink == "" {
		return domain.Product{}, ErrNotFound
	}
	p, err := s.Products.ByPermalink(ctx, permalink)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	if p.UserID != user.ID {
		return domain.Product{}, ErrNotFound
	}
	return p, nil
}

func inProgress() BeginResult {
	return BeginResult{Reason: RejectInProgress, Message: DuplicationInProgressMessage}
}

// Begin accepts a request to duplicate the product. At most one job is ever in
// flight per product: the flag transition is a single conditional update.
func (s *DuplicationService) Begin(ctx context.Context, permalink string, user *domain.User) (BeginResult, error) {
	p, err := s.ownedProduct(ctx, permalink, user)
	if err != nil {
		return BeginResult{}, err
	}
	if p.IsDuplicating {
		return inProgress(), nil
	}

	exceeded, err := s.Quota.Exceeded(ctx, user, ActionProductCreation)
	if err != nil {
		return BeginResult{}, fmt.Errorf("check product quota: %w", err)
	}
	if exceeded {
		return BeginResult{Reason: RejectQuotaExceeded, Message: QuotaExceededMessage(s.Quota.Limit())}, nil
	}

	job, started, err := s.Jobs.Start(ctx, p, s.now())
	if err != nil {
		return BeginResult{}, fmt.Errorf("start duplication of %s: %w", p.Permalink, err)
	}
	if !started {
		return inProgress(), nil
	}

	if err := s.Queue.Enqueue(ctx, job); err != nil {
		err = fmt.Errorf("enqueue duplication job %s: %w", job.ID, err)
		if aerr := s.Jobs.Abort(ctx, job, err.Error(), s.now()); aerr != nil {
			return BeginResult{}, errors.Join(err, aerr)
		}
		return BeginResult{}, err
	}
	return BeginResult{Job: &job}, nil
}

// Status reports the duplication state of the product. It never writes.
func (s *DuplicationService) Status(ctx context.Context, permalink string, user *domain.User) (StatusResult, error) {
	p, err := s.ownedProduct(ctx, permalink, user)
	if err != nil {
		return StatusResult{}, err
	}
	if p.IsDuplicating {
		return StatusResult{Status: domain.StatusDuplicating, Product: p}, nil
	}

	job, err := s.Jobs.Latest(ctx, p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusResult{Status: domain.StatusDuplicationFailed, Product: p, NeverStarted: true}, nil
	}
	if err != nil {
		return StatusResult{}, err
	}

	failed := StatusResult{Status: domain.StatusDuplicationFailed, Product: p, Job: &job}
	if job.Status != domain.JobSucceeded || job.ResultProductID == nil {
		return failed, nil
	}
	dup, err := s.Products.ByID(ctx, *job.ResultProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return failed, nil
	}
	if err != nil {
		return StatusResult{}, err
	}
	if dup.UserID != p.UserID {
		return failed, nil
	}
	return StatusResult{Status: domain.StatusDuplicated, Product: p, Duplicate: &dup, Job: &job}, nil
}

// Requeue hands every unfinished job back to the queue, for backends that lose
// their buffer on restart. It stops at the first enqueue error and reports how
// many jobs were handed over.
func (s *DuplicationService) Requeue(ctx context.Context) (int, error) {
	jobs, err := s.Jobs.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	for i, job := range jobs {
		if err := s.Queue.Enqueue(ctx, job); err != nil {
			return i, fmt.Errorf("requeue duplication job %s: %w", job.ID, err)
		}
	}
	return len(jobs), nil
}
