package domain

import "time"

// JobStatus is the lifecycle state of a DuplicationJob.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobFailed }

// DuplicationStatus values are part of the public JSON contract.
type DuplicationStatus string

const (
	StatusDuplicating       DuplicationStatus = "duplicating"
	StatusDuplicationFailed DuplicationStatus = "duplication_failed"
	StatusDuplicated        DuplicationStatus = "duplicated"
)

// DuplicationJob records one request to copy a product. It is written when the
// request is accepted and updated by the worker when the copy finishes or fails.
type DuplicationJob struct {
	ID              string     `db:"id"`
	SourceProductID int64      `db:"source_product_id"`
	UserID          string     `db:"user_id"`
	Status          JobStatus  `db:"status"`
	ResultProductID *int64     `db:"result_product_id"`
	Error           *string    `db:"error"`
	StartedAt       time.Time  `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}
