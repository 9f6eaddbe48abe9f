package database

import (
	"context"
	"errors"
	"time"
)

// ErrResultNotFound is returned when a result row does not exist.
var ErrResultNotFound = errors.New("result not found")

// Result is one analyzed image as written by the upstream analysis pipeline.
// The dashboard only ever updates ReviewComment and ComplianceAssessment.
type Result struct {
	ID                   int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ImageName            string    `gorm:"column:image_name;type:text;not null"`
	S3URL                string    `gorm:"column:s3_url;type:text;not null"`
	ProductCount         string    `gorm:"column:product_count;type:text"` // semi-structured JSON payload
	ComplianceAssessment bool      `gorm:"column:compliance_assessment"`
	ReviewComment        string    `gorm:"column:review_comment;type:text"`
	Timestamp            time.Time `gorm:"column:timestamp;autoCreateTime"`
}

// ReviewStats summarizes the results table for the dashboard header cards.
type ReviewStats struct {
	Total     int
	Pass      int
	Fail      int
	Commented int
}

type ResultStore interface {
	// EnsureSchema creates the results table if it does not exist. The
	// production table is owned by the upstream pipeline; this is used by
	// the SQLite development path and by tests.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// InsertResult exists for the upstream pipeline, seeding, and tests.
	// The dashboard itself never inserts.
	InsertResult(ctx context.Context, result *Result) (int64, error)

	// ListResults returns all rows ordered by timestamp, newest first.
	ListResults(ctx context.Context) ([]*Result, error)
	GetResult(ctx context.Context, id int64) (*Result, error)
	UpdateReview(ctx context.Context, id int64, comment string, assessment bool) error
	Stats(ctx context.Context) (*ReviewStats, error)
}
