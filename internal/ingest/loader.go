// Package ingest bulk-loads delimited feedback files from object storage
// into the Feedback table.
package ingest

import (
	"context"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

type LoadOptions struct {
	SkipLeadingRows int
	MaxBadRecords   int
	// Truncate replaces the table contents instead of appending.
	Truncate bool
	Schema   domain.Schema
}

func DefaultLoadOptions() LoadOptions {
	return LoadOptions{SkipLeadingRows: 1, Schema: domain.FeedbackSchema}
}

type Loader interface {
	// LoadDelimitedFile loads gs://bucket/object into table and returns the
	// number of rows written.
	LoadDelimitedFile(ctx context.Context, bucket, object, table string, opts LoadOptions) (int64, error)
}
