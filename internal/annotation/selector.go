package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/pkg/httpx"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

type Selector struct {
	log      *logger.Logger
	wh       warehouse.Client
	tables   Tables
	attempts int
	backoff  time.Duration
}

// NewSelector returns a Selector that retries a query failing with
// ErrTableNotFound up to attempts times, covering tables that were just
// created and are not yet visible to queries.
func NewSelector(log *logger.Logger, wh warehouse.Client, tables Tables, attempts int) *Selector {
	if attempts < 1 {
		attempts = 1
	}
	return &Selector{
		log:      log.With("service", "annotation.Selector"),
		wh:       wh,
		tables:   tables,
		attempts: attempts,
		backoff:  time.Second,
	}
}

// UnprocessedQuery renders the anti-join between Feedback and Sentiment.
// A nil or non-positive limit means no limit.
func (s *Selector) UnprocessedQuery(limit *int) string {
	id := s.wh.ColumnRef(domain.ColumnID)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s, %s FROM %s WHERE %s NOT IN (SELECT %s FROM %s WHERE %s IS NOT NULL)",
		id, s.wh.ColumnRef(domain.ColumnReview), s.wh.ColumnRef(domain.ColumnLabel),
		s.wh.TableRef(s.tables.Feedback),
		id, id, s.wh.TableRef(s.tables.Sentiment), id,
	)
	if limit != nil && *limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", *limit)
	}
	return b.String()
}

// SelectUnprocessed returns feedback records that have no sentiment record.
// The order of the result is unspecified.
func (s *Selector) SelectUnprocessed(ctx context.Context, limit *int) ([]domain.FeedbackRecord, error) {
	sql := s.UnprocessedQuery(limit)

	var (
		rows []warehouse.Row
		err  error
	)
	for attempt := 1; attempt <= s.attempts; attempt++ {
		rows, err = s.wh.Query(ctx, sql)
		if err == nil || !errors.Is(err, warehouse.ErrTableNotFound) || attempt == s.attempts {
			break
		}
		sleep := httpx.JitterSleep(httpx.Backoff(s.backoff, 30*time.Second, attempt))
		s.log.Warn("Table not visible yet, retrying selection", "attempt", attempt, "sleep", sleep.String(), "error", err)
		if serr := httpx.Sleep(ctx, sleep); serr != nil {
			err = serr
			break
		}
	}
	if err != nil {
		return nil, &domain.QueryError{Operation: "select unprocessed", Cause: err}
	}

	out := make([]domain.FeedbackRecord, 0, len(rows))
	for i, row := range rows {
		rec, ok := decodeFeedback(row)
		if !ok {
			s.log.Warn("Skipping feedback row without an id", "row", i)
			continue
		}
		out = append(out, rec)
	}
	s.log.Debug("Selected unprocessed feedback", "count", len(out))
	return out, nil
}

func decodeFeedback(row warehouse.Row) (domain.FeedbackRecord, bool) {
	id, ok := warehouse.AsString(row[domain.ColumnID])
	if !ok || id == "" {
		return domain.FeedbackRecord{}, false
	}
	rec := domain.FeedbackRecord{ID: id}
	rec.Review, _ = warehouse.AsString(row[domain.ColumnReview])
	if label, ok := warehouse.AsString(row[domain.ColumnLabel]); ok {
		rec.Label = &label
	}
	return rec, true
}
