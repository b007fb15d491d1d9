package annotation

import (
	"context"
	"fmt"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

// JoinedRow is a feedback record with its sentiment, if any.
type JoinedRow struct {
	domain.FeedbackRecord
	Sentiment *domain.Sentiment `json:"sentiment,omitempty"`
}

type Summary struct {
	Total        int64    `json:"total"`
	Annotated    int64    `json:"annotated"`
	Pending      int64    `json:"pending"`
	AverageScore *float64 `json:"average_score,omitempty"`
}

// Inspector answers read-only questions about annotation progress.
type Inspector struct {
	log    *logger.Logger
	wh     warehouse.Client
	tables Tables
}

func NewInspector(log *logger.Logger, wh warehouse.Client, tables Tables) *Inspector {
	return &Inspector{log: log.With("service", "annotation.Inspector"), wh: wh, tables: tables}
}

func (in *Inspector) joinClause() string {
	id := in.wh.ColumnRef(domain.ColumnID)
	return fmt.Sprintf("%s AS f LEFT JOIN %s AS s ON f.%s = s.%s",
		in.wh.TableRef(in.tables.Feedback), in.wh.TableRef(in.tables.Sentiment), id, id)
}

// Joined lists feedback LEFT JOIN sentiment. A non-positive limit returns
// every row.
func (in *Inspector) Joined(ctx context.Context, limit int) ([]JoinedRow, error) {
	col := in.wh.ColumnRef
	sql := fmt.Sprintf("SELECT f.%s AS %s, f.%s AS %s, f.%s AS %s, s.%s AS %s, s.%s AS %s FROM %s ORDER BY f.%s",
		col(domain.ColumnID), col(domain.ColumnID),
		col(domain.ColumnReview), col(domain.ColumnReview),
		col(domain.ColumnLabel), col(domain.ColumnLabel),
		col(domain.ColumnScore), col(domain.ColumnScore),
		col(domain.ColumnMagnitude), col(domain.ColumnMagnitude),
		in.joinClause(), col(domain.ColumnID),
	)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := in.wh.Query(ctx, sql)
	if err != nil {
		return nil, &domain.QueryError{Operation: "inspect joined", Cause: err}
	}

	out := make([]JoinedRow, 0, len(rows))
	for _, row := range rows {
		rec, ok := decodeFeedback(row)
		if !ok {
			continue
		}
		jr := JoinedRow{FeedbackRecord: rec}
		score, okScore := warehouse.AsFloat(row[domain.ColumnScore])
		magnitude, okMag := warehouse.AsFloat(row[domain.ColumnMagnitude])
		if okScore && okMag {
			jr.Sentiment = &domain.Sentiment{Score: score, Magnitude: magnitude}
		}
		out = append(out, jr)
	}
	return out, nil
}

// Summary counts distinct ids, so duplicate sentiment rows (possible on
// stores without a unique key) never push Pending below zero.
func (in *Inspector) Summary(ctx context.Context) (Summary, error) {
	col := in.wh.ColumnRef
	id := col(domain.ColumnID)
	sql := fmt.Sprintf("SELECT COUNT(DISTINCT f.%s) AS total, COUNT(DISTINCT s.%s) AS annotated, AVG(s.%s) AS avg_score FROM %s",
		id, id, col(domain.ColumnScore), in.joinClause())
	rows, err := in.wh.Query(ctx, sql)
	if err != nil {
		return Summary{}, &domain.QueryError{Operation: "inspect summary", Cause: err}
	}
	if len(rows) == 0 {
		return Summary{}, nil
	}
	row := rows[0]
	var sum Summary
	sum.Total, _ = warehouse.AsInt(row["total"])
	sum.Annotated, _ = warehouse.AsInt(row["annotated"])
	sum.Pending = sum.Total - sum.Annotated
	if avg, ok := warehouse.AsFloat(row["avg_score"]); ok {
		sum.AverageScore = &avg
	}
	in.log.Debug("Annotation summary", "total", sum.Total, "annotated", sum.Annotated)
	return sum, nil
}
