package domain

import "strings"

// FeedbackRecord is one customer review as ingested. Records are immutable
// once loaded and are never deleted by the annotation pipeline.
type FeedbackRecord struct {
	ID     string  `json:"id"`
	Review string  `json:"review"`
	Label  *string `json:"label,omitempty"`
}

// HasReview reports whether the record carries scoreable text.
func (r FeedbackRecord) HasReview() bool {
	return strings.TrimSpace(r.Review) != ""
}

// Sentiment is a backend's judgement of a single text.
// Score lies in [-1, 1]; Magnitude is non-negative and unbounded above.
type Sentiment struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

// SentimentRecord is the persisted annotation for one FeedbackRecord.
type SentimentRecord struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

func NewSentimentRecord(id string, s Sentiment) SentimentRecord {
	return SentimentRecord{ID: id, Score: s.Score, Magnitude: s.Magnitude}
}

// Row renders the record with the Sentiment table's column names.
func (r SentimentRecord) Row() map[string]any {
	return map[string]any{
		ColumnID:        r.ID,
		ColumnScore:     r.Score,
		ColumnMagnitude: r.Magnitude,
	}
}

func (r FeedbackRecord) Row() map[string]any {
	row := map[string]any{
		ColumnID:     r.ID,
		ColumnReview: r.Review,
	}
	if r.Label != nil {
		row[ColumnLabel] = *r.Label
	} else {
		row[ColumnLabel] = nil
	}
	return row
}
