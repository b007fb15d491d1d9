package annotation

import (
	"context"
	"sync"
	"testing"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
	"github.com/yungbote/feedback-annotator/internal/warehouse/sqlstore"
)

var testTables = Tables{Feedback: "feedback", Sentiment: "sentiment"}

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(logger.Nop(), "sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedStore provisions both tables and loads feedback and sentiment rows.
func seedStore(t *testing.T, feedback []domain.FeedbackRecord, sentiments []domain.SentimentRecord) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s := newSQLiteStore(t)
	if err := NewProvisioner(logger.Nop(), s, testTables).EnsureAll(ctx); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	if len(feedback) > 0 {
		rows := make([]warehouse.Row, len(feedback))
		for i, f := range feedback {
			rows[i] = f.Row()
		}
		if rowErrs, err := s.InsertRows(ctx, testTables.Feedback, rows); err != nil || len(rowErrs) > 0 {
			t.Fatalf("seed feedback: err=%v rowErrs=%v", err, rowErrs)
		}
	}
	if len(sentiments) > 0 {
		rows := make([]warehouse.Row, len(sentiments))
		for i, r := range sentiments {
			rows[i] = r.Row()
		}
		if rowErrs, err := s.InsertRows(ctx, testTables.Sentiment, rows); err != nil || len(rowErrs) > 0 {
			t.Fatalf("seed sentiment: err=%v rowErrs=%v", err, rowErrs)
		}
	}
	return s
}

func feedback(ids ...string) []domain.FeedbackRecord {
	out := make([]domain.FeedbackRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.FeedbackRecord{ID: id, Review: "review " + id}
	}
	return out
}

func sentimentIDs(t *testing.T, s warehouse.Client) map[string]domain.Sentiment {
	t.Helper()
	rows, err := s.Query(context.Background(), `SELECT "Id", "Score", "Magnitude" FROM "sentiment"`)
	if err != nil {
		t.Fatalf("query sentiment: %v", err)
	}
	out := map[string]domain.Sentiment{}
	for _, r := range rows {
		id, _ := warehouse.AsString(r["Id"])
		score, _ := warehouse.AsFloat(r["Score"])
		mag, _ := warehouse.AsFloat(r["Magnitude"])
		out[id] = domain.Sentiment{Score: score, Magnitude: mag}
	}
	return out
}

// faultyStore overrides selected calls of a real store.
type faultyStore struct {
	warehouse.Client

	mu          sync.Mutex
	getTable    func(table string) error
	createTable func(table string) error
	query       func(call int) error
	insert      func(rows []warehouse.Row) ([]warehouse.RowError, error)
	queryCalls  int
	insertCalls int
}

func (f *faultyStore) GetTable(ctx context.Context, table string) (*warehouse.TableMetadata, error) {
	if f.getTable != nil {
		if err := f.getTable(table); err != nil {
			return nil, err
		}
	}
	return f.Client.GetTable(ctx, table)
}

func (f *faultyStore) CreateTable(ctx context.Context, table string, schema domain.Schema) (*warehouse.TableMetadata, error) {
	if f.createTable != nil {
		if err := f.createTable(table); err != nil {
			return nil, err
		}
	}
	return f.Client.CreateTable(ctx, table, schema)
}

func (f *faultyStore) Query(ctx context.Context, sql string) ([]warehouse.Row, error) {
	f.mu.Lock()
	f.queryCalls++
	call := f.queryCalls
	f.mu.Unlock()
	if f.query != nil {
		if err := f.query(call); err != nil {
			return nil, err
		}
	}
	return f.Client.Query(ctx, sql)
}

func (f *faultyStore) InsertRows(ctx context.Context, table string, rows []warehouse.Row) ([]warehouse.RowError, error) {
	f.mu.Lock()
	f.insertCalls++
	f.mu.Unlock()
	if f.insert != nil {
		return f.insert(rows)
	}
	return f.Client.InsertRows(ctx, table, rows)
}

// fakeBackend scores by id lookup on the review text.
type fakeBackend struct {
	mu    sync.Mutex
	texts []string
	score func(ctx context.Context, text string) (domain.Sentiment, error)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	b.mu.Lock()
	b.texts = append(b.texts, text)
	b.mu.Unlock()
	if b.score != nil {
		return b.score(ctx, text)
	}
	return domain.Sentiment{Score: 0.5, Magnitude: 1}, nil
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.texts)
}

type countingObserver struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (c *countingObserver) ObserveRun(r domain.RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func intPtr(n int) *int { return &n }
