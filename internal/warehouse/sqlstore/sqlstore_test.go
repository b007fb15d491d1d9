package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(logger.Nop(), "sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetTableNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTable(context.Background(), "feedback")
	if !errors.Is(err, warehouse.ErrTableNotFound) {
		t.Fatalf("GetTable: want ErrTableNotFound got=%v", err)
	}
}

func TestCreateTableTwiceReportsExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "sentiment", domain.SentimentSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	_, err := s.CreateTable(ctx, "sentiment", domain.SentimentSchema)
	if !errors.Is(err, warehouse.ErrTableExists) {
		t.Fatalf("second CreateTable: want ErrTableExists got=%v", err)
	}

	meta, err := s.GetTable(ctx, "sentiment")
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	if got := strings.Join(meta.Schema.Names(), ","); got != "Id,Score,Magnitude" {
		t.Fatalf("columns: want=Id,Score,Magnitude got=%s", got)
	}
	if f, _ := meta.Schema.Field("Score"); f.Type != domain.FieldFloat || !f.Required {
		t.Fatalf("Score field: got=%+v", f)
	}
}

func TestInsertRowsReportsRejectedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "sentiment", domain.SentimentSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	rows := []warehouse.Row{
		domain.NewSentimentRecord("a", domain.Sentiment{Score: 0.4, Magnitude: 1}).Row(),
		{"Id": "b", "Score": nil, "Magnitude": 0.5},
		domain.NewSentimentRecord("a", domain.Sentiment{Score: 0.1, Magnitude: 0}).Row(),
	}
	rowErrs, err := s.InsertRows(ctx, "sentiment", rows)
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if len(rowErrs) != 2 {
		t.Fatalf("row errors: want=2 got=%d (%v)", len(rowErrs), rowErrs)
	}
	if rowErrs[0].Index != 1 || rowErrs[1].Index != 2 {
		t.Fatalf("row error indexes: want=[1 2] got=[%d %d]", rowErrs[0].Index, rowErrs[1].Index)
	}

	out, err := s.Query(ctx, `SELECT "Id", "Score" FROM "sentiment"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("rows: want=1 got=%d", len(out))
	}
	if id, _ := warehouse.AsString(out[0]["Id"]); id != "a" {
		t.Fatalf("Id: want=a got=%q", id)
	}
}

func TestQueryMissingTable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Query(context.Background(), `SELECT "Id" FROM "nope"`)
	if !errors.Is(err, warehouse.ErrTableNotFound) {
		t.Fatalf("Query: want ErrTableNotFound got=%v", err)
	}
}

func TestTruncateTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "feedback", domain.FeedbackSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := s.InsertRows(ctx, "feedback", []warehouse.Row{domain.FeedbackRecord{ID: "1", Review: "ok"}.Row()}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if err := s.TruncateTable(ctx, "feedback"); err != nil {
		t.Fatalf("TruncateTable: %v", err)
	}
	out, err := s.Query(ctx, `SELECT "Id" FROM "feedback"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("rows after truncate: want=0 got=%d", len(out))
	}
}

func TestCreateTableDDL(t *testing.T) {
	s := &Store{dialect: "postgres"}
	got := s.createTableDDL("sentiment", domain.SentimentSchema)
	want := `CREATE TABLE "sentiment" ("Id" TEXT NOT NULL, "Score" DOUBLE PRECISION NOT NULL, "Magnitude" DOUBLE PRECISION NOT NULL, PRIMARY KEY ("Id"))`
	if got != want {
		t.Fatalf("ddl:\nwant=%s\n got=%s", want, got)
	}
}

func TestQueryComputedColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "sentiment", domain.SentimentSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	rows := []warehouse.Row{
		domain.SentimentRecord{ID: "a", Score: 0.5, Magnitude: 1}.Row(),
		domain.SentimentRecord{ID: "b", Score: -0.25, Magnitude: 2}.Row(),
	}
	if _, err := s.InsertRows(ctx, "sentiment", rows); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	out, err := s.Query(ctx, `SELECT COUNT(*) AS total, AVG("Score") AS avg_score, MIN("Id") || '!' AS tag FROM "sentiment"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("rows: want=1 got=%d", len(out))
	}
	if n, ok := warehouse.AsInt(out[0]["total"]); !ok || n != 2 {
		t.Fatalf("total: want=2 got=%v (%T)", out[0]["total"], out[0]["total"])
	}
	if avg, ok := warehouse.AsFloat(out[0]["avg_score"]); !ok || avg != 0.125 {
		t.Fatalf("avg_score: want=0.125 got=%v (%T)", out[0]["avg_score"], out[0]["avg_score"])
	}
	if tag, ok := warehouse.AsString(out[0]["tag"]); !ok || tag != "a!" {
		t.Fatalf("tag: want=a! got=%v (%T)", out[0]["tag"], out[0]["tag"])
	}
}

func TestInsertRowsStopsOnCanceledContext(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTable(context.Background(), "feedback", domain.FeedbackSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.InsertRows(ctx, "feedback", []warehouse.Row{domain.FeedbackRecord{ID: "1", Review: "ok"}.Row()})
	var inc *warehouse.IncompleteInsertError
	if !errors.As(err, &inc) || inc.Reached != 0 || !errors.Is(err, context.Canceled) {
		t.Fatalf("InsertRows: want IncompleteInsertError{Reached:0} got=%v", err)
	}
}

func TestInTransactionRollsBackTruncateAndInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "sentiment", domain.SentimentSchema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := s.InsertRows(ctx, "sentiment", []warehouse.Row{{"Id": "old", "Score": 0.1, "Magnitude": 0.1}}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}

	boom := errors.New("boom")
	err := s.InTransaction(ctx, func(tx warehouse.Client) error {
		if err := tx.(warehouse.Truncater).TruncateTable(ctx, "sentiment"); err != nil {
			return err
		}
		rowErrs, err := tx.InsertRows(ctx, "sentiment", []warehouse.Row{
			{"Id": "new", "Score": 0.5, "Magnitude": 0.5},
			{"Id": "new", "Score": 0.5, "Magnitude": 0.5},
		})
		if err != nil {
			return err
		}
		// The duplicate is rolled back to its savepoint; the first row stays visible in the tx.
		if len(rowErrs) != 1 || rowErrs[0].Index != 1 {
			t.Fatalf("rowErrs: want one at index 1 got=%v", rowErrs)
		}
		rows, err := tx.Query(ctx, `SELECT "Id" FROM "sentiment"`)
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			t.Fatalf("rows in tx: want=1 got=%d", len(rows))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTransaction: want boom got=%v", err)
	}

	rows, err := s.Query(ctx, `SELECT "Id" FROM "sentiment"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows: want=1 got=%d", len(rows))
	}
	if id, _ := warehouse.AsString(rows[0]["Id"]); id != "old" {
		t.Fatalf("id: want=old got=%s", id)
	}
}
