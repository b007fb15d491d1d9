package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
	"github.com/yungbote/feedback-annotator/internal/warehouse/sqlstore"
)

type memObjects map[string]string

func (m memObjects) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	body, ok := m[bucket+"/"+object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memObjects) Close() error { return nil }

type recordingStore struct {
	warehouse.Client
	inserted  []warehouse.Row
	calls     int
	reject    map[string]bool
	truncated bool
}

func (s *recordingStore) InsertRows(_ context.Context, _ string, rows []warehouse.Row) ([]warehouse.RowError, error) {
	s.calls++
	var rowErrs []warehouse.RowError
	for i, r := range rows {
		id, _ := warehouse.AsString(r[domain.ColumnID])
		if s.reject[id] {
			rowErrs = append(rowErrs, warehouse.RowError{Index: i, Err: errors.New("duplicate")})
			continue
		}
		s.inserted = append(s.inserted, r)
	}
	return rowErrs, nil
}

func (s *recordingStore) TruncateTable(context.Context, string) error {
	s.truncated = true
	return nil
}

func TestCSVLoaderMapsHeaderAndBatches(t *testing.T) {
	objects := memObjects{"reviews/feedback.csv": "Label,Review,Id\npositive,Great service,1\n,\"Slow, but friendly\",2\nnegative,Never again,3\n"}
	store := &recordingStore{}
	l := NewCSVLoader(logger.Nop(), objects, store, 2)

	n, err := l.LoadDelimitedFile(context.Background(), "reviews", "feedback.csv", "feedback", DefaultLoadOptions())
	if err != nil {
		t.Fatalf("LoadDelimitedFile: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows: want=3 got=%d", n)
	}
	if store.calls != 2 {
		t.Fatalf("insert calls: want=2 got=%d", store.calls)
	}
	second := store.inserted[1]
	if second[domain.ColumnReview] != "Slow, but friendly" {
		t.Fatalf("review: want=%q got=%v", "Slow, but friendly", second[domain.ColumnReview])
	}
	if second[domain.ColumnLabel] != nil {
		t.Fatalf("label: want nil got=%v", second[domain.ColumnLabel])
	}
	if store.inserted[0][domain.ColumnLabel] != "positive" {
		t.Fatalf("label: want=positive got=%v", store.inserted[0][domain.ColumnLabel])
	}
}

func TestCSVLoaderBadRecordBudget(t *testing.T) {
	objects := memObjects{"b/o.csv": "Id,Review\n1,fine\n,no id\n3,\n4,ok\n"}

	_, err := NewCSVLoader(logger.Nop(), objects, &recordingStore{}, 10).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{SkipLeadingRows: 1, MaxBadRecords: 1})
	if !errors.Is(err, ErrTooManyBadRecords) {
		t.Fatalf("LoadDelimitedFile: want ErrTooManyBadRecords got=%v", err)
	}

	store := &recordingStore{}
	n, err := NewCSVLoader(logger.Nop(), objects, store, 10).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{SkipLeadingRows: 1, MaxBadRecords: 2})
	if err != nil {
		t.Fatalf("LoadDelimitedFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows: want=2 got=%d", n)
	}
}

func TestCSVLoaderCountsStoreRejections(t *testing.T) {
	objects := memObjects{"b/o.csv": "1,a\n2,b\n"}
	store := &recordingStore{reject: map[string]bool{"2": true}}
	n, err := NewCSVLoader(logger.Nop(), objects, store, 10).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{MaxBadRecords: 1, Truncate: true})
	if err != nil {
		t.Fatalf("LoadDelimitedFile: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows: want=1 got=%d", n)
	}
	if !store.truncated {
		t.Fatalf("truncate: want=true got=false")
	}
}

func TestCSVLoaderMissingObject(t *testing.T) {
	_, err := NewCSVLoader(logger.Nop(), memObjects{}, &recordingStore{}, 10).
		LoadDelimitedFile(context.Background(), "b", "missing.csv", "feedback", DefaultLoadOptions())
	if err == nil {
		t.Fatalf("LoadDelimitedFile: want error for missing object")
	}
}

func TestCSVLoaderBadFileLeavesTableUntouched(t *testing.T) {
	objects := memObjects{"b/o.csv": "1,a\n,b\n,c\n"}
	store := &recordingStore{}
	_, err := NewCSVLoader(logger.Nop(), objects, store, 10).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{MaxBadRecords: 1, Truncate: true})
	if !errors.Is(err, ErrTooManyBadRecords) {
		t.Fatalf("LoadDelimitedFile: want ErrTooManyBadRecords got=%v", err)
	}
	if store.truncated {
		t.Fatalf("truncate: want=false got=true")
	}
	if store.calls != 0 {
		t.Fatalf("insert calls: want=0 got=%d", store.calls)
	}
}

func newKeyedFeedback(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(logger.Nop(), "sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	schema := domain.Schema{
		{Name: domain.ColumnID, Type: domain.FieldString, Required: true, Key: true},
		{Name: domain.ColumnReview, Type: domain.FieldString, Required: true},
		{Name: domain.ColumnLabel, Type: domain.FieldString},
	}
	ctx := context.Background()
	if _, err := s.CreateTable(ctx, "feedback", schema); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	old := []warehouse.Row{
		{domain.ColumnID: "old1", domain.ColumnReview: "kept"},
		{domain.ColumnID: "old2", domain.ColumnReview: "kept"},
	}
	if rowErrs, err := s.InsertRows(ctx, "feedback", old); err != nil || len(rowErrs) != 0 {
		t.Fatalf("InsertRows: err=%v rowErrs=%v", err, rowErrs)
	}
	return s
}

func feedbackIDs(t *testing.T, s *sqlstore.Store) []string {
	t.Helper()
	rows, err := s.Query(context.Background(), `SELECT "Id" FROM "feedback" ORDER BY "Id"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id, _ := warehouse.AsString(r[domain.ColumnID])
		ids = append(ids, id)
	}
	return ids
}

func TestCSVLoaderFailedTruncatingLoadKeepsExistingRows(t *testing.T) {
	s := newKeyedFeedback(t)
	// Duplicate ids parse fine and are only rejected by the table's key,
	// after the truncate has already run inside the transaction.
	objects := memObjects{"b/o.csv": "1,a\n1,b\n1,c\n"}
	n, err := NewCSVLoader(logger.Nop(), objects, s, 2).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{MaxBadRecords: 1, Truncate: true})
	if !errors.Is(err, ErrTooManyBadRecords) {
		t.Fatalf("LoadDelimitedFile: want ErrTooManyBadRecords got=%v", err)
	}
	if n != 0 {
		t.Fatalf("rows: want=0 got=%d", n)
	}
	if got := strings.Join(feedbackIDs(t, s), ","); got != "old1,old2" {
		t.Fatalf("ids: want=old1,old2 got=%s", got)
	}
}

func TestCSVLoaderTruncatingLoadReplacesRows(t *testing.T) {
	s := newKeyedFeedback(t)
	objects := memObjects{"b/o.csv": "1,a\n1,dup\n2,b\n"}
	n, err := NewCSVLoader(logger.Nop(), objects, s, 2).
		LoadDelimitedFile(context.Background(), "b", "o.csv", "feedback", LoadOptions{MaxBadRecords: 1, Truncate: true})
	if err != nil {
		t.Fatalf("LoadDelimitedFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows: want=2 got=%d", n)
	}
	if got := strings.Join(feedbackIDs(t, s), ","); got != "1,2" {
		t.Fatalf("ids: want=1,2 got=%s", got)
	}
}
