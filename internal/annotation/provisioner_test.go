package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

func TestEnsureAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	p := NewProvisioner(logger.Nop(), s, testTables)

	for i := 0; i < 2; i++ {
		if err := p.EnsureAll(ctx); err != nil {
			t.Fatalf("EnsureAll #%d: %v", i+1, err)
		}
	}

	fb, err := s.GetTable(ctx, testTables.Feedback)
	if err != nil {
		t.Fatalf("GetTable feedback: %v", err)
	}
	if got := strings.Join(fb.Schema.Names(), ","); got != "Id,Review,Label" {
		t.Fatalf("feedback columns: want=Id,Review,Label got=%s", got)
	}
	if f, _ := fb.Schema.Field(domain.ColumnLabel); f.Required {
		t.Fatalf("Label: want nullable got required")
	}
	st, err := s.GetTable(ctx, testTables.Sentiment)
	if err != nil {
		t.Fatalf("GetTable sentiment: %v", err)
	}
	if got := strings.Join(st.Schema.Names(), ","); got != "Id,Score,Magnitude" {
		t.Fatalf("sentiment columns: want=Id,Score,Magnitude got=%s", got)
	}
}

func TestEnsureTableKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, feedback("1", "2"), nil)
	p := NewProvisioner(logger.Nop(), s, testTables)

	if err := p.EnsureTable(ctx, testTables.Feedback, domain.FeedbackSchema); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	rows, err := s.Query(ctx, `SELECT "Id" FROM "feedback"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}
}

func TestEnsureTableConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	p := NewProvisioner(logger.Nop(), s, testTables)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.EnsureTable(ctx, testTables.Sentiment, domain.SentimentSchema)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if _, err := s.GetTable(ctx, testTables.Sentiment); err != nil {
		t.Fatalf("GetTable: %v", err)
	}
}

func TestEnsureTableLosingCreateRace(t *testing.T) {
	s := &faultyStore{
		Client:      newSQLiteStore(t),
		getTable:    func(string) error { return fmt.Errorf("sentiment: %w", warehouse.ErrTableNotFound) },
		createTable: func(string) error { return fmt.Errorf("409: %w", warehouse.ErrTableExists) },
	}
	p := NewProvisioner(logger.Nop(), s, testTables)
	if err := p.EnsureTable(context.Background(), testTables.Sentiment, domain.SentimentSchema); err != nil {
		t.Fatalf("EnsureTable: want nil got=%v", err)
	}
}

func TestEnsureTableWrapsStoreErrors(t *testing.T) {
	denied := errors.New("permission denied")
	cases := []struct {
		name  string
		store *faultyStore
		op    string
	}{
		{
			name:  "get",
			store: &faultyStore{getTable: func(string) error { return denied }},
			op:    "get",
		},
		{
			name: "create",
			store: &faultyStore{
				getTable:    func(string) error { return warehouse.ErrTableNotFound },
				createTable: func(string) error { return denied },
			},
			op: "create",
		},
	}
	for _, tc := range cases {
		tc.store.Client = newSQLiteStore(t)
		p := NewProvisioner(logger.Nop(), tc.store, testTables)
		err := p.EnsureTable(context.Background(), "feedback", domain.FeedbackSchema)
		var perr *domain.ProvisionError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: want *ProvisionError got=%v", tc.name, err)
		}
		if perr.Operation != tc.op || perr.Table != "feedback" {
			t.Fatalf("%s: got=%+v", tc.name, perr)
		}
		if !errors.Is(err, denied) {
			t.Fatalf("%s: cause not preserved: %v", tc.name, err)
		}
	}
}
