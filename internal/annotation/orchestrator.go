package annotation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/ctxutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/sentiment"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

const tracerName = "github.com/yungbote/feedback-annotator/internal/annotation"

// persistGrace bounds the flush of already-scored results after the run
// context has ended.
const persistGrace = 2 * time.Minute

// RunObserver receives every finished report.
type RunObserver interface {
	ObserveRun(report domain.RunReport)
}

type Options struct {
	DefaultLimit   int
	BatchSize      int
	Concurrency    int
	SelectAttempts int
	Observer       RunObserver
}

type Orchestrator struct {
	log     *logger.Logger
	wh      warehouse.Client
	backend sentiment.Backend
	tables  Tables
	prov    *Provisioner
	sel     *Selector
	opts    Options
	tracer  trace.Tracer
	now     func() time.Time
}

func NewOrchestrator(log *logger.Logger, wh warehouse.Client, backend sentiment.Backend, tables Tables, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		log:     log.With("service", "annotation.Orchestrator", "backend", backend.Name()),
		wh:      wh,
		backend: backend,
		tables:  tables,
		prov:    NewProvisioner(log, wh, tables),
		sel:     NewSelector(log, wh, tables, opts.SelectAttempts),
		opts:    opts,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

type scored struct {
	index  int
	record domain.SentimentRecord
}

// Run executes one annotation pass. limit overrides the default row limit
// when non-nil. The report is always populated, also when an error is
// returned. A canceled run persists what it scored and returns
// domain.ErrRunCanceled.
func (o *Orchestrator) Run(ctx context.Context, limit *int) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Backend:   o.backend.Name(),
		StartedAt: o.now().UTC(),
	}
	inv := ctxutil.InvocationFrom(ctx)
	log := o.log.With(append([]interface{}{"run_id", report.RunID}, inv.LogFields()...)...)

	ctx, span := o.tracer.Start(ctx, "annotation.Run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("sentiment.backend", report.Backend),
	))
	defer span.End()
	if inv != nil {
		span.SetAttributes(attribute.String("run.trigger", string(inv.Trigger)))
	}

	finish := func(state domain.RunState, err error) (domain.RunReport, error) {
		report.State = state
		report.FinishedAt = o.now().UTC()
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
			if state == domain.RunFailed {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.SetAttributes(
			attribute.String("run.state", string(state)),
			attribute.Int("run.selected", report.Selected),
			attribute.Int("run.persisted", report.Persisted),
		)
		if o.opts.Observer != nil {
			o.opts.Observer.ObserveRun(report)
		}
		kv := []interface{}{
			"state", state,
			"selected", report.Selected,
			"scored", report.Scored,
			"failed_to_score", report.FailedToScore,
			"persisted", report.Persisted,
			"failed_to_persist", report.FailedToPersist,
			"not_attempted", report.NotAttempted,
			"duration", report.Duration().String(),
		}
		switch {
		case state == domain.RunFailed:
			log.Error("Annotation run failed", append(kv, "error", err)...)
		case report.Canceled:
			log.Warn("Annotation run canceled", kv...)
		default:
			log.Info("Annotation run finished", kv...)
		}
		return report, err
	}

	report.State = domain.RunProvisioning
	if err := o.provision(ctx); err != nil {
		return finish(domain.RunFailed, err)
	}

	report.State = domain.RunSelecting
	n := o.opts.DefaultLimit
	if limit != nil {
		n = *limit
	}
	records, err := o.selectUnprocessed(ctx, n)
	if err != nil {
		return finish(domain.RunFailed, err)
	}
	report.Selected = len(records)
	if len(records) == 0 {
		log.Info("No unprocessed feedback; nothing to annotate")
		return finish(domain.RunDone, nil)
	}

	report.State = domain.RunScoring
	results := o.score(ctx, records, &report)

	// Scored results are flushed even if ctx ends meanwhile; only the grace
	// period bounds the flush.
	report.State = domain.RunPersisting
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistGrace)
	defer cancelPersist()
	err = o.persist(persistCtx, results, &report)
	if ctx.Err() != nil {
		report.Canceled = true
	}
	if err != nil {
		return finish(domain.RunFailed, err)
	}

	if report.Canceled {
		return finish(domain.RunDone, domain.ErrRunCanceled)
	}
	return finish(domain.RunDone, nil)
}

func (o *Orchestrator) provision(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "annotation.provision")
	defer span.End()
	if err := o.prov.EnsureAll(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provision failed")
		return err
	}
	return nil
}

func (o *Orchestrator) selectUnprocessed(ctx context.Context, limit int) ([]domain.FeedbackRecord, error) {
	ctx, span := o.tracer.Start(ctx, "annotation.select", trace.WithAttributes(attribute.Int("select.limit", limit)))
	defer span.End()
	records, err := o.sel.SelectUnprocessed(ctx, &limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("select.count", len(records)))
	return records, nil
}

// score fans records out to the backend through a bounded pool. Cancellation
// is checked before each dispatch; records never dispatched are counted as
// not attempted. Results come back in selection order.
func (o *Orchestrator) score(ctx context.Context, records []domain.FeedbackRecord, report *domain.RunReport) []domain.SentimentRecord {
	ctx, span := o.tracer.Start(ctx, "annotation.score", trace.WithAttributes(
		attribute.Int("score.records", len(records)),
		attribute.Int("score.concurrency", o.opts.Concurrency),
	))
	defer span.End()

	var (
		mu      sync.Mutex
		results = make([]scored, 0, len(records))
		g       errgroup.Group
	)
	g.SetLimit(o.opts.Concurrency)

	fail := func(id string, err error) {
		kind, _ := domain.ScoringKindOf(err)
		report.FailedToScore++
		report.Failures = append(report.Failures, domain.RecordFailure{
			ID:    id,
			Stage: domain.StageScoring,
			Kind:  string(kind),
			Error: err.Error(),
		})
		o.log.Warn("Scoring failed", "run_id", report.RunID, "id", id, "kind", kind, "error", err)
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			mu.Lock()
			report.Canceled = true
			report.NotAttempted = len(records) - i
			mu.Unlock()
			break
		}
		if !rec.HasReview() {
			mu.Lock()
			fail(rec.ID, domain.NewScoringError(o.backend.Name(), domain.ScoringInvalidInput, "empty review", nil))
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			s, err := o.backend.Score(ctx, rec.Review)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail(rec.ID, err)
				return nil
			}
			results = append(results, scored{index: i, record: domain.NewSentimentRecord(rec.ID, s)})
			report.Scored++
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		report.Canceled = true
	}
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	out := make([]domain.SentimentRecord, len(results))
	for i, r := range results {
		out[i] = r.record
	}
	span.SetAttributes(
		attribute.Int("score.ok", report.Scored),
		attribute.Int("score.failed", report.FailedToScore),
	)
	return out
}

// persist inserts results in BatchSize chunks. Rows the store rejects are
// recorded and skipped. When an insert call fails as a whole, the rows it
// never reached are marked failed and the remaining chunks are still tried;
// the first such failure is returned.
func (o *Orchestrator) persist(ctx context.Context, results []domain.SentimentRecord, report *domain.RunReport) error {
	if len(results) == 0 {
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "annotation.persist", trace.WithAttributes(
		attribute.Int("persist.rows", len(results)),
		attribute.Int("persist.batch_size", o.opts.BatchSize),
	))
	defer span.End()

	table := o.tables.Sentiment
	var fatal error
	for start := 0; start < len(results); start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, len(results))
		chunk := results[start:end]
		rows := make([]warehouse.Row, len(chunk))
		for i, r := range chunk {
			rows[i] = warehouse.Row(r.Row())
		}

		rowErrs, err := o.wh.InsertRows(ctx, table, rows)
		reached := len(chunk)
		if err != nil {
			reached = 0
			var inc *warehouse.IncompleteInsertError
			if errors.As(err, &inc) {
				reached = max(0, min(inc.Reached, len(chunk)))
			}
			perr := &domain.PersistError{Table: table, Index: start + reached, Batch: true, Cause: err}
			for _, r := range chunk[reached:] {
				report.Failures = append(report.Failures, domain.RecordFailure{
					ID: r.ID, Stage: domain.StagePersisting, Kind: "batch", Error: perr.Error(),
				})
			}
			report.FailedToPersist += len(chunk) - reached
			o.log.Error("Sentiment insert failed", "run_id", report.RunID, "table", table,
				"rows", len(chunk), "written_before_failure", reached, "error", err)
			if fatal == nil {
				fatal = perr
			}
		}

		rejected := make(map[int]struct{}, len(rowErrs))
		for _, re := range rowErrs {
			if re.Index < 0 || re.Index >= reached {
				o.log.Warn("Store reported an out-of-range row", "run_id", report.RunID, "index", re.Index, "error", re.Err)
				continue
			}
			if _, dup := rejected[re.Index]; dup {
				continue
			}
			rejected[re.Index] = struct{}{}
			rec := chunk[re.Index]
			perr := &domain.PersistError{Table: table, ID: rec.ID, Index: start + re.Index, Cause: re.Err}
			report.Failures = append(report.Failures, domain.RecordFailure{
				ID: rec.ID, Stage: domain.StagePersisting, Kind: "row", Error: perr.Error(),
			})
			o.log.Warn("Sentiment row rejected", "run_id", report.RunID, "id", rec.ID, "error", re.Err)
		}
		report.FailedToPersist += len(rejected)
		report.Persisted += reached - len(rejected)
	}

	span.SetAttributes(
		attribute.Int("persist.ok", report.Persisted),
		attribute.Int("persist.failed", report.FailedToPersist),
	)
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "persist failed")
	}
	return fatal
}
