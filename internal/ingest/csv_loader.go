package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/gcp"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

// ErrTooManyBadRecords aborts a load once MaxBadRecords is exceeded.
var ErrTooManyBadRecords = errors.New("too many bad records")

// CSVLoader parses an object with encoding/csv and inserts it with the
// warehouse client. It serves stores without a native load path.
type CSVLoader struct {
	log       *logger.Logger
	objects   gcp.ObjectStore
	store     warehouse.Client
	batchSize int
}

var _ Loader = (*CSVLoader)(nil)

func NewCSVLoader(log *logger.Logger, objects gcp.ObjectStore, store warehouse.Client, batchSize int) *CSVLoader {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &CSVLoader{
		log:       log.With("service", "ingest.CSVLoader"),
		objects:   objects,
		store:     store,
		batchSize: batchSize,
	}
}

// LoadDelimitedFile parses the whole object before touching the table, so a
// malformed file never costs the existing rows. Stores implementing
// warehouse.Transactor get the truncate and every insert in one transaction.
func (l *CSVLoader) LoadDelimitedFile(ctx context.Context, bucket, object, table string, opts LoadOptions) (int64, error) {
	uri := gcp.URI(bucket, object)
	rc, err := l.objects.Open(ctx, bucket, object)
	if err != nil {
		return 0, err
	}
	rows, bad, err := l.parse(ctx, rc, opts)
	_ = rc.Close()
	if err != nil {
		l.log.Warn("CSV parse aborted", "source", uri, "bad_records", bad, "error", err)
		return 0, fmt.Errorf("load %s: %w", uri, err)
	}

	var written int64
	write := func(store warehouse.Client) error {
		written = 0
		if opts.Truncate {
			tr, ok := store.(warehouse.Truncater)
			if !ok {
				return fmt.Errorf("store does not support truncate")
			}
			if err := tr.TruncateTable(ctx, table); err != nil {
				return fmt.Errorf("truncate %s: %w", table, err)
			}
		}
		n, rejected, err := l.insert(ctx, store, table, rows, opts.MaxBadRecords-bad)
		written = n
		bad += rejected
		return err
	}

	if tx, ok := l.store.(warehouse.Transactor); ok {
		err = tx.InTransaction(ctx, write)
		if err != nil {
			written = 0
		}
	} else {
		err = write(l.store)
	}
	l.log.Info("CSV load finished", "source", uri, "table", table, "rows", written, "bad_records", bad)
	if err != nil {
		return written, fmt.Errorf("load %s: %w", uri, err)
	}
	return written, nil
}

// parse reads every record into memory and enforces the bad-record budget.
func (l *CSVLoader) parse(ctx context.Context, r io.Reader, opts LoadOptions) ([]warehouse.Row, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cols := columnIndex{id: 0, review: 1, label: 2}
	var (
		rows []warehouse.Row
		bad  int
		line int
	)
	badRecord := func(reason string) error {
		bad++
		l.log.Warn("Skipping bad record", "line", line, "reason", reason)
		if bad > opts.MaxBadRecords {
			return fmt.Errorf("%w: %d > %d", ErrTooManyBadRecords, bad, opts.MaxBadRecords)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, bad, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if err := badRecord(perr.Error()); err != nil {
				return nil, bad, err
			}
			continue
		}
		if err != nil {
			return nil, bad, err
		}

		if line <= opts.SkipLeadingRows {
			if line == 1 {
				if idx, ok := headerIndex(rec); ok {
					cols = idx
				}
			}
			continue
		}

		fb, reason := cols.record(rec)
		if reason != "" {
			if err := badRecord(reason); err != nil {
				return nil, bad, err
			}
			continue
		}
		rows = append(rows, fb.Row())
	}
	return rows, bad, nil
}

// insert writes rows in batches. Store rejections draw from budget, the part
// of MaxBadRecords parsing left over.
func (l *CSVLoader) insert(ctx context.Context, store warehouse.Client, table string, rows []warehouse.Row, budget int) (int64, int, error) {
	var (
		written  int64
		rejected int
	)
	for start := 0; start < len(rows); start += l.batchSize {
		batch := rows[start:min(start+l.batchSize, len(rows))]
		rowErrs, err := store.InsertRows(ctx, table, batch)
		if err != nil {
			return written, rejected, err
		}
		written += int64(len(batch) - len(rowErrs))
		for _, re := range rowErrs {
			rejected++
			l.log.Warn("Skipping bad record", "row", start+re.Index, "reason", "rejected by store: "+re.Err.Error())
			if rejected > budget {
				return written, rejected, fmt.Errorf("%w: store rejected %d rows, %d allowed", ErrTooManyBadRecords, rejected, budget)
			}
		}
	}
	return written, rejected, nil
}

type columnIndex struct {
	id, review, label int
}

func headerIndex(header []string) (columnIndex, bool) {
	idx := columnIndex{id: -1, review: -1, label: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "id":
			idx.id = i
		case "review", "text":
			idx.review = i
		case "label", "sentiment":
			idx.label = i
		}
	}
	return idx, idx.id >= 0 && idx.review >= 0
}

func (c columnIndex) record(rec []string) (domain.FeedbackRecord, string) {
	get := func(i int) (string, bool) {
		if i < 0 || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}
	id, ok := get(c.id)
	if !ok || id == "" {
		return domain.FeedbackRecord{}, "missing id"
	}
	review, ok := get(c.review)
	if !ok || review == "" {
		return domain.FeedbackRecord{}, "missing review"
	}
	fb := domain.FeedbackRecord{ID: id, Review: review}
	if label, ok := get(c.label); ok && label != "" {
		fb.Label = &label
	}
	return fb, ""
}
