// Package bq adapts Google BigQuery to the warehouse contract and provides
// native GCS load jobs for ingestion.
package bq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/ingest"
	"github.com/yungbote/feedback-annotator/internal/platform/gcp"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

type Config struct {
	ProjectID   string
	Dataset     string
	Location    string
	Credentials string
	// InsertIDColumn names the column whose value becomes the streaming insert
	// ID, which lets BigQuery drop retried duplicates on a best-effort basis.
	InsertIDColumn string
}

type Client struct {
	log    *logger.Logger
	client *bigquery.Client
	cfg    Config
}

var _ warehouse.Client = (*Client)(nil)
var _ warehouse.Truncater = (*Client)(nil)
var _ ingest.Loader = (*Client)(nil)

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.Dataset) == "" {
		return nil, fmt.Errorf("bigquery: project and dataset are required")
	}
	if cfg.InsertIDColumn == "" {
		cfg.InsertIDColumn = domain.ColumnID
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, gcp.ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &Client{
		log:    log.With("service", "warehouse.BigQuery", "dataset", cfg.Dataset),
		client: client,
		cfg:    cfg,
	}, nil
}

func (c *Client) table(name string) *bigquery.Table {
	return c.client.Dataset(c.cfg.Dataset).Table(name)
}

func (c *Client) TableRef(table string) string {
	return "`" + c.cfg.ProjectID + "." + c.cfg.Dataset + "." + table + "`"
}

func (c *Client) ColumnRef(column string) string {
	return "`" + column + "`"
}

func (c *Client) Query(ctx context.Context, sql string) ([]warehouse.Row, error) {
	it, err := c.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var out []warehouse.Row
	for {
		var vals map[string]bigquery.Value
		err := it.Next(&vals)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		row := make(warehouse.Row, len(vals))
		for k, v := range vals {
			row[k] = v
		}
		out = append(out, row)
	}
	return out, nil
}

type rowSaver struct {
	row      warehouse.Row
	insertID string
}

func (r rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(r.row))
	for k, v := range r.row {
		out[k] = v
	}
	return out, r.insertID, nil
}

func (c *Client) savers(table string, rows []warehouse.Row) []rowSaver {
	out := make([]rowSaver, len(rows))
	for i, row := range rows {
		insertID := bigquery.NoDedupeID
		if id, ok := warehouse.AsString(row[c.cfg.InsertIDColumn]); ok && id != "" {
			insertID = table + ":" + id
		}
		out[i] = rowSaver{row: row, insertID: insertID}
	}
	return out
}

func (c *Client) InsertRows(ctx context.Context, table string, rows []warehouse.Row) ([]warehouse.RowError, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	err := c.table(table).Inserter().Put(ctx, c.savers(table, rows))
	if err == nil {
		return nil, nil
	}
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		rowErrs := make([]warehouse.RowError, 0, len(multi))
		for _, rie := range multi {
			rowErrs = append(rowErrs, warehouse.RowError{Index: rie.RowIndex, Err: rie.Errors})
		}
		return rowErrs, nil
	}
	return nil, classify(err)
}

func (c *Client) GetTable(ctx context.Context, table string) (*warehouse.TableMetadata, error) {
	md, err := c.table(table).Metadata(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &warehouse.TableMetadata{
		Name:    table,
		Schema:  fromBQSchema(md.Schema),
		NumRows: md.NumRows,
	}, nil
}

func (c *Client) CreateTable(ctx context.Context, table string, schema domain.Schema) (*warehouse.TableMetadata, error) {
	if err := c.table(table).Create(ctx, &bigquery.TableMetadata{Schema: toBQSchema(schema)}); err != nil {
		return nil, classify(err)
	}
	c.log.Info("Created table", "table", table)
	return &warehouse.TableMetadata{Name: table, Schema: schema}, nil
}

func (c *Client) TruncateTable(ctx context.Context, table string) error {
	job, err := c.client.Query("TRUNCATE TABLE " + c.TableRef(table)).Run(ctx)
	if err != nil {
		return classify(err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classify(err)
	}
	return status.Err()
}

// LoadDelimitedFile runs a load job straight from Cloud Storage.
func (c *Client) LoadDelimitedFile(ctx context.Context, bucket, object, table string, opts ingest.LoadOptions) (int64, error) {
	uri := gcp.URI(bucket, object)
	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = bigquery.CSV
	ref.SkipLeadingRows = int64(opts.SkipLeadingRows)
	ref.MaxBadRecords = int64(opts.MaxBadRecords)
	ref.AllowQuotedNewlines = true
	if len(opts.Schema) > 0 {
		ref.Schema = toBQSchema(opts.Schema)
	} else {
		ref.AutoDetect = true
	}

	loader := c.table(table).LoaderFrom(ref)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteAppend
	if opts.Truncate {
		loader.WriteDisposition = bigquery.WriteTruncate
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("start load %s: %w", uri, classify(err))
	}
	c.log.Info("Load job started", "job_id", job.ID(), "source", uri, "table", table)
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait load %s: %w", uri, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("load %s: %w", uri, err)
	}
	var rows int64
	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		rows = stats.OutputRows
	}
	c.log.Info("Load job finished", "job_id", job.ID(), "table", table, "rows", rows)
	return rows, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func toBQSchema(schema domain.Schema) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(schema))
	for _, f := range schema {
		typ := bigquery.StringFieldType
		if f.Type == domain.FieldFloat {
			typ = bigquery.FloatFieldType
		}
		out = append(out, &bigquery.FieldSchema{Name: f.Name, Type: typ, Required: f.Required})
	}
	return out
}

func fromBQSchema(schema bigquery.Schema) domain.Schema {
	out := make(domain.Schema, 0, len(schema))
	for _, fs := range schema {
		typ := domain.FieldString
		if fs.Type == bigquery.FloatFieldType || fs.Type == bigquery.NumericFieldType {
			typ = domain.FieldFloat
		}
		out = append(out, domain.Field{Name: fs.Name, Type: typ, Required: fs.Required})
	}
	return out
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", warehouse.ErrTableNotFound, err)
		case http.StatusConflict:
			return fmt.Errorf("%w: %v", warehouse.ErrTableExists, err)
		}
	}
	return err
}
