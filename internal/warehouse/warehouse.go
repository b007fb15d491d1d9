// Package warehouse defines the narrow store contract the annotation pipeline
// depends on. Adapters live in the bq and sqlstore subpackages.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
)

// Row maps column name to value.
type Row map[string]any

// RowError reports a single rejected row by its index in the submitted slice.
type RowError struct {
	Index int
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

// IncompleteInsertError is returned by InsertRows when the call stopped
// part-way: rows before Reached were attempted (and committed unless listed
// as RowErrors), rows from Reached on were never sent.
type IncompleteInsertError struct {
	Reached int
	Err     error
}

func (e *IncompleteInsertError) Error() string {
	return fmt.Sprintf("insert stopped before row %d: %v", e.Reached, e.Err)
}

func (e *IncompleteInsertError) Unwrap() error { return e.Err }

type TableMetadata struct {
	Name    string
	Schema  domain.Schema
	NumRows uint64
}

type Client interface {
	// Query runs a read statement and returns every row.
	Query(ctx context.Context, sql string) ([]Row, error)
	// InsertRows appends rows. Rows the store rejects individually are
	// returned as RowErrors; the error return is reserved for failures of
	// the call as a whole, or an *IncompleteInsertError when a prefix of the
	// rows was written before the call stopped.
	InsertRows(ctx context.Context, table string, rows []Row) ([]RowError, error)
	// GetTable returns ErrTableNotFound when the table does not exist.
	GetTable(ctx context.Context, table string) (*TableMetadata, error)
	// CreateTable returns ErrTableExists when the table already exists.
	CreateTable(ctx context.Context, table string, schema domain.Schema) (*TableMetadata, error)
	// TableRef and ColumnRef quote identifiers for the store's SQL dialect.
	TableRef(table string) string
	ColumnRef(column string) string
	Close() error
}

// Truncater is implemented by stores that can empty a table in place.
type Truncater interface {
	TruncateTable(ctx context.Context, table string) error
}

// Transactor is implemented by stores that can group writes so they commit
// together or not at all. fn receives a Client bound to the transaction;
// returning an error rolls everything back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(tx Client) error) error
}

func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case *any:
		if t == nil {
			return "", false
		}
		return AsString(*t)
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case *any:
		if t == nil {
			return 0, false
		}
		return AsFloat(*t)
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsInt reads integer aggregates such as COUNT(*).
func AsInt(v any) (int64, bool) {
	switch t := v.(type) {
	case *any:
		if t == nil {
			return 0, false
		}
		return AsInt(*t)
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
