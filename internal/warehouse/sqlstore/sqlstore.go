// Package sqlstore adapts a gorm database (Postgres or SQLite) to the
// warehouse contract.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/feedback-annotator/internal/data/db"
	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
	"github.com/yungbote/feedback-annotator/internal/warehouse"
)

const pgDuplicateTable = "42P07"

type Store struct {
	log     *logger.Logger
	db      *gorm.DB
	dialect string
	owned   bool
	// inTx marks a Store bound to an open transaction by InTransaction.
	inTx bool
}

var (
	_ warehouse.Client     = (*Store)(nil)
	_ warehouse.Truncater  = (*Store)(nil)
	_ warehouse.Transactor = (*Store)(nil)
)

// Open connects and returns a Store that closes the pool on Close.
func Open(log *logger.Logger, driver, dsn string) (*Store, error) {
	gdb, err := db.Open(log, driver, dsn)
	if err != nil {
		return nil, err
	}
	s := New(log, gdb)
	s.owned = true
	return s, nil
}

// New wraps an existing handle; Close leaves it open.
func New(log *logger.Logger, gdb *gorm.DB) *Store {
	return &Store{
		log:     log.With("service", "warehouse.SQLStore"),
		db:      gdb,
		dialect: gdb.Dialector.Name(),
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) TableRef(table string) string { return quoteIdent(table) }

func (s *Store) ColumnRef(column string) string { return quoteIdent(column) }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) Query(ctx context.Context, sql string) ([]warehouse.Row, error) {
	rows, err := s.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	// Scanning into *any keeps driver-native values (int64, float64, string,
	// []byte, nil), also for computed columns that carry no declared type.
	var out []warehouse.Row
	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for rows.Next() {
		for i := range vals {
			vals[i] = nil
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(warehouse.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertRows issues one statement per row so that a rejected row does not
// take its neighbours down with it.
func (s *Store) InsertRows(ctx context.Context, table string, rows []warehouse.Row) ([]warehouse.RowError, error) {
	var rowErrs []warehouse.RowError
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return rowErrs, &warehouse.IncompleteInsertError{Reached: i, Err: err}
		}
		if err := s.insertOne(ctx, table, row); err != nil {
			if ctx.Err() != nil {
				return rowErrs, &warehouse.IncompleteInsertError{Reached: i, Err: ctx.Err()}
			}
			rowErrs = append(rowErrs, warehouse.RowError{Index: i, Err: err})
		}
	}
	return rowErrs, nil
}

// insertOne wraps the row in a savepoint inside a transaction; a failed
// statement would otherwise abort the whole transaction on Postgres.
func (s *Store) insertOne(ctx context.Context, table string, row warehouse.Row) error {
	stmt, args := insertStatement(table, row)
	gdb := s.db.WithContext(ctx)
	if !s.inTx {
		return gdb.Exec(stmt, args...).Error
	}
	const sp = "annotator_row"
	if err := gdb.SavePoint(sp).Error; err != nil {
		return err
	}
	if err := gdb.Exec(stmt, args...).Error; err != nil {
		if rbErr := gdb.RollbackTo(sp).Error; rbErr != nil {
			return fmt.Errorf("%v (rollback to savepoint: %w)", err, rbErr)
		}
		return err
	}
	return nil
}

// InTransaction commits fn's writes together; an error from fn rolls them
// back. Nested calls reuse the open transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(tx warehouse.Client) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{log: s.log, db: tx, dialect: s.dialect, inTx: true})
	})
}

func insertStatement(table string, row warehouse.Row) (string, []any) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return stmt, args
}

func (s *Store) GetTable(ctx context.Context, table string) (*warehouse.TableMetadata, error) {
	m := s.db.WithContext(ctx).Migrator()
	if !m.HasTable(table) {
		return nil, fmt.Errorf("%s: %w", table, warehouse.ErrTableNotFound)
	}
	cols, err := m.ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	meta := &warehouse.TableMetadata{Name: table}
	for _, c := range cols {
		nullable, _ := c.Nullable()
		meta.Schema = append(meta.Schema, domain.Field{
			Name:     c.Name(),
			Type:     fieldType(c.DatabaseTypeName()),
			Required: !nullable,
		})
	}
	return meta, nil
}

func (s *Store) CreateTable(ctx context.Context, table string, schema domain.Schema) (*warehouse.TableMetadata, error) {
	ddl := s.createTableDDL(table, schema)
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return nil, classify(err)
	}
	s.log.Info("Created table", "table", table, "columns", len(schema))
	return &warehouse.TableMetadata{Name: table, Schema: schema}, nil
}

func (s *Store) createTableDDL(table string, schema domain.Schema) string {
	cols := make([]string, 0, len(schema)+1)
	var keys []string
	for _, f := range schema {
		col := quoteIdent(f.Name) + " " + s.columnType(f.Type)
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
		if f.Key {
			keys = append(keys, quoteIdent(f.Name))
		}
	}
	if len(keys) > 0 {
		cols = append(cols, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func (s *Store) columnType(t domain.FieldType) string {
	switch t {
	case domain.FieldFloat:
		if s.dialect == db.DriverSQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func fieldType(dbType string) domain.FieldType {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "REAL"), strings.Contains(t, "DOUBLE"),
		strings.Contains(t, "FLOAT"), strings.Contains(t, "NUMERIC"):
		return domain.FieldFloat
	default:
		return domain.FieldString
	}
}

func (s *Store) TruncateTable(ctx context.Context, table string) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM " + quoteIdent(table)).Error
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return db.Close(s.db)
}

// classify maps driver errors onto the warehouse sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDuplicateTable:
			return fmt.Errorf("%w: %v", warehouse.ErrTableExists, err)
		case "42P01":
			return fmt.Errorf("%w: %v", warehouse.ErrTableNotFound, err)
		}
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %v", warehouse.ErrTableExists, err)
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %v", warehouse.ErrTableNotFound, err)
	}
	return err
}
