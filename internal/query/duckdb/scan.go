package duckdb

import (
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/harvestql/harvestql/internal/relation"
)

// scanSource feeds one relation cursor to one DuckDB scan. Each bind gets its
// own source, so concurrent scans of a relation never share position.
type scanSource struct {
	cursor  *relation.Cursor
	columns []duckdb.ColumnInfo
	rows    int
}

var _ duckdb.RowTableSource = (*scanSource)(nil)

func newScanSource(table relation.Table, rows int) (*scanSource, error) {
	columns, err := columnInfos()
	if err != nil {
		return nil, err
	}
	cursor, err := table.Open()
	if err != nil {
		return nil, err
	}
	return &scanSource{cursor: cursor, columns: columns, rows: rows}, nil
}

func (s *scanSource) ColumnInfos() []duckdb.ColumnInfo {
	return s.columns
}

func (s *scanSource) Cardinality() *duckdb.CardinalityInfo {
	return &duckdb.CardinalityInfo{Cardinality: uint(s.rows), Exact: true}
}

func (s *scanSource) Init() {
	_ = s.cursor.Filter()
}

// FillRow writes the current row and advances. Only projected columns are
// read from the cursor.
func (s *scanSource) FillRow(row duckdb.Row) (bool, error) {
	if s.cursor.EOF() {
		_ = s.cursor.Close()
		return false, nil
	}
	for i := range relation.Columns {
		if !row.IsProjected(i) {
			continue
		}
		value, err := s.cursor.Column(i)
		if err != nil {
			return false, err
		}
		if err := row.SetRowValue(i, value); err != nil {
			return false, fmt.Errorf("set column %s: %w", relation.Columns[i].Name, err)
		}
	}
	if err := s.cursor.Next(); err != nil {
		return false, err
	}
	return true, nil
}

// columnInfos maps the relation's INTEGER and TEXT columns to DuckDB's
// BIGINT and VARCHAR.
func columnInfos() ([]duckdb.ColumnInfo, error) {
	bigint, err := duckdb.NewTypeInfo(duckdb.TYPE_BIGINT)
	if err != nil {
		return nil, fmt.Errorf("bigint type info: %w", err)
	}
	varchar, err := duckdb.NewTypeInfo(duckdb.TYPE_VARCHAR)
	if err != nil {
		return nil, fmt.Errorf("varchar type info: %w", err)
	}
	infos := make([]duckdb.ColumnInfo, 0, len(relation.Columns))
	for i, column := range relation.Columns {
		switch i {
		case relation.ColumnTimestamp:
			infos = append(infos, duckdb.ColumnInfo{Name: column.Name, T: bigint})
		case relation.ColumnValue:
			infos = append(infos, duckdb.ColumnInfo{Name: column.Name, T: varchar})
		}
	}
	return infos, nil
}
