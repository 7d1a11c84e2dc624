package relation

import "fmt"

const (
	ColumnTimestamp = 0
	ColumnValue     = 1
	columnCount     = 2
)

var Columns = []Column{
	{Name: "timestamp", Type: "INTEGER"},
	{Name: "value", Type: "TEXT"},
}

type Column struct {
	Name string
	Type string
}

// Record is one telemetry entry as returned by the remote service.
type Record struct {
	ReceivedAt  int64
	ContentType string
	Payload     string
}

// Row is the relational projection of a Record.
type Row struct {
	Timestamp int64
	Value     string
}

// MapRecord projects a record onto the fixed column layout. The payload is
// carried as text and never parsed here.
func MapRecord(record Record) Row {
	return Row{Timestamp: record.ReceivedAt, Value: record.Payload}
}

// Column returns the value of column index i.
func (r Row) Column(i int) (any, error) {
	switch i {
	case ColumnTimestamp:
		return r.Timestamp, nil
	case ColumnValue:
		return r.Value, nil
	default:
		return nil, fmt.Errorf("%w: column index %d out of range [0,%d)", ErrProtocolViolation, i, columnCount)
	}
}

// RowSet is the materialized, read-only row sequence of one relation.
type RowSet struct {
	rows []Row
}

func NewRowSet(records []Record) RowSet {
	rows := make([]Row, len(records))
	for i, record := range records {
		rows[i] = MapRecord(record)
	}
	return RowSet{rows: rows}
}

func (s RowSet) Len() int { return len(s.rows) }

func (s RowSet) At(i int) Row { return s.rows[i] }

// Rows returns a copy of the rows.
func (s RowSet) Rows() []Row {
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}
