package relation

import "fmt"

// Cursor is the per-scan iteration state over a relation's RowSet. A cursor
// is not safe for concurrent use; open one cursor per scan instead.
type Cursor struct {
	rows     RowSet
	position int
	closed   bool
}

func newCursor(rows RowSet) *Cursor {
	return &Cursor{rows: rows}
}

// Filter starts a new scan at the first row. Constraints are not pushed down;
// the host engine re-checks every predicate.
func (c *Cursor) Filter() error {
	if c.closed {
		return fmt.Errorf("%w: filter on closed cursor", ErrProtocolViolation)
	}
	c.position = 0
	return nil
}

func (c *Cursor) EOF() bool {
	return c.closed || c.position >= c.rows.Len()
}

func (c *Cursor) Column(i int) (any, error) {
	if c.EOF() {
		return nil, fmt.Errorf("%w: column read past end of cursor", ErrProtocolViolation)
	}
	return c.rows.At(c.position).Column(i)
}

// Row returns the whole row at the current position.
func (c *Cursor) Row() (Row, error) {
	if c.EOF() {
		return Row{}, fmt.Errorf("%w: row read past end of cursor", ErrProtocolViolation)
	}
	return c.rows.At(c.position), nil
}

func (c *Cursor) Next() error {
	if c.EOF() {
		return fmt.Errorf("%w: next called on exhausted cursor", ErrProtocolViolation)
	}
	c.position++
	return nil
}

// RowID is the current position; stable within one scan only.
func (c *Cursor) RowID() (int64, error) {
	if c.closed {
		return 0, fmt.Errorf("%w: rowid on closed cursor", ErrProtocolViolation)
	}
	return int64(c.position), nil
}

// Close releases scan-local state. The shared RowSet is untouched.
func (c *Cursor) Close() error {
	c.closed = true
	c.rows = RowSet{}
	return nil
}
