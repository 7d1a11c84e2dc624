package export

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/harvestql/harvestql/internal/relation"
)

type parquetRow struct {
	Timestamp int64  `parquet:"timestamp"`
	Value     string `parquet:"value"`
}

// Encoded is a relation snapshot serialized as Parquet.
type Encoded struct {
	Data     []byte
	RowCount int64
	// MinTimestamp and MaxTimestamp are nil for an empty snapshot.
	MinTimestamp *int64
	MaxTimestamp *int64
}

func EncodeRows(rows relation.RowSet) (Encoded, error) {
	out := make([]parquetRow, 0, rows.Len())
	var encoded Encoded
	for i := 0; i < rows.Len(); i++ {
		row := rows.At(i)
		out = append(out, parquetRow{Timestamp: row.Timestamp, Value: row.Value})

		ts := row.Timestamp
		if encoded.MinTimestamp == nil || ts < *encoded.MinTimestamp {
			encoded.MinTimestamp = &ts
		}
		if encoded.MaxTimestamp == nil || ts > *encoded.MaxTimestamp {
			encoded.MaxTimestamp = &ts
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if len(out) > 0 {
		if _, err := writer.Write(out); err != nil {
			return Encoded{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}
	encoded.Data = buf.Bytes()
	encoded.RowCount = int64(len(out))
	return encoded, nil
}
