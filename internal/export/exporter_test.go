package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/relation"
	"github.com/harvestql/harvestql/internal/storage"
)

func TestExportWritesParquetAndRecordsIt(t *testing.T) {
	store := newMemoryStore()
	recorder := &fakeRecorder{}
	exporter := &Exporter{
		Store:    store,
		Recorder: recorder,
		Now:      func() time.Time { return time.UnixMilli(1700000000000) },
	}

	rows := relation.NewRowSet([]relation.Record{
		{ReceivedAt: 300, Payload: `{"t":3}`},
		{ReceivedAt: 100, Payload: `{"t":1}`},
	})
	result, err := exporter.Export(context.Background(), Source{Relation: "harvest", InstanceID: "i-1"}, rows)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.ObjectKey != "exports/harvest/i-1/1700000000000.parquet" {
		t.Fatalf("ObjectKey = %q", result.ObjectKey)
	}
	if result.RowCount != 2 || result.ExportID != 11 {
		t.Fatalf("result = %#v", result)
	}
	if *result.MinTimestamp != 100 || *result.MaxTimestamp != 300 {
		t.Fatalf("timestamps = %d..%d", *result.MinTimestamp, *result.MaxTimestamp)
	}
	if len(recorder.inputs) != 1 || recorder.inputs[0].ObjectKey != result.ObjectKey {
		t.Fatalf("recorded = %#v", recorder.inputs)
	}
	if store.meta[result.ObjectKey]["relation"] != "harvest" {
		t.Fatalf("metadata = %#v", store.meta[result.ObjectKey])
	}

	reader, info, err := exporter.Open(context.Background(), result.ObjectKey)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	if info.Size != result.SizeBytes {
		t.Fatalf("Size = %d, want %d", info.Size, result.SizeBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	decoded, err := parquet.Read[parquetRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parquet.Read() error = %v", err)
	}
	if len(decoded) != 2 || decoded[0].Timestamp != 300 || decoded[1].Value != `{"t":1}` {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestExportEmptyRelation(t *testing.T) {
	exporter := &Exporter{Store: newMemoryStore()}
	result, err := exporter.Export(context.Background(), Source{Relation: "empty", InstanceID: "i-1"}, relation.NewRowSet(nil))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.RowCount != 0 || result.MinTimestamp != nil {
		t.Fatalf("result = %#v", result)
	}
	if result.SizeBytes == 0 {
		t.Fatal("expected a parquet footer even for an empty export")
	}
}

func TestExportRemovesObjectWhenRecordFails(t *testing.T) {
	store := newMemoryStore()
	exporter := &Exporter{Store: store, Recorder: &fakeRecorder{err: errors.New("catalog down")}}

	_, err := exporter.Export(context.Background(), Source{Relation: "harvest", InstanceID: "i-1"}, relation.NewRowSet(nil))
	if err == nil || !strings.Contains(err.Error(), "catalog down") {
		t.Fatalf("Export() error = %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("objects left behind: %d", len(store.objects))
	}
}

func TestExportRejectsInvalidSource(t *testing.T) {
	exporter := &Exporter{Store: newMemoryStore()}
	if _, err := exporter.Export(context.Background(), Source{Relation: "../x", InstanceID: "i"}, relation.NewRowSet(nil)); err == nil {
		t.Fatal("expected invalid relation name error")
	}
	if _, err := (&Exporter{}).Export(context.Background(), Source{Relation: "x", InstanceID: "i"}, relation.NewRowSet(nil)); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestOpenRejectsForeignKeys(t *testing.T) {
	exporter := &Exporter{Store: newMemoryStore()}
	if _, _, err := exporter.Open(context.Background(), "secrets/credentials"); err == nil {
		t.Fatal("expected invalid key error")
	}
	if _, _, err := exporter.Open(context.Background(), "exports/harvest/i-1/1.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Open() error = %v, want ErrObjectNotFound", err)
	}
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.meta[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: m.meta[key]}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type fakeRecorder struct {
	inputs []catalog.RecordExportInput
	err    error
}

func (f *fakeRecorder) RecordExport(_ context.Context, in catalog.RecordExportInput) (catalog.Export, error) {
	if f.err != nil {
		return catalog.Export{}, f.err
	}
	f.inputs = append(f.inputs, in)
	return catalog.Export{ExportID: 11, ObjectKey: in.ObjectKey, CreatedAt: time.Now().UTC()}, nil
}
