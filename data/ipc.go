package data

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/Sicomore-Engine/engine"
)

// Codec converts records, fit requests and results to and from Arrow IPC
// stream bytes.
type Codec struct {
	allocator memory.Allocator
}

// NewCodec creates a new Codec with the default memory allocator.
func NewCodec() *Codec {
	return &Codec{allocator: memory.DefaultAllocator}
}

// NewCodecWithAllocator creates a Codec with a custom allocator.
func NewCodecWithAllocator(mem memory.Allocator) *Codec {
	return &Codec{allocator: mem}
}

// Allocator returns the codec's memory allocator.
func (c *Codec) Allocator() memory.Allocator {
	return c.allocator
}

// SerializeToIPC serializes an Arrow Record to IPC bytes.
func (c *Codec) SerializeToIPC(record arrow.Record) ([]byte, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	return c.SerializeMultipleToIPC([]arrow.Record{record})
}

// DeserializeFromIPC deserializes the first record of IPC bytes.
func (c *Codec) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, ErrNoRecords
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// SerializeMultipleToIPC serializes records sharing a schema to IPC bytes.
func (c *Codec) SerializeMultipleToIPC(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeAllFromIPC deserializes every record of IPC bytes.
func (c *Codec) DeserializeAllFromIPC(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}

	return records, nil
}

// EncodeFitRequest serializes a fit request.
func (c *Codec) EncodeFitRequest(req *FitRequest) ([]byte, error) {
	record, err := EncodeFitRequest(c.allocator, req)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return c.SerializeToIPC(record)
}

// DecodeFitRequest deserializes a fit request, applying its options on top
// of base.
func (c *Codec) DecodeFitRequest(payload []byte, base engine.Config) (*FitRequest, error) {
	record, err := c.DeserializeFromIPC(payload)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return DecodeFitRequest(record, base)
}

// EncodeResult serializes a fit result.
func (c *Codec) EncodeResult(res *engine.Result) ([]byte, error) {
	record, err := ResultToRecord(c.allocator, res)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return c.SerializeToIPC(record)
}

// DecodeResult deserializes a fit result.
func (c *Codec) DecodeResult(payload []byte) (*ResultTable, error) {
	record, err := c.DeserializeFromIPC(payload)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return DecodeResult(record)
}

// ReadIPCFile reads every record of an Arrow IPC file.
func (c *Codec) ReadIPCFile(path string) ([]arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC file %s: %w", path, err)
	}
	defer reader.Close()

	records := make([]arrow.Record, 0, reader.NumRecords())
	for i := 0; i < reader.NumRecords(); i++ {
		record, err := reader.RecordAt(i)
		if err != nil {
			for _, r := range records {
				r.Release()
			}
			return nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// WriteIPCFile writes records sharing a schema to an Arrow IPC file.
func (c *Codec) WriteIPCFile(path string, records []arrow.Record) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.allocator))
	if err != nil {
		return fmt.Errorf("failed to create IPC file %s: %w", path, err)
	}
	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close IPC file %s: %w", path, err)
	}
	return f.Close()
}
