package ingest

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// ColumnarPayload is the columnar MessagePack form of one measurement:
//
//	{m: "cpu", columns: {time: [...], host: [...], usage: [...]}}
//
// Several measurements travel as {batch: [payload, ...]}.
type ColumnarPayload struct {
	M       string                   `msgpack:"m"`
	Columns map[string][]interface{} `msgpack:"columns"`
}

type batchPayload struct {
	Batch []ColumnarPayload `msgpack:"batch"`
}

// EncodeMsgPack encodes one measurement's columns.
func EncodeMsgPack(measurement string, columns map[string][]interface{}) ([]byte, error) {
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&ColumnarPayload{M: measurement, Columns: columns})
}

// EncodeMsgPackBatch encodes every measurement of a columnar batch, ordered
// by measurement name.
func EncodeMsgPackBatch(columnar map[string]map[string][]interface{}) ([]byte, error) {
	names := make([]string, 0, len(columnar))
	for name := range columnar {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := batchPayload{Batch: make([]ColumnarPayload, 0, len(names))}
	for _, name := range names {
		if err := checkColumns(columnar[name]); err != nil {
			return nil, fmt.Errorf("measurement %s: %w", name, err)
		}
		batch.Batch = append(batch.Batch, ColumnarPayload{M: name, Columns: columnar[name]})
	}
	return msgpack.Marshal(&batch)
}

// DecodeMsgPack decodes a single payload or a batch. Integers come back as
// int64 or uint64 and floats as float64.
func DecodeMsgPack(data []byte) ([]ColumnarPayload, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}

	items := []interface{}{raw}
	if batch, ok := raw["batch"]; ok {
		list, ok := batch.([]interface{})
		if !ok {
			return nil, fmt.Errorf("batch must be an array, got %T", batch)
		}
		items = list
	}

	payloads := make([]ColumnarPayload, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("batch item %d: expected map, got %T", i, item)
		}
		p, err := payloadFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func payloadFromMap(m map[string]interface{}) (ColumnarPayload, error) {
	measurement, ok := m["m"].(string)
	if !ok || measurement == "" {
		return ColumnarPayload{}, fmt.Errorf("missing measurement 'm'")
	}
	cols, ok := m["columns"].(map[string]interface{})
	if !ok || len(cols) == 0 {
		return ColumnarPayload{}, fmt.Errorf("columnar format requires non-empty 'columns' dict")
	}

	p := ColumnarPayload{M: measurement, Columns: make(map[string][]interface{}, len(cols))}
	for name, v := range cols {
		arr, ok := v.([]interface{})
		if !ok {
			return ColumnarPayload{}, fmt.Errorf("column '%s' is not an array", name)
		}
		p.Columns[name] = arr
	}
	return p, checkColumns(p.Columns)
}

func checkColumns(columns map[string][]interface{}) error {
	rows := -1
	for name, col := range columns {
		if rows >= 0 && len(col) != rows {
			return fmt.Errorf("array length mismatch (expected %d, got %d for '%s')", rows, len(col), name)
		}
		rows = len(col)
	}
	return nil
}
