package inference

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type CSVOptions struct {
	HasHeader bool
	Delimiter string
}

// Table is a parsed delimited file.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseCSV reads delimited text. Empty lines are skipped and ragged rows are
// accepted. Without a header, columns are named column_1, column_2, ...
func ParseCSV(data []byte, opts CSVOptions) (Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.Comma = delimiterRune(opts.Delimiter)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var table Table
	first := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("parse csv: %w", err)
		}
		if isBlankRecord(record) {
			continue
		}
		if first && opts.HasHeader {
			table.Header = trimAll(record)
			first = false
			continue
		}
		first = false
		table.Rows = append(table.Rows, record)
	}

	if !opts.HasHeader {
		width := 0
		for _, row := range table.Rows {
			width = max(width, len(row))
		}
		table.Header = make([]string, width)
		for i := range table.Header {
			table.Header[i] = "column_" + strconv.Itoa(i+1)
		}
	}
	return table, nil
}

func delimiterRune(delimiter string) rune {
	if delimiter == `\t` {
		return '\t'
	}
	r, size := utf8.DecodeRuneInString(delimiter)
	if size == 0 || size != len(delimiter) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return ','
	}
	return r
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

// Record is one JSON object with its keys in document order.
type Record struct {
	Keys   []string
	Values []json.RawMessage
}

// ParseJSON accepts a top-level array or a single object. Array elements that
// are not objects count as records with no fields.
func ParseJSON(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(data) == 0 {
		return nil, errors.New("parse json: empty document")
	}
	if data[0] != '[' {
		rec, err := parseRecord(data)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		rec, err := parseRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(raw json.RawMessage) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		if !json.Valid(raw) {
			return Record{}, errors.New("parse json: invalid value")
		}
		return Record{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return Record{}, fmt.Errorf("parse json: %w", err)
	}
	var rec Record
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("parse json: %w", err)
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return Record{}, fmt.Errorf("parse json: %w", err)
		}
		rec.Keys = append(rec.Keys, key)
		rec.Values = append(rec.Values, value)
	}
	return rec, nil
}

// InferJSON derives a schema from the first record only. Objects, arrays and
// nulls are json; scalars are classified by their text form.
func InferJSON(records []Record) domain.Schema {
	if len(records) == 0 {
		return domain.Schema{}
	}
	first := records[0]
	schema := make(domain.Schema, 0, len(first.Keys))
	for i, key := range first.Keys {
		schema = append(schema, domain.Column{Name: key, Type: classifyRaw(first.Values[i])})
	}
	return schema
}

func classifyRaw(raw json.RawMessage) domain.ColumnType {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.ColumnString
	}
	switch raw[0] {
	case '{', '[', 'n':
		return domain.ColumnJSON
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return domain.ColumnString
		}
		return Classify(s)
	default:
		return Classify(string(raw))
	}
}
