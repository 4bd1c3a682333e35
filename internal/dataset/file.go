package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ongoingai/smithkit/internal/output"
)

// ErrUnsupportedFormat is returned for dataset files that are neither
// .json nor .csv.
var ErrUnsupportedFormat = errors.New("unsupported dataset file type")

// WriteFile writes examples as CSV when path ends in .csv and as indented
// JSON otherwise.
func WriteFile(path string, examples []*Example) error {
	var content []byte
	if filepath.Ext(path) == ".csv" {
		encoded, err := encodeCSV(examples)
		if err != nil {
			return err
		}
		content = encoded
	} else {
		encoded, err := output.IndentedJSON(examples)
		if err != nil {
			return err
		}
		content = []byte(encoded)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// encodeCSV uses the sorted union of keys as columns. Missing values are
// empty; objects and arrays are JSON encoded.
func encodeCSV(examples []*Example) ([]byte, error) {
	seen := map[string]bool{}
	var columns []string
	for _, ex := range examples {
		for _, key := range ex.Keys() {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	for _, ex := range examples {
		row := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := ex.Get(col); ok {
				row[i] = csvCell(v)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvCell(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	}
	return stringify(v)
}

// ReadJSONFile loads a JSON dataset file. A single object is treated as a
// one-element list and an empty file as an empty list. Object elements
// decode to *Example; anything else is kept as decoded.
func ReadJSONFile(path string) ([]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var elements []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		elements = []json.RawMessage{raw}
	}

	records := make([]any, 0, len(elements))
	for _, element := range elements {
		element = bytes.TrimSpace(element)
		if len(element) > 0 && element[0] == '{' {
			ex := NewExample()
			if err := json.Unmarshal(element, ex); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			records = append(records, ex)
			continue
		}
		var v any
		if err := json.Unmarshal(element, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		records = append(records, v)
	}
	return records, nil
}

// ReadCSVFile loads a CSV dataset file as header plus rows.
func ReadCSVFile(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, row := range rows {
		if len(row) < len(header) {
			rows[i] = append(row, make([]string, len(header)-len(row))...)
		}
	}
	return header, rows, nil
}
