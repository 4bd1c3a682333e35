// Package dataset derives evaluation datasets from LangSmith traces and
// inspects remote datasets and local dataset files.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Example is one dataset row. Keys keep insertion order so written files
// list fields the way they were produced.
type Example struct {
	keys   []string
	values map[string]any
}

func NewExample() *Example {
	return &Example{values: map[string]any{}}
}

// Set stores v under key, appending key if it is new.
func (e *Example) Set(key string, v any) *Example {
	if e.values == nil {
		e.values = map[string]any{}
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = v
	return e
}

func (e *Example) Get(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Map returns the value under key when it is a JSON object.
func (e *Example) Map(key string) map[string]any {
	v, _ := e.values[key].(map[string]any)
	return v
}

func (e *Example) String(key string) string {
	v, _ := e.values[key].(string)
	return v
}

func (e *Example) Keys() []string {
	return append([]string(nil), e.keys...)
}

func (e *Example) Len() int {
	return len(e.keys)
}

func (e *Example) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(&buf, key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeValue(&buf, e.values[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}

// UnmarshalJSON decodes an object, preserving top-level key order. Nested
// objects decode to map[string]any.
func (e *Example) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dataset example: expected object, got %v", tok)
	}
	*e = Example{values: map[string]any{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("dataset example: unexpected key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		e.Set(key, v)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
