// Package normalize canonicalizes model-extracted field values into a single string.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is one extracted field. The variants are Absent, Scalar, Sequence, and Mapping.
type Value interface {
	isValue()
}

// Absent means the key was missing or null.
type Absent struct{}

// Scalar is a string, number, or boolean in its textual form.
// Literal is set for numbers and booleans, which serialize without quotes.
type Scalar struct {
	Text    string
	Literal bool
}

// Sequence is an ordered list of values.
type Sequence struct {
	Items []Value
}

// Mapping is a string-keyed object.
type Mapping struct {
	Entries map[string]Value
}

func (Absent) isValue()   {}
func (Scalar) isValue()   {}
func (Sequence) isValue() {}
func (Mapping) isValue()  {}

// FromJSON converts one raw JSON value into its variant. Numbers keep their literal text.
func FromJSON(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Absent{}, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode string: %w", err)
		}
		return Scalar{Text: s}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		seq := Sequence{Items: make([]Value, 0, len(items))}
		for _, item := range items {
			v, err := FromJSON(item)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, v)
		}
		return seq, nil
	case '{':
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		m := Mapping{Entries: make(map[string]Value, len(entries))}
		for k, item := range entries {
			v, err := FromJSON(item)
			if err != nil {
				return nil, err
			}
			m.Entries[k] = v
		}
		return m, nil
	default:
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("invalid json literal %q", trimmed)
		}
		return Scalar{Text: string(trimmed), Literal: true}, nil
	}
}
