package sensor

import (
	"encoding/json"
	"strconv"
)

// Kind tells which fields of a Value are meaningful.
type Kind int

const (
	Unavailable Kind = iota
	Number
	Text
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	}
	return "unavailable"
}

// Value is a resolved sensor value. A decorated status carries both the
// numeric value and its rendered text.
type Value struct {
	Kind    Kind
	Number  float64
	Text    string
	Numeric bool
}

// NumberValue returns a numeric value.
func NumberValue(f float64) Value {
	return Value{Kind: Number, Number: f, Numeric: true}
}

// TextValue returns a text value with no numeric counterpart.
func TextValue(s string) Value {
	return Value{Kind: Text, Text: s}
}

// Available reports whether the value was ever resolved.
func (v Value) Available() bool { return v.Kind != Unavailable }

// String renders the value as shown to users.
func (v Value) String() string {
	switch v.Kind {
	case Number:
		return formatNumber(v.Number)
	case Text:
		return v.Text
	}
	return "unavailable"
}

// MarshalJSON encodes the value as a JSON number, string or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Number:
		return json.Marshal(v.Number)
	case Text:
		return json.Marshal(v.Text)
	}
	return []byte("null"), nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
