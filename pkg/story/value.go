package story

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValueKind discriminates the closed set of flag value types.
type ValueKind int

const (
	KindBool ValueKind = iota
	KindString
	KindNumber
)

// Value is a tagged union of the types a story flag may hold.
// Only KindBool values participate in condition evaluation.
type Value struct {
	Kind ValueKind
	Bool bool
	Str  string
	Num  float64
}

func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// IsTrue reports whether the value is the boolean true. String and number
// values are never true for condition purposes.
func (v Value) IsTrue() bool {
	return v.Kind == KindBool && v.Bool
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	default:
		return v.Num == o.Num
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return json.Marshal(v.Num)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	return fmt.Errorf("flag value must be a boolean, string or number: %s", string(data))
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var n float64
	if err := node.Decode(&n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err == nil {
		*v = StringValue(s)
		return nil
	}
	return fmt.Errorf("line %d: flag value must be a boolean, string or number", node.Line)
}

func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	default:
		return v.Num, nil
	}
}
