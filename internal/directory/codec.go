package directory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sentinel-authz/sentinel/internal/shared"
)

// AttributeType enumerates the declarable attribute types.
type AttributeType string

const (
	TypeString  AttributeType = "string"
	TypeInteger AttributeType = "integer"
	TypeBoolean AttributeType = "boolean"
	TypeListStr AttributeType = "list_string"
	TypeListInt AttributeType = "list_integer"
	TypeJSON    AttributeType = "json"
)

// KnownType reports whether t is a declarable attribute type.
func KnownType(t AttributeType) bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean, TypeListStr, TypeListInt, TypeJSON:
		return true
	}
	return false
}

// Value is the decoded form of an attribute value, tagged by the declared
// type of its definition. Exactly one payload field is meaningful per Kind.
type Value struct {
	Kind AttributeType
	Str  string
	Int  int64
	Bool bool
	List []string
	Ints []int64
	Raw  json.RawMessage
}

func StringValue(s string) Value     { return Value{Kind: TypeString, Str: s} }
func IntValue(i int64) Value         { return Value{Kind: TypeInteger, Int: i} }
func BoolValue(b bool) Value         { return Value{Kind: TypeBoolean, Bool: b} }
func ListStringValue(s ...string) Value {
	if s == nil {
		s = []string{}
	}
	return Value{Kind: TypeListStr, List: s}
}
func ListIntValue(i ...int64) Value {
	if i == nil {
		i = []int64{}
	}
	return Value{Kind: TypeListInt, Ints: i}
}
func JSONValue(raw json.RawMessage) Value { return Value{Kind: TypeJSON, Raw: raw} }

type taggedValue struct {
	Kind  AttributeType   `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...} so cache
// payloads survive a round trip without re-guessing types.
func (v Value) MarshalJSON() ([]byte, error) {
	raw, err := v.encodePayload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON decodes the tagged representation produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged taggedValue
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	decoded, err := Decode(tagged.Kind, string(tagged.Value))
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func (v Value) encodePayload() (json.RawMessage, error) {
	switch v.Kind {
	case TypeString:
		return json.Marshal(v.Str)
	case TypeInteger:
		return json.Marshal(v.Int)
	case TypeBoolean:
		return json.Marshal(v.Bool)
	case TypeListStr:
		if v.List == nil {
			return json.RawMessage("[]"), nil
		}
		return json.Marshal(v.List)
	case TypeListInt:
		if v.Ints == nil {
			return json.RawMessage("[]"), nil
		}
		return json.Marshal(v.Ints)
	case TypeJSON:
		if len(v.Raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return v.Raw, nil
	}
	return nil, fmt.Errorf("codec: unknown attribute type %q", v.Kind)
}

// Encode serialises a decoded value into the storage representation used by
// attribute value rows and definition defaults.
func Encode(v Value) (string, error) {
	raw, err := v.encodePayload()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode parses a stored encoding into a Value per the declared type. A
// failure is a DataIntegrityError; callers in the resolution path log it and
// substitute the definition default instead of propagating.
func Decode(t AttributeType, encoded string) (Value, error) {
	switch t {
	case TypeString:
		var s string
		if err := json.Unmarshal([]byte(encoded), &s); err != nil {
			// Legacy rows hold the bare string without JSON quoting.
			return StringValue(encoded), nil
		}
		return StringValue(s), nil
	case TypeInteger:
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader([]byte(encoded)))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		i, err := n.Int64()
		if err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		return IntValue(i), nil
	case TypeBoolean:
		var b bool
		if err := json.Unmarshal([]byte(encoded), &b); err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		return BoolValue(b), nil
	case TypeListStr:
		list := []string{}
		if err := json.Unmarshal([]byte(encoded), &list); err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		return ListStringValue(list...), nil
	case TypeListInt:
		ints := []int64{}
		if err := json.Unmarshal([]byte(encoded), &ints); err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		return ListIntValue(ints...), nil
	case TypeJSON:
		if !json.Valid([]byte(encoded)) {
			return Value{}, integrityErr(t, encoded, fmt.Errorf("invalid json"))
		}
		compact := &bytes.Buffer{}
		if err := json.Compact(compact, []byte(encoded)); err != nil {
			return Value{}, integrityErr(t, encoded, err)
		}
		return JSONValue(json.RawMessage(compact.Bytes())), nil
	}
	return Value{}, integrityErr(t, encoded, fmt.Errorf("unknown attribute type"))
}

func integrityErr(t AttributeType, encoded string, err error) error {
	return &shared.DataIntegrityError{Declared: string(t), Err: fmt.Errorf("%q: %w", encoded, err)}
}
