// Package reql implements the ReQL term tree: the Document ("Datum")
// value type, the Term AST node, and the fixed operator set the
// interpreter dispatches over.
package reql

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags which of the six shapes a Document holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBoolean:
		return "BOOL"
	case KindNumber:
		return "NUMBER"
	case KindString:
		return "STRING"
	case KindArray:
		return "ARRAY"
	case KindObject:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// Document is the single unified JSON-like value type used both as the
// in-memory document representation and the wire/on-disk encoding: a
// tagged union of Null, Boolean, Number (float64), String, Array, and
// Object. There is deliberately no separate "Datum vs JSON Value" split.
type Document struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Document
	obj  map[string]Document
	keys []string // preserves object key insertion order for deterministic iteration
}

// Null is the singular Null document.
var Null = Document{kind: KindNull}

func Bool(b bool) Document      { return Document{kind: KindBoolean, b: b} }
func Number(n float64) Document { return Document{kind: KindNumber, n: n} }
func String(s string) Document  { return Document{kind: KindString, s: s} }

func Array(items ...Document) Document {
	return Document{kind: KindArray, arr: items}
}

// Object builds an Object document from keys in the given order.
func Object() *ObjectBuilder {
	return &ObjectBuilder{obj: make(map[string]Document)}
}

// ObjectBuilder accumulates fields in insertion order before Build.
type ObjectBuilder struct {
	obj  map[string]Document
	keys []string
}

func (b *ObjectBuilder) Set(key string, val Document) *ObjectBuilder {
	if _, exists := b.obj[key]; !exists {
		b.keys = append(b.keys, key)
	}

	b.obj[key] = val

	return b
}

func (b *ObjectBuilder) Build() Document {
	keys := make([]string, len(b.keys))
	copy(keys, b.keys)

	return Document{kind: KindObject, obj: b.obj, keys: keys}
}

func (d Document) Kind() Kind { return d.kind }

func (d Document) IsNull() bool { return d.kind == KindNull }

func (d Document) AsBool() (bool, bool) {
	if d.kind != KindBoolean {
		return false, false
	}

	return d.b, true
}

func (d Document) AsNumber() (float64, bool) {
	if d.kind != KindNumber {
		return 0, false
	}

	return d.n, true
}

func (d Document) AsString() (string, bool) {
	if d.kind != KindString {
		return "", false
	}

	return d.s, true
}

func (d Document) AsArray() ([]Document, bool) {
	if d.kind != KindArray {
		return nil, false
	}

	return d.arr, true
}

func (d Document) AsObject() (map[string]Document, bool) {
	if d.kind != KindObject {
		return nil, false
	}

	return d.obj, true
}

// ObjectKeys returns an object's keys in insertion order, or nil if d is
// not an Object.
func (d Document) ObjectKeys() []string {
	if d.kind != KindObject {
		return nil
	}

	return d.keys
}

// Field looks up a key on an Object document.
func (d Document) Field(key string) (Document, bool) {
	if d.kind != KindObject {
		return Document{}, false
	}

	v, ok := d.obj[key]

	return v, ok
}

// Equal reports whether d and o are deeply equal, satisfying the
// go-cmp "Equal method" convention so cmp.Diff can compare Documents
// (including ones holding unexported fields) without a custom option.
func (d Document) Equal(o Document) bool {
	return Equal(d, o)
}

// Equal reports deep value-equality between two documents: same kind and
// recursively equal contents (object equality ignores key order).
func Equal(a, b Document) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBoolean:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}

		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}

		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}

		for k, v := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(v, bv) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// ToJSON marshals d into its canonical JSON encoding, used both for
// on-disk document storage and wire transport.
func (d Document) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON parses JSON bytes into a Document.
func FromJSON(b []byte) (Document, error) {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Document{}, err
	}

	return fromInterface(raw), nil
}

func fromInterface(raw interface{}) Document {
	switch v := raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case json.Number:
		f, _ := v.Float64()
		return Number(f)
	case string:
		return String(v)
	case []interface{}:
		items := make([]Document, len(v))
		for i, item := range v {
			items[i] = fromInterface(item)
		}

		return Array(items...)
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		b := Object()
		for _, k := range keys {
			b.Set(k, fromInterface(v[k]))
		}

		return b.Build()
	default:
		return Null
	}
}

func (d Document) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBoolean:
		return json.Marshal(d.b)
	case KindNumber:
		return json.Marshal(d.n)
	case KindString:
		return json.Marshal(d.s)
	case KindArray:
		return json.Marshal(d.arr)
	case KindObject:
		buf := []byte{'{'}

		for i, k := range d.keys {
			if i > 0 {
				buf = append(buf, ',')
			}

			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}

			valJSON, err := json.Marshal(d.obj[k])
			if err != nil {
				return nil, err
			}

			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			buf = append(buf, valJSON...)
		}

		buf = append(buf, '}')

		return buf, nil
	default:
		return nil, fmt.Errorf("document: unknown kind %d", d.kind)
	}
}

func (d *Document) UnmarshalJSON(b []byte) error {
	parsed, err := FromJSON(b)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func (d Document) String() string {
	b, err := d.ToJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}

	return string(b)
}
