package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// ErrUnencodable reports a value with no JSON representation, such as a
// NaN or infinite number.
var ErrUnencodable = errors.New("protocol: unencodable value")

// RefPrefix is the sentinel that marks an encoded reference to a tracked
// object. It is followed by the object's identifier.
const RefPrefix = "⦙"

// Referent is anything addressable by identifier within a session.
type Referent interface {
	ID() string
}

// Handle is a bare reference by identifier. Decoded references and objects
// produced by a Call result are handles.
type Handle string

func (h Handle) ID() string { return string(h) }

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSeq
	KindObject
	KindRef
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindNumber: "number",
	KindString: "string",
	KindSeq:    "seq",
	KindObject: "object",
	KindRef:    "ref",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Value is the closed variant carried in a message's value field. The zero
// Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	obj  map[string]Value
	ref  Referent
}

func Null() Value              { return Value{} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Number(n float64) Value   { return Value{kind: KindNumber, n: n} }
func Int(n int) Value          { return Value{kind: KindNumber, n: float64(n)} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func Seq(elems ...Value) Value { return Value{kind: KindSeq, seq: append([]Value{}, elems...)} }

func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

// Ref encodes a reference to a tracked object. A nil referent, including a
// typed nil pointer, is null.
func Ref(r Referent) Value {
	if isNil(r) {
		return Null()
	}
	return Value{kind: KindRef, ref: r}
}

func isNil(r Referent) bool {
	if r == nil {
		return true
	}
	rv := reflect.ValueOf(r)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Of converts a plain Go value to a Value. Values that are already a Value
// or a Referent are kept as such; unknown types are formatted as strings.
func Of(x any) Value {
	switch x := x.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case Referent:
		return Ref(x)
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case int:
		return Int(x)
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case []Value:
		return Seq(x...)
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = Of(e)
		}
		return Seq(elems...)
	case []string:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = String(e)
		}
		return Seq(elems...)
	case map[string]Value:
		return Object(x)
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = Of(e)
		}
		return Value{kind: KindObject, obj: obj}
	}
	return String(fmt.Sprint(x))
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsRef() bool    { return v.kind == KindRef }
func (v Value) Bool() bool     { return v.b }
func (v Value) Number() float64 { return v.n }
func (v Value) Str() string    { return v.s }
func (v Value) Elems() []Value { return v.seq }

func (v Value) Fields() map[string]Value { return v.obj }

// Validate reports ErrUnencodable when v, or anything nested in it, cannot
// be written to the wire.
func (v Value) Validate() error {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("%w: number %v", ErrUnencodable, v.n)
		}
	case KindSeq:
		for _, e := range v.seq {
			if err := e.Validate(); err != nil {
				return err
			}
		}
	case KindObject:
		for _, f := range v.obj {
			if err := f.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Field returns the named field of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	f, ok := v.obj[name]
	return f, ok
}

func (v Value) Referent() Referent { return v.ref }

// RefID returns the referenced identifier, or "" when v is not a reference.
func (v Value) RefID() string {
	if v.kind != KindRef {
		return ""
	}
	return v.ref.ID()
}

// Text renders a primitive as the string a client would see. Null is "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.n)
	case KindRef:
		return RefPrefix + v.ref.ID()
	}
	return ""
}

// References returns the referents inside v in pre-order.
func (v Value) References() []Referent {
	var out []Referent
	v.walkRefs(func(r Referent) { out = append(out, r) })
	return out
}

func (v Value) walkRefs(fn func(Referent)) {
	switch v.kind {
	case KindRef:
		fn(v.ref)
	case KindSeq:
		for _, e := range v.seq {
			e.walkRefs(fn)
		}
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v.obj[k].walkRefs(fn)
		}
	}
}

// Equal compares values structurally. References compare by identifier.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindRef:
		return v.ref.ID() == o.ref.ID()
	case KindSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, f := range v.obj {
			g, ok := o.obj[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindRef:
		return json.Marshal(RefPrefix + v.ref.ID())
	case KindSeq:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("protocol: cannot encode value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromJSON(raw)
	return nil
}

func fromJSON(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case float64:
		return Number(x)
	case string:
		if len(x) > len(RefPrefix) && strings.HasPrefix(x, RefPrefix) {
			return Ref(Handle(x[len(RefPrefix):]))
		}
		return String(x)
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = fromJSON(e)
		}
		return Value{kind: KindSeq, seq: elems}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = fromJSON(e)
		}
		return Value{kind: KindObject, obj: obj}
	}
	return Null()
}

func formatNumber(n float64) string {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Sprint(n)
	}
	return string(data)
}
