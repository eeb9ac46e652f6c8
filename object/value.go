// Package object provides the guest value model for the Petrel VM: typed
// value cells, reference-counted heap instances, classes, throwables,
// wait-handles and generators.
package object

import "fmt"

// Kind identifies the payload variant held by a Value.
type Kind uint8

const (
	KindUninit Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is a typed value cell: a tagged union of primitive payloads and a
// reference-counted object payload. Object-kind cells participate in
// destructor execution when released.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Obj   *Instance
}

// Uninit returns an uninitialized cell.
func Uninit() Value {
	return Value{Kind: KindUninit}
}

// Null returns a null cell.
func Null() Value {
	return Value{Kind: KindNull}
}

// BoolValue returns a boolean cell.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IntValue returns an integer cell.
func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

// FloatValue returns a float cell.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// StringValue returns a string cell.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// ObjectValue returns an object cell referencing the given instance. The
// cell does not take its own reference; callers transfer or add one as
// appropriate.
func ObjectValue(o *Instance) Value {
	return Value{Kind: KindObject, Obj: o}
}

// IsObject reports whether the cell holds an object payload.
func (v Value) IsObject() bool {
	return v.Kind == KindObject && v.Obj != nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindUninit:
		return "<uninit>"
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindObject:
		if v.Obj == nil {
			return "object(nil)"
		}
		return fmt.Sprintf("object(%s)", v.Obj.Class().Name())
	default:
		return "<invalid>"
	}
}
