package lineprotocol

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
)

// Kind represents the type of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindNumber
	KindString
	KindBool
)

var kindNames = []string{
	KindNone:   "none",
	KindNumber: "number",
	KindString: "string",
	KindBool:   "bool",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("cannot marshal unknown value kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(data []byte) error {
	s := string(data)
	for i, name := range kindNames {
		if name == s {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown value kind %q", s)
}

// NumberKind is the variant held by a Number.
type NumberKind uint8

const (
	Float NumberKind = iota
	Integer
	UInteger
)

func (k NumberKind) String() string {
	switch k {
	case Float:
		return "float"
	case Integer:
		return "int"
	case UInteger:
		return "uint"
	default:
		return fmt.Sprintf("numberkind(%d)", uint8(k))
	}
}

// Number is a float, signed or unsigned integer.
//
// Numbers compare equal only when both variant and value match: an Integer
// 5 and a UInteger 5 are different numbers.
type Number struct {
	kind NumberKind
	f    float64
	i    int64
	u    uint64
}

func FloatNumber(f float64) Number { return Number{kind: Float, f: f} }
func IntNumber(i int64) Number { return Number{kind: Integer, i: i} }
func UintNumber(u uint64) Number { return Number{kind: UInteger, u: u} }
func (n Number) Kind() NumberKind { return n.kind }
func (n Number) IsFloat() bool { return n.kind == Float }
func (n Number) IsInt() bool { return n.kind == Integer }
func (n Number) IsUint() bool { return n.kind == UInteger }
func (n Number) IsFinite() bool { return n.kind != Float || !(math.IsInf(n.f, 0) || math.IsNaN(n.f)) }

// AsFloat converts n to a float64. Integers that cannot be represented
// exactly are rejected.
func (n Number) AsFloat() (float64, bool) {
	switch n.kind {
	case Float:
		return n.f, true
	case Integer:
		f := float64(n.i)
		if f >= 1<<63 || int64(f) != n.i {
			return 0, false
		}
		return f, true
	default:
		f := float64(n.u)
		if f >= 1<<64 || uint64(f) != n.u {
			return 0, false
		}
		return f, true
	}
}

// AsInt converts n to an int64. Floats are rounded to the nearest whole
// number first; values outside the int64 range are rejected.
func (n Number) AsInt() (int64, bool) {
	switch n.kind {
	case Float:
		r := math.Round(n.f)
		if math.IsNaN(r) || r < -(1<<63) || r >= 1<<63 {
			return 0, false
		}
		return int64(r), true
	case Integer:
		return n.i, true
	default:
		if n.u > math.MaxInt64 {
			return 0, false
		}
		return int64(n.u), true
	}
}

// AsUint converts n to a uint64. Floats are rounded to the nearest whole
// number first; negative and too large values are rejected.
func (n Number) AsUint() (uint64, bool) {
	switch n.kind {
	case Float:
		r := math.Round(n.f)
		if math.IsNaN(r) || r < 0 || r >= 1<<64 {
			return 0, false
		}
		return uint64(r), true
	case Integer:
		if n.i < 0 {
			return 0, false
		}
		return uint64(n.i), true
	default:
		return n.u, true
	}
}

// AsString returns the plain decimal form, without the integer suffix.
func (n Number) AsString() string {
	switch n.kind {
	case Float:
		return strconv.FormatFloat(n.f, 'f', -1, 64)
	case Integer:
		return strconv.FormatInt(n.i, 10)
	default:
		return strconv.FormatUint(n.u, 10)
	}
}

// String returns the line protocol form: integers carry an i suffix.
func (n Number) String() string {
	if n.kind == Float {
		return n.AsString()
	}
	return n.AsString() + "i"
}

// Value is any value that can appear in a line.
//
// The zero Value is None. None never reaches the wire: the Builder drops it,
// which is how an absent optional value is expressed.
type Value struct {
	kind Kind
	num  Number
	str  string
	b    bool
}

func None() Value { return Value{} }
func NumberValue(n Number) Value { return Value{kind: KindNumber, num: n} }
func FloatValue(f float64) Value { return NumberValue(FloatNumber(f)) }
func IntValue(i int64) Value { return NumberValue(IntNumber(i)) }
func UintValue(u uint64) Value { return NumberValue(UintNumber(u)) }
func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNone() bool { return v.kind == KindNone }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsFloat() bool { return v.kind == KindNumber && v.num.IsFloat() }
func (v Value) IsInt() bool { return v.kind == KindNumber && v.num.IsInt() }
func (v Value) IsUint() bool { return v.kind == KindNumber && v.num.IsUint() }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsBool() bool { return v.kind == KindBool }

// Number returns the number held by v.
func (v Value) Number() (Number, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool succeeds only for boolean values.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsFloat converts numbers and numeric strings to a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num.AsFloat()
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	}
	return 0, false
}

// AsInt converts numbers and integer strings to an int64.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num.AsInt()
	case KindString:
		i, err := strconv.ParseInt(v.str, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsUint converts numbers and unsigned integer strings to a uint64.
func (v Value) AsUint() (uint64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num.AsUint()
	case KindString:
		u, err := strconv.ParseUint(v.str, 10, 64)
		return u, err == nil
	}
	return 0, false
}

// AsString returns the natural text of v: no integer suffix, no quoting.
func (v Value) AsString() string {
	switch v.kind {
	case KindNumber:
		return v.num.AsString()
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

// String returns the line protocol form of v. Strings are not quoted here;
// quoting is applied by the Builder for field values.
func (v Value) String() string {
	if v.kind == KindNumber {
		return v.num.String()
	}
	return v.AsString()
}

func (v Value) isFinite() bool {
	return v.kind != KindNumber || v.num.IsFinite()
}

var integerLiteral = regexp.MustCompile(`^-?\d+i$`)

// FromNumberStr parses s as a line protocol number. Integer literals must
// carry the i suffix; non-negative ones become UInteger, negative ones
// Integer. Anything else is tried as a float.
func FromNumberStr(s string) (Value, bool) {
	if integerLiteral.MatchString(s) {
		digits := s[:len(s)-1]
		if digits[0] == '-' {
			i, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				return Value{}, false
			}
			return IntValue(i), true
		}
		u, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return Value{}, false
		}
		return UintValue(u), true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, false
	}
	return FloatValue(f), true
}

// FromBoolStr accepts the boolean literals of the protocol.
func FromBoolStr(s string) (Value, bool) {
	switch s {
	case "t", "T", "true", "True", "TRUE":
		return BoolValue(true), true
	case "f", "F", "false", "False", "FALSE":
		return BoolValue(false), true
	}
	return Value{}, false
}

// FromAnyStr infers a Value from untyped text. A leading '-' or digit is
// tried as a number, a leading t, T, f or F as a boolean; everything else,
// including failed attempts, is a string.
func FromAnyStr(s string) Value {
	if s == "" {
		return StringValue(s)
	}

	var (
		v  Value
		ok bool
	)
	switch c := s[0]; {
	case c == '-' || (c >= '0' && c <= '9'):
		v, ok = FromNumberStr(s)
	case c == 't' || c == 'T' || c == 'f' || c == 'F':
		v, ok = FromBoolStr(s)
	}
	if !ok {
		return StringValue(s)
	}
	return v
}

// ValueOf converts a Go value into a Value. nil and nil pointers become
// None; other pointers are followed.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return None(), nil
	case Value:
		return t, nil
	case Number:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int8:
		return IntValue(int64(t)), nil
	case int16:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return UintValue(uint64(t)), nil
	case uint8:
		return UintValue(uint64(t)), nil
	case uint16:
		return UintValue(uint64(t)), nil
	case uint32:
		return UintValue(uint64(t)), nil
	case uint64:
		return UintValue(t), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case []byte:
		return Value{}, errUnsupported("bytes serialization")
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return None(), nil
		}
		return ValueOf(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return Value{}, errUnsupported("sequence serialization")
	case reflect.Map, reflect.Struct:
		return Value{}, errInvalidFieldType("struct")
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return UintValue(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float()), nil
	}
	return Value{}, errInvalidFieldType(rv.Kind().String())
}
