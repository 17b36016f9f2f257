package lineprotocol

import (
	"fmt"
	"strings"
)

var (
	keyEscaper    = strings.NewReplacer(`,`, `\,`, `=`, `\=`, ` `, `\ `)
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// Builder assembles lines from typed values.
//
// Values are pushed into the element selected with SetElement. Tag and field
// sets are kept as flat lists alternating key and value; BuildLine validates
// them, renders the escaped line and clears the pending state for the next
// one. A Builder is not safe for concurrent use.
type Builder struct {
	curr Element

	measurement Value
	tags        []Value
	fields      []Value
	timestamp   Value

	lines []string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// SetElement moves the write cursor.
func (b *Builder) SetElement(e Element) {
	b.curr = e
}

func (b *Builder) Element() Element {
	return b.curr
}

// AddValue appends x to the current tag or field set, or sets the
// measurement or timestamp. A value converting to None is ignored.
func (b *Builder) AddValue(x any) error {
	v, err := ValueOf(x)
	if err != nil {
		return err
	}
	return b.add(v)
}

func (b *Builder) add(v Value) error {
	if v.IsNone() {
		return nil
	}
	if !v.isFinite() {
		return errInfiniteFloat()
	}

	switch b.curr {
	case Measurement:
		b.measurement = v
	case Tags:
		b.tags = append(b.tags, v)
	case Fields:
		b.fields = append(b.fields, v)
	case Timestamp:
		b.timestamp = v
	}
	return nil
}

// AddPair adds a key and its value to the current tag or field set. When
// the value is None the key is taken back out again, so the pair is
// omitted.
func (b *Builder) AddPair(key, value any) error {
	if b.curr != Tags && b.curr != Fields {
		return errUnsupported(fmt.Sprintf("key/value pairs in %s", b.curr))
	}

	k, err := keyOf(key)
	if err != nil {
		return err
	}
	v, err := ValueOf(value)
	if err != nil {
		return err
	}

	if err := b.add(StringValue(k)); err != nil {
		return err
	}
	if v.IsNone() {
		b.RemoveValue()
		return nil
	}
	if err := b.add(v); err != nil {
		b.RemoveValue()
		return err
	}
	return nil
}

// RemoveValue drops the most recent entry of the current tag or field set.
// The measurement and timestamp are left alone.
func (b *Builder) RemoveValue() {
	switch b.curr {
	case Tags:
		if n := len(b.tags); n > 0 {
			b.tags = b.tags[:n-1]
		}
	case Fields:
		if n := len(b.fields); n > 0 {
			b.fields = b.fields[:n-1]
		}
	}
}

// BuildLine renders the pending values into a line and appends it to the
// output.
func (b *Builder) BuildLine() error {
	if b.measurement.IsNone() {
		return errMissingElement(Measurement.String())
	}
	if len(b.tags)%2 != 0 {
		return errUnevenSet("tag")
	}
	if len(b.fields) == 0 {
		return errMissingElement(Fields.String())
	}
	if len(b.fields)%2 != 0 {
		return errUnevenSet("field")
	}

	var sb strings.Builder
	sb.WriteString(keyEscaper.Replace(b.measurement.AsString()))

	for i := 0; i < len(b.tags); i += 2 {
		sb.WriteByte(comma)
		sb.WriteString(keyEscaper.Replace(b.tags[i].AsString()))
		sb.WriteByte(equalSign)
		sb.WriteString(keyEscaper.Replace(b.tags[i+1].AsString()))
	}

	for i := 0; i < len(b.fields); i += 2 {
		if i == 0 {
			sb.WriteByte(space)
		} else {
			sb.WriteByte(comma)
		}
		sb.WriteString(keyEscaper.Replace(b.fields[i].AsString()))
		sb.WriteByte(equalSign)
		sb.WriteString(fieldValue(b.fields[i+1]))
	}

	if !b.timestamp.IsNone() {
		sb.WriteByte(space)
		sb.WriteString(b.timestamp.AsString())
	}

	b.lines = append(b.lines, sb.String())
	b.clearLine()
	return nil
}

// Output returns all built lines joined by line breaks.
func (b *Builder) Output() string {
	return strings.Join(b.lines, "\n")
}

// Lines returns the built lines.
func (b *Builder) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Reset discards pending values and built lines.
func (b *Builder) Reset() {
	b.clearLine()
	b.lines = b.lines[:0]
}

func (b *Builder) clearLine() {
	b.curr = Measurement
	b.measurement = Value{}
	b.tags = nil
	b.fields = nil
	b.timestamp = Value{}
}

func fieldValue(v Value) string {
	if v.IsString() {
		return `"` + stringEscaper.Replace(v.AsString()) + `"`
	}
	return v.String()
}

// keyOf renders a tag or field key. Keys must come out as plain text.
func keyOf(x any) (string, error) {
	v, err := ValueOf(x)
	if err != nil || v.IsNone() {
		return "", errInvalidKey()
	}
	if !v.isFinite() {
		return "", errInfiniteFloat()
	}
	return v.AsString(), nil
}
