package lineprotocol

import (
	"io"
)

// Marshaler is implemented by records that can render themselves as a
// line. MarshalLine selects elements with SetElement and adds values; the
// caller builds the line afterwards.
type Marshaler interface {
	MarshalLine(b *Builder) error
}

// Marshal renders a single record.
func Marshal(m Marshaler) ([]byte, error) {
	b := NewBuilder()
	if err := encodeLine(b, m); err != nil {
		return nil, err
	}
	return []byte(b.Output()), nil
}

// MarshalAll renders records one per line, without a trailing line break.
func MarshalAll[M Marshaler](records []M) ([]byte, error) {
	b := NewBuilder()
	for _, m := range records {
		if err := encodeLine(b, m); err != nil {
			return nil, err
		}
	}
	return []byte(b.Output()), nil
}

func encodeLine(b *Builder, m Marshaler) error {
	b.SetElement(Measurement)
	if err := m.MarshalLine(b); err != nil {
		b.clearLine()
		return withPosition(err, Position{})
	}
	return b.BuildLine()
}

// Encoder writes records to a stream, each followed by a line break.
type Encoder struct {
	w io.Writer
	b *Builder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, b: NewBuilder()}
}

func (e *Encoder) Encode(m Marshaler) error {
	defer e.b.Reset()
	if err := encodeLine(e.b, m); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, e.b.Output()+"\n")
	return err
}
