package lineprotocol

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Unmarshaler is implemented by records that can be populated from a line.
//
// UnmarshalElement is called once for the measurement, once per tag (only
// when WantsTags reports true), once per field and once for the timestamp
// when the line has one. key is the tag or field key, or the element name
// for the measurement and timestamp. A token left unread is skipped.
type Unmarshaler interface {
	WantsTags() bool
	UnmarshalElement(elem Element, key string, tok *Token) error
}

// LineFinisher is implemented by records that validate themselves once
// their whole line has been decoded.
type LineFinisher interface {
	FinishLine() error
}

// Token is the not yet lexed value of a single element. The first call to
// one of its accessors reads the value; later calls convert the same text.
type Token struct {
	r    *Reader
	elem Element
	key  string

	read   bool
	raw    string
	end    Position
	quoted bool
}

func (t *Token) Element() Element { return t.elem }
func (t *Token) Key() string { return t.key }

// Position returns where the value ends, or the current reader position if
// the value has not been read yet.
func (t *Token) Position() Position {
	if t.read {
		return t.end
	}
	return t.r.pos
}

func (t *Token) text() (string, error) {
	if !t.read {
		v, err := t.r.NextValue()
		t.read = true
		t.end = t.r.end
		t.quoted = t.r.quoted
		if err != nil {
			return "", err
		}
		t.raw = v
	}
	return t.raw, nil
}

// Quoted reports whether the value was a quoted field value.
func (t *Token) Quoted() bool { return t.quoted }

// Text returns the unescaped value.
func (t *Token) Text() (string, error) {
	return t.text()
}

var wholeNumber = regexp.MustCompile(`^-?\d+i?$`)

// Int reads a whole number. The i suffix is optional.
func (t *Token) Int() (int64, error) {
	s, err := t.text()
	if err != nil {
		return 0, err
	}
	if !wholeNumber.MatchString(s) {
		return 0, errInvalidValue(s, t.end)
	}
	i, err := strconv.ParseInt(strings.TrimSuffix(s, "i"), 10, 64)
	if err != nil {
		return 0, errInvalidValue(s, t.end)
	}
	return i, nil
}

// Uint reads a non-negative whole number. The i suffix is optional.
func (t *Token) Uint() (uint64, error) {
	s, err := t.text()
	if err != nil {
		return 0, err
	}
	if !wholeNumber.MatchString(s) {
		return 0, errInvalidValue(s, t.end)
	}
	u, err := strconv.ParseUint(strings.TrimSuffix(s, "i"), 10, 64)
	if err != nil {
		return 0, errInvalidValue(s, t.end)
	}
	return u, nil
}

func (t *Token) Float() (float64, error) {
	s, err := t.text()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errInvalidType(s, "f64", t.end)
	}
	return f, nil
}

func (t *Token) Bool() (bool, error) {
	s, err := t.text()
	if err != nil {
		return false, err
	}
	v, ok := FromBoolStr(s)
	if !ok {
		return false, errInvalidType(s, "bool", t.end)
	}
	b, _ := v.AsBool()
	return b, nil
}

// Char reads a value made of exactly one character.
func (t *Token) Char() (rune, error) {
	s, err := t.text()
	if err != nil {
		return 0, err
	}
	if n := utf8.RuneCountInString(s); n != 1 {
		return 0, errInvalidChar(s, n, t.end)
	}
	c, _ := utf8.DecodeRuneInString(s)
	return c, nil
}

// Value reads the value and infers its type with FromAnyStr. Quoted field
// values are always strings.
func (t *Token) Value() (Value, error) {
	s, err := t.text()
	if err != nil {
		return Value{}, err
	}
	if t.quoted {
		return StringValue(s), nil
	}
	return FromAnyStr(s), nil
}

// Skip consumes the value without converting it.
func (t *Token) Skip() error {
	_, err := t.text()
	return err
}

// Unmarshal decodes the single line in data into u. Blank and comment lines
// are ignored; a second line is an error.
func Unmarshal(data []byte, u Unmarshaler) error {
	r := NewReader(data)
	if !r.HasNextLine() {
		return errEmptyInput()
	}
	r.SetNextLine()
	if err := decodeLine(r, u); err != nil {
		return err
	}
	if r.HasNextLine() {
		c, _ := r.src.peek()
		return errUnexpectedChar(c, r.pos)
	}
	return nil
}

// UnmarshalAll decodes every line in data into a new T.
func UnmarshalAll[T any, P interface {
	*T
	Unmarshaler
}](data []byte) ([]T, error) {
	return decodeAll[T, P](NewReader(data))
}

// DecodeAll is UnmarshalAll over a stream.
func DecodeAll[T any, P interface {
	*T
	Unmarshaler
}](rd io.Reader) ([]T, error) {
	return decodeAll[T, P](NewStreamReader(rd))
}

func decodeAll[T any, P interface {
	*T
	Unmarshaler
}](r *Reader) ([]T, error) {
	if !r.HasNextLine() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, errEmptyInput()
	}

	var out []T
	for r.HasNextLine() {
		r.SetNextLine()
		var rec T
		if err := decodeLine(r, P(&rec)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Decoder reads records line by line. After a failed Decode the rest of
// the offending line is skipped, so decoding can go on with the next one.
type Decoder struct {
	r       *Reader
	started bool
}

func NewDecoder(rd io.Reader) *Decoder {
	return &Decoder{r: NewStreamReader(rd)}
}

// NewDecoderBytes returns a Decoder over a fully buffered input.
func NewDecoderBytes(data []byte) *Decoder {
	return &Decoder{r: NewReader(data)}
}

// More reports whether another line is waiting.
func (d *Decoder) More() bool {
	return d.r.HasNextLine()
}

// Decode reads the next line into u. It returns io.EOF once the input is
// exhausted, and an empty input error when the input had no line at all.
func (d *Decoder) Decode(u Unmarshaler) error {
	if !d.r.HasNextLine() {
		if err := d.r.Err(); err != nil {
			return err
		}
		if !d.started {
			return errEmptyInput()
		}
		return io.EOF
	}
	d.started = true
	d.r.SetNextLine()
	return decodeLine(d.r, u)
}

func (d *Decoder) Position() Position {
	return d.r.pos
}

func decodeLine(r *Reader, u Unmarshaler) error {
	if u.WantsTags() {
		r.IncludeTags()
	}

	for {
		more, err := r.HasNextKey()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		name, err := r.NextKey()
		if err != nil {
			return err
		}

		elem, _ := ParseElement(name)
		switch elem {
		case Measurement, Timestamp:
			if err := decodeElement(r, u, elem, name); err != nil {
				return err
			}
		case Tags, Fields:
			if err := decodeSet(r, u, elem); err != nil {
				return err
			}
		}
	}

	if f, ok := u.(LineFinisher); ok {
		if err := f.FinishLine(); err != nil {
			return withPosition(err, r.pos)
		}
	}
	return r.EndLine()
}

func decodeSet(r *Reader, u Unmarshaler, elem Element) error {
	for {
		more, err := r.HasNextKey()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		key, err := r.NextKey()
		if err != nil {
			return err
		}
		if err := decodeElement(r, u, elem, key); err != nil {
			return err
		}
	}
}

func decodeElement(r *Reader, u Unmarshaler, elem Element, key string) error {
	tok := &Token{r: r, elem: elem, key: key}
	if err := u.UnmarshalElement(elem, key, tok); err != nil {
		return withPosition(err, tok.Position())
	}
	if !tok.read {
		return r.DiscardNextValue()
	}
	return nil
}

// withPosition turns errors raised by record code into *Error and fills
// in a missing position.
func withPosition(err error, pos Position) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Position != (Position{}) {
			return err
		}
		c := *e
		c.Position = pos
		return &c
	}
	return &Error{Code: CodeMessage, Detail: err.Error(), Position: pos, Err: err}
}
