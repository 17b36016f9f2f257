package lineprotocol

import (
	"bytes"
	"io"
	"strings"
)

const (
	backslash   = '\\'
	newline     = '\n'
	space       = ' '
	doubleQuote = '"'
	comma       = ','
	equalSign   = '='
	commentMark = '#'
)

// isSpace matches ASCII whitespace.
func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

// Reader is a pull based lexer over one or many lines.
//
// Each line is walked element by element: the measurement, an optional tag
// set, the field set and an optional timestamp. Callers alternate
// HasNextKey, NextKey and NextValue; the Reader tracks which element comes
// next from the separators it meets. A Reader is not safe for concurrent
// use.
type Reader struct {
	src source
	pos Position

	prev Element
	next Element
	tags bool

	// done is set once the current line has no keys left.
	done bool

	// end is the position right after the last value, before its separator.
	end Position
	// quoted is set when the last value was a quoted field value.
	quoted bool

	// active is set while a line is being lexed and has not been ended.
	active bool
}

// NewReader returns a Reader over a fully buffered input. The input is
// borrowed, not copied.
func NewReader(data []byte) *Reader {
	return newReader(&sliceSource{input: data})
}

// NewStreamReader returns a Reader pulling bytes from r one at a time.
// Pass a buffered reader when r is expensive to read from.
func NewStreamReader(r io.Reader) *Reader {
	return newReader(newStreamSource(r))
}

func newReader(src source) *Reader {
	r := &Reader{src: src, pos: startPosition()}
	r.skipToContent()
	return r
}

// Position returns the current position in the input.
func (r *Reader) Position() Position {
	return r.pos
}

// Element returns the element the next key or value belongs to.
func (r *Reader) Element() Element {
	return r.next
}

// IncludeTags makes the Reader materialize the tag set of the current line
// instead of skipping over it. It is reset by SetNextLine.
func (r *Reader) IncludeTags() {
	r.tags = true
}

func (r *Reader) TagsIncluded() bool {
	return r.tags
}

// Err returns the stream error that ended the input early, if any.
func (r *Reader) Err() error {
	if err := r.src.err(); err != nil {
		return errUnexpectedEOF(r.pos, err)
	}
	return nil
}

func (r *Reader) peekChar() (byte, error) {
	c, ok := r.src.peek()
	if !ok {
		return 0, errUnexpectedEOF(r.pos, r.src.err())
	}
	return c, nil
}

func (r *Reader) skipChar() {
	c, ok := r.src.peek()
	if !ok {
		return
	}
	r.src.skip()
	r.pos.advance(c)
}

func (r *Reader) skipWhitespace() {
	for {
		c, ok := r.src.peek()
		if !ok || !isSpace(c) {
			return
		}
		r.skipChar()
	}
}

// skipLine consumes up to and including the next line break.
func (r *Reader) skipLine() {
	for {
		c, ok := r.src.peek()
		if !ok {
			return
		}
		r.skipChar()
		if c == newline {
			return
		}
	}
}

// skipToContent moves past blank and comment lines.
func (r *Reader) skipToContent() {
	for {
		r.skipWhitespace()
		c, ok := r.src.peek()
		if ok && c == commentMark {
			r.skipLine()
			continue
		}
		return
	}
}

func (r *Reader) touch() {
	r.active = true
}

// abandonLine drops whatever is left of a line that was partially lexed.
func (r *Reader) abandonLine() {
	if r.active {
		r.skipLine()
	}
	r.active = false
}

// HasNextLine reports whether another line with content follows. A line
// that was only partially consumed is skipped.
func (r *Reader) HasNextLine() bool {
	r.abandonLine()
	r.skipToContent()
	_, ok := r.src.peek()
	return ok
}

// SetNextLine resets the per-line state so the next line can be lexed.
// HasNextLine must have reported true.
func (r *Reader) SetNextLine() {
	r.abandonLine()
	r.skipToContent()

	r.prev = Measurement
	r.next = Measurement
	r.tags = false
	r.done = false
}

// EndLine checks that nothing but whitespace is left on the current line
// and consumes the line break.
func (r *Reader) EndLine() error {
	for {
		c, ok := r.src.peek()
		if !ok {
			if err := r.Err(); err != nil {
				return err
			}
			r.active = false
			return nil
		}
		if c == newline {
			r.skipChar()
			r.active = false
			return nil
		}
		if !isSpace(c) {
			return errUnexpectedChar(c, r.pos)
		}
		r.skipChar()
	}
}

// HasNextKey reports whether the current element has another key/value
// pair. The measurement always has exactly one.
func (r *Reader) HasNextKey() (bool, error) {
	r.touch()
	if r.done {
		return false, nil
	}

	switch r.next {
	case Measurement:
		return true, nil

	case Tags:
		// A space where a tag key is expected closes the tag set.
		c, err := r.peekChar()
		if err != nil {
			return false, err
		}
		if c == space {
			r.skipChar()
			r.next = Fields
			return r.HasNextKey()
		}
		return true, nil

	default:
		// Field set and timestamp end at whitespace, a line break or the end
		// of the input.
		c, ok := r.src.peek()
		if !ok {
			if err := r.Err(); err != nil {
				return false, err
			}
			r.done = true
			return false, nil
		}
		if c == newline {
			r.done = true
			return false, nil
		}
		if isSpace(c) {
			r.skipChar()
			return false, nil
		}
		return true, nil
	}
}

// NextKey returns the next key. The measurement and timestamp have the
// fixed keys "measurement" and "timestamp". Entering the tag or field set
// yields the group name "tags" or "fields" once; after that the keys of the
// set are returned unescaped.
func (r *Reader) NextKey() (string, error) {
	r.touch()

	switch r.next {
	case Measurement:
		return Measurement.String(), nil

	case Tags:
		if r.prev == Measurement {
			r.prev = Tags
			return Tags.String(), nil
		}
		return r.scanKey()

	case Fields:
		if r.prev == Measurement || r.prev == Tags {
			r.prev = Fields
			return Fields.String(), nil
		}
		return r.scanKey()

	default:
		return Timestamp.String(), nil
	}
}

// NextValue returns the next value of the current element, unescaped.
// Quoted field values lose their surrounding quotes.
func (r *Reader) NextValue() (string, error) {
	r.touch()

	var value string
	r.quoted = false
	switch r.next {
	case Measurement, Tags:
		raw, err := r.scanToken(false)
		if err != nil {
			return "", err
		}
		value = unescapeKey(raw)

	case Fields:
		raw, err := r.scanToken(true)
		if err != nil {
			return "", err
		}
		value = unescapeFieldValue(raw)
		r.quoted = isQuoted(raw)

	case Timestamp:
		value = r.scanTimestamp()
		r.done = true
	}
	r.end = r.pos

	if err := r.determineNext(); err != nil {
		return "", err
	}
	return value, nil
}

// scanKey reads a tag or field key and the equal sign behind it.
func (r *Reader) scanKey() (string, error) {
	raw, err := r.scanToken(false)
	if err != nil {
		return "", err
	}
	c, err := r.peekChar()
	if err != nil {
		return "", err
	}
	if c != equalSign {
		return "", errUnexpectedChar(c, r.pos)
	}
	r.skipChar()
	return unescapeKey(raw), nil
}

// DiscardNextValue lexes the next value and drops it.
func (r *Reader) DiscardNextValue() error {
	_, err := r.NextValue()
	return err
}

// determineNext inspects the separator following a token and moves to the
// element it introduces.
func (r *Reader) determineNext() error {
	switch r.next {
	case Measurement:
		c, err := r.peekChar()
		if err != nil {
			return err
		}
		switch c {
		case comma:
			r.skipChar()
			if !r.tags {
				if err := r.discardTags(); err != nil {
					return err
				}
				r.next = Fields
				return nil
			}
			r.next = Tags
		case space:
			r.skipChar()
			r.next = Fields
		default:
			return errUnexpectedChar(c, r.pos)
		}

	case Tags:
		c, err := r.peekChar()
		if err != nil {
			return err
		}
		switch c {
		case comma, equalSign:
			r.skipChar()
		case space:
			// Left for HasNextKey to consume.
			r.next = Fields
		default:
			return errUnexpectedChar(c, r.pos)
		}

	case Fields:
		c, ok := r.src.peek()
		if !ok {
			if err := r.Err(); err != nil {
				return err
			}
			r.next = Timestamp
			r.done = true
			return nil
		}
		switch {
		case c == comma || c == equalSign:
			r.skipChar()
		case isSpace(c):
			r.next = Timestamp
		default:
			return errUnexpectedChar(c, r.pos)
		}
	}
	return nil
}

// discardTags skips a tag set the caller has no use for, including the
// space that separates it from the field set.
func (r *Reader) discardTags() error {
	escaped := false
	for {
		c, err := r.peekChar()
		if err != nil {
			return err
		}
		if !escaped && isSpace(c) {
			if c != space {
				return errUnexpectedChar(c, r.pos)
			}
			r.skipChar()
			return nil
		}
		r.skipChar()
		escaped = !escaped && c == backslash
	}
}

// scanToken consumes bytes up to the first unescaped comma, equal sign or
// whitespace and returns them raw, escapes included. With quotes set,
// delimiters inside a double quoted section are part of the token.
func (r *Reader) scanToken(quotes bool) ([]byte, error) {
	var raw []byte
	escaped, quoted := false, false
	for {
		c, ok := r.src.peek()
		if !ok {
			break
		}
		if !escaped && !quoted && (c == comma || c == equalSign || isSpace(c)) {
			break
		}
		r.skipChar()
		raw = append(raw, c)

		switch {
		case escaped:
			escaped = false
		case c == backslash:
			escaped = true
		case quotes && c == doubleQuote:
			quoted = !quoted
		}
	}

	if quoted {
		return nil, errUnexpectedEOF(r.pos, r.src.err())
	}
	return raw, nil
}

func (r *Reader) scanTimestamp() string {
	var raw []byte
	for {
		c, ok := r.src.peek()
		if !ok || isSpace(c) {
			break
		}
		r.skipChar()
		raw = append(raw, c)
	}
	return string(raw)
}

// unescapeKey reverses the escaping of measurements, tag keys, tag values
// and field keys: \, \= and "\ " lose their backslash. Other backslash
// sequences are kept as they are.
func unescapeKey(raw []byte) string {
	return unescape(raw, ",= ")
}

// unescapeFieldValue strips the quotes of a quoted field value and reverses
// \" and \\ inside it. Unquoted values are treated like keys.
func unescapeFieldValue(raw []byte) string {
	if isQuoted(raw) {
		return unescape(raw[1:len(raw)-1], `"\`)
	}
	return unescapeKey(raw)
}

func isQuoted(raw []byte) bool {
	return len(raw) >= 2 && raw[0] == doubleQuote && raw[len(raw)-1] == doubleQuote
}

// Single pass: only allocates a new buffer when a backslash is present.
func unescape(raw []byte, set string) string {
	if bytes.IndexByte(raw, backslash) < 0 {
		return string(raw)
	}

	buf := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == backslash && i+1 < len(raw) {
			next := raw[i+1]
			if strings.IndexByte(set, next) < 0 {
				buf = append(buf, raw[i])
			}
			buf = append(buf, next)
			i++
			continue
		}
		buf = append(buf, raw[i])
	}
	return string(buf)
}
