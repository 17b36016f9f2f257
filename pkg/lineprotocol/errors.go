package lineprotocol

import "fmt"

// Code identifies the kind of an Error.
type Code uint8

const (
	// CodeMessage is a free-form error raised by a record's own mapping code.
	CodeMessage Code = iota
	CodeEmptyInput
	CodeUnexpectedEOF
	CodeUnexpectedChar
	CodeInvalidType
	CodeInvalidValue
	CodeInvalidChar
	CodeInfiniteFloat
	CodeInvalidKey
	CodeInvalidFieldType
	CodeMissingElement
	CodeUnevenSet
	CodeUnsupportedFeature
)

var codeNames = []string{
	CodeMessage:            "message",
	CodeEmptyInput:         "empty input",
	CodeUnexpectedEOF:      "unexpected eof",
	CodeUnexpectedChar:     "unexpected char",
	CodeInvalidType:        "invalid type",
	CodeInvalidValue:       "invalid value",
	CodeInvalidChar:        "invalid char",
	CodeInfiniteFloat:      "infinite float",
	CodeInvalidKey:         "invalid key",
	CodeInvalidFieldType:   "invalid field type",
	CodeMissingElement:     "missing element",
	CodeUnevenSet:          "uneven set",
	CodeUnsupportedFeature: "unsupported feature",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error is returned by every decode and encode operation of this package.
//
// Decode errors carry the position of the offending token. Encode errors
// always carry the zero Position since there is no input to point into.
type Error struct {
	Code     Code
	Position Position

	// Got holds the offending token or character, when there is one.
	Got string
	// Expected holds the wanted type for CodeInvalidType.
	Expected string
	// Len holds the character count for CodeInvalidChar.
	Len int
	// Detail names the element, set, kind or feature the error is about,
	// or holds the message for CodeMessage.
	Detail string

	// Err is the underlying stream error, if any.
	Err error
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrEmptyInput         = &Error{Code: CodeEmptyInput}
	ErrUnexpectedEOF      = &Error{Code: CodeUnexpectedEOF}
	ErrUnexpectedChar     = &Error{Code: CodeUnexpectedChar}
	ErrInvalidType        = &Error{Code: CodeInvalidType}
	ErrInvalidValue       = &Error{Code: CodeInvalidValue}
	ErrInvalidChar        = &Error{Code: CodeInvalidChar}
	ErrInfiniteFloat      = &Error{Code: CodeInfiniteFloat}
	ErrInvalidKey         = &Error{Code: CodeInvalidKey}
	ErrInvalidFieldType   = &Error{Code: CodeInvalidFieldType}
	ErrMissingElement     = &Error{Code: CodeMissingElement}
	ErrUnevenSet          = &Error{Code: CodeUnevenSet}
	ErrUnsupportedFeature = &Error{Code: CodeUnsupportedFeature}
)

func (e *Error) Error() string {
	var msg string
	switch e.Code {
	case CodeMessage:
		msg = e.Detail
	case CodeEmptyInput:
		msg = "empty input"
	case CodeUnexpectedEOF:
		msg = fmt.Sprintf("unexpected eof at %s", e.Position)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	case CodeUnexpectedChar:
		msg = fmt.Sprintf("unexpected char: %q at %s", e.Got, e.Position)
	case CodeInvalidType:
		msg = fmt.Sprintf("invalid type: value %q is not of correct type, expected type %s at %s", e.Got, e.Expected, e.Position)
	case CodeInvalidValue:
		msg = fmt.Sprintf("invalid value %q at %s", e.Got, e.Position)
	case CodeInvalidChar:
		msg = fmt.Sprintf("invalid char: %q of length %d at %s", e.Got, e.Len, e.Position)
	case CodeInfiniteFloat:
		msg = "invalid float: floats must be finite"
	case CodeInvalidKey:
		msg = "invalid key: keys must be of type string"
	case CodeInvalidFieldType:
		msg = fmt.Sprintf("invalid field type %q, expected any of: float, int, uint, string, or bool", e.Detail)
	case CodeMissingElement:
		msg = fmt.Sprintf("missing element: %q", e.Detail)
	case CodeUnevenSet:
		msg = fmt.Sprintf("invalid set: %s set contains an uneven amount of key- and values", e.Detail)
	case CodeUnsupportedFeature:
		msg = fmt.Sprintf("attempted to use an unsupported feature: %s", e.Detail)
	default:
		msg = e.Code.String()
	}
	return "lineprotocol: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds a CodeMessage error. Records use it to report problems
// that are not covered by the other codes.
func Errorf(format string, args ...any) *Error {
	return &Error{Code: CodeMessage, Detail: fmt.Sprintf(format, args...)}
}

func errEmptyInput() *Error {
	return &Error{Code: CodeEmptyInput}
}

func errUnexpectedEOF(pos Position, cause error) *Error {
	return &Error{Code: CodeUnexpectedEOF, Position: pos, Err: cause}
}

// errUnexpectedChar is raised after c has been peeked but not consumed, so
// pos already points at c.
func errUnexpectedChar(c byte, pos Position) *Error {
	return &Error{Code: CodeUnexpectedChar, Got: string(c), Position: pos}
}

// The token constructors below are called once the token has been consumed,
// so the position is moved back to where the token started.

func errInvalidType(got, expected string, pos Position) *Error {
	return &Error{Code: CodeInvalidType, Got: got, Expected: expected, Position: pos.back(len(got))}
}

func errInvalidValue(got string, pos Position) *Error {
	return &Error{Code: CodeInvalidValue, Got: got, Position: pos.back(len(got))}
}

func errInvalidChar(got string, n int, pos Position) *Error {
	return &Error{Code: CodeInvalidChar, Got: got, Len: n, Position: pos.back(len(got))}
}

func errInfiniteFloat() *Error {
	return &Error{Code: CodeInfiniteFloat}
}

func errInvalidKey() *Error {
	return &Error{Code: CodeInvalidKey}
}

func errInvalidFieldType(kind string) *Error {
	return &Error{Code: CodeInvalidFieldType, Detail: kind}
}

func errMissingElement(name string) *Error {
	return &Error{Code: CodeMissingElement, Detail: name}
}

func errUnevenSet(which string) *Error {
	return &Error{Code: CodeUnevenSet, Detail: which}
}

func errUnsupported(feature string) *Error {
	return &Error{Code: CodeUnsupportedFeature, Detail: feature}
}
