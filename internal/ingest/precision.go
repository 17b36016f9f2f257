package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Precision is the unit of a raw line protocol timestamp.
type Precision string

const (
	Nanosecond  Precision = "ns"
	Microsecond Precision = "us"
	Millisecond Precision = "ms"
	Second      Precision = "s"
)

var ErrUnknownPrecision = errors.New("unknown timestamp precision")

// nanos per unit
var precisionScale = map[Precision]int64{
	Nanosecond:  1,
	Microsecond: int64(time.Microsecond),
	Millisecond: int64(time.Millisecond),
	Second:      int64(time.Second),
}

// ParsePrecision validates a precision name. An empty name means
// nanoseconds.
func ParsePrecision(s string) (Precision, error) {
	if s == "" {
		return Nanosecond, nil
	}
	p := Precision(s)
	if _, ok := precisionScale[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrecision, s)
	}
	return p, nil
}

// ConvertPrecision rescales ts from one precision to another. Converting to
// a coarser unit truncates toward zero.
func ConvertPrecision(ts int64, from, to Precision) int64 {
	f, t := scaleOf(from), scaleOf(to)
	switch {
	case f == t:
		return ts
	case f > t:
		return ts * (f / t)
	default:
		return ts / (t / f)
	}
}

// FromTime expresses t in the given precision.
func FromTime(t time.Time, to Precision) int64 {
	return ConvertPrecision(t.UnixNano(), Nanosecond, to)
}

func scaleOf(p Precision) int64 {
	if s, ok := precisionScale[p]; ok {
		return s
	}
	return 1
}
