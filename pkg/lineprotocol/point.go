package lineprotocol

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Tag struct {
	Key   string
	Value string
}

type Field struct {
	Key   string
	Value Value
}

// Point is a generic record: one measurement, its tags and fields in line
// order and an optional timestamp.
type Point struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   *int64
}

func (p *Point) AddTag(key, value string) *Point {
	p.Tags = append(p.Tags, Tag{Key: key, Value: value})
	return p
}

func (p *Point) AddField(key string, value Value) *Point {
	p.Fields = append(p.Fields, Field{Key: key, Value: value})
	return p
}

func (p *Point) SetTimestamp(ts int64) *Point {
	p.Timestamp = &ts
	return p
}

// Tag returns the value of the first tag named key.
func (p *Point) Tag(key string) (string, bool) {
	for _, t := range p.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Field returns the value of the first field named key.
func (p *Point) Field(key string) (Value, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// SeriesKey identifies the series of p: the escaped measurement followed by
// its tags sorted by key.
func (p *Point) SeriesKey() string {
	tags := make([]Tag, len(p.Tags))
	copy(tags, p.Tags)
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	var sb strings.Builder
	sb.WriteString(keyEscaper.Replace(p.Measurement))
	for _, t := range tags {
		sb.WriteByte(comma)
		sb.WriteString(keyEscaper.Replace(t.Key))
		sb.WriteByte(equalSign)
		sb.WriteString(keyEscaper.Replace(t.Value))
	}
	return sb.String()
}

// SeriesID is the xxhash of SeriesKey.
func (p *Point) SeriesID() uint64 {
	return xxhash.Sum64String(p.SeriesKey())
}

func (p *Point) WantsTags() bool { return true }

func (p *Point) UnmarshalElement(elem Element, key string, tok *Token) error {
	switch elem {
	case Measurement:
		name, err := tok.Text()
		if err != nil {
			return err
		}
		if name == "" {
			return errMissingElement(Measurement.String())
		}
		// The measurement always comes first, so a reused Point starts over.
		*p = Point{Measurement: name}

	case Tags:
		v, err := tok.Text()
		if err != nil {
			return err
		}
		p.AddTag(key, v)

	case Fields:
		v, err := tok.Value()
		if err != nil {
			return err
		}
		p.AddField(key, v)

	case Timestamp:
		ts, err := tok.Int()
		if err != nil {
			return err
		}
		p.SetTimestamp(ts)
	}
	return nil
}

func (p *Point) FinishLine() error {
	if len(p.Fields) == 0 {
		return errMissingElement(Fields.String())
	}
	return nil
}

func (p *Point) MarshalLine(b *Builder) error {
	b.SetElement(Measurement)
	if p.Measurement != "" {
		if err := b.AddValue(p.Measurement); err != nil {
			return err
		}
	}

	b.SetElement(Tags)
	for _, t := range p.Tags {
		if err := b.AddPair(t.Key, t.Value); err != nil {
			return err
		}
	}

	b.SetElement(Fields)
	for _, f := range p.Fields {
		if err := b.AddPair(f.Key, f.Value); err != nil {
			return err
		}
	}

	b.SetElement(Timestamp)
	return b.AddValue(p.Timestamp)
}
