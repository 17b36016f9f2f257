package lineprotocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cpuSample struct {
	Host   string
	Region string
	Usage  float64
	Cores  uint64
	Offset int64
	Active bool
	Grade  rune
	Time   *int64
}

func (c *cpuSample) WantsTags() bool { return true }

func (c *cpuSample) UnmarshalElement(elem Element, key string, tok *Token) error {
	var err error
	switch elem {
	case Measurement:
		var name string
		if name, err = tok.Text(); err == nil && name != "cpu" {
			return Errorf("unexpected measurement %q", name)
		}
	case Tags:
		switch key {
		case "host":
			c.Host, err = tok.Text()
		case "region":
			c.Region, err = tok.Text()
		}
	case Fields:
		switch key {
		case "usage":
			c.Usage, err = tok.Float()
		case "cores":
			c.Cores, err = tok.Uint()
		case "offset":
			c.Offset, err = tok.Int()
		case "active":
			c.Active, err = tok.Bool()
		case "grade":
			c.Grade, err = tok.Char()
		case "fail":
			return errFailField
		}
	case Timestamp:
		var ts int64
		if ts, err = tok.Int(); err == nil {
			c.Time = &ts
		}
	}
	return err
}

func (c *cpuSample) MarshalLine(b *Builder) error {
	if err := b.AddValue("cpu"); err != nil {
		return err
	}
	b.SetElement(Tags)
	if err := b.AddPair("host", c.Host); err != nil {
		return err
	}
	if c.Region != "" {
		if err := b.AddPair("region", c.Region); err != nil {
			return err
		}
	}
	b.SetElement(Fields)
	for _, kv := range []struct {
		k string
		v any
	}{
		{"usage", c.Usage},
		{"cores", c.Cores},
		{"offset", c.Offset},
		{"active", c.Active},
		{"grade", string(c.Grade)},
	} {
		if err := b.AddPair(kv.k, kv.v); err != nil {
			return err
		}
	}
	b.SetElement(Timestamp)
	return b.AddValue(c.Time)
}

var errFailField = errors.New("field refused")

func int64p(v int64) *int64 { return &v }

func TestUnmarshalTypedRecord(t *testing.T) {
	input := `cpu,host=a,rack=r1,region=eu usage=0.5,cores=8i,offset=-3i,active=T,grade="A",extra="skip me, please" 1700000000`

	var got cpuSample
	require.NoError(t, Unmarshal([]byte(input), &got))

	assert.Equal(t, cpuSample{
		Host:   "a",
		Region: "eu",
		Usage:  0.5,
		Cores:  8,
		Offset: -3,
		Active: true,
		Grade:  'A',
		Time:   int64p(1700000000),
	}, got)
}

func TestUnmarshalTypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		code     Code
		got      string
		expected string
		pos      Position
	}{
		{name: "uint", input: "cpu cores=abc", code: CodeInvalidValue, got: "abc", pos: Position{1, 10}},
		{name: "negative uint", input: "cpu cores=-1i", code: CodeInvalidValue, got: "-1i", pos: Position{1, 10}},
		{name: "int overflow", input: "cpu offset=9223372036854775808i", code: CodeInvalidValue, got: "9223372036854775808i", pos: Position{1, 11}},
		{name: "bool", input: "cpu active=yes", code: CodeInvalidType, got: "yes", expected: "bool", pos: Position{1, 11}},
		{name: "float", input: "cpu usage=high", code: CodeInvalidType, got: "high", expected: "f64", pos: Position{1, 10}},
		{name: "timestamp", input: "cpu usage=1 abc", code: CodeInvalidValue, got: "abc", pos: Position{1, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec cpuSample
			err := Unmarshal([]byte(tt.input), &rec)

			var lpErr *Error
			require.ErrorAs(t, err, &lpErr)
			assert.Equal(t, tt.code, lpErr.Code)
			assert.Equal(t, tt.got, lpErr.Got)
			assert.Equal(t, tt.expected, lpErr.Expected)
			assert.Equal(t, tt.pos, lpErr.Position)
		})
	}
}

func TestUnmarshalCharLength(t *testing.T) {
	var rec cpuSample
	err := Unmarshal([]byte(`cpu grade="AB"`), &rec)

	var lpErr *Error
	require.ErrorAs(t, err, &lpErr)
	assert.Equal(t, CodeInvalidChar, lpErr.Code)
	assert.Equal(t, "AB", lpErr.Got)
	assert.Equal(t, 2, lpErr.Len)
}

func TestUnmarshalRecordErrors(t *testing.T) {
	var rec cpuSample
	err := Unmarshal([]byte("mem usage=1"), &rec)

	var lpErr *Error
	require.ErrorAs(t, err, &lpErr)
	assert.Equal(t, CodeMessage, lpErr.Code)
	assert.Contains(t, lpErr.Error(), `unexpected measurement "mem"`)
	assert.Equal(t, Position{1, 3}, lpErr.Position)

	err = Unmarshal([]byte("cpu fail=1"), &rec)
	require.ErrorAs(t, err, &lpErr)
	assert.Equal(t, CodeMessage, lpErr.Code)
	assert.ErrorIs(t, err, errFailField)
}

func TestUnmarshalInputShape(t *testing.T) {
	var p Point
	assert.ErrorIs(t, Unmarshal(nil, &p), ErrEmptyInput)
	assert.ErrorIs(t, Unmarshal([]byte("\n# nothing\n  \n"), &p), ErrEmptyInput)

	err := Unmarshal([]byte("a f=1\nb f=2"), &p)
	var lpErr *Error
	require.ErrorAs(t, err, &lpErr)
	assert.Equal(t, CodeUnexpectedChar, lpErr.Code)
	assert.Equal(t, "b", lpErr.Got)
	assert.Equal(t, Position{2, 0}, lpErr.Position)

	require.NoError(t, Unmarshal([]byte("# header\na f=1\n\n"), &p))
	assert.Equal(t, "a", p.Measurement)
}

func TestUnmarshalPoints(t *testing.T) {
	input := "weather,location=us-midwest temperature=82 1465839830100400200\n" +
		"weather,location=us-east temperature=75.5,humid=true,note=\"ok then\",count=3i,delta=-2i\n"

	points, err := UnmarshalAll[Point]([]byte(input))
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, Point{
		Measurement: "weather",
		Tags:        []Tag{{Key: "location", Value: "us-midwest"}},
		Fields:      []Field{{Key: "temperature", Value: FloatValue(82)}},
		Timestamp:   int64p(1465839830100400200),
	}, points[0])

	assert.Equal(t, Point{
		Measurement: "weather",
		Tags:        []Tag{{Key: "location", Value: "us-east"}},
		Fields: []Field{
			{Key: "temperature", Value: FloatValue(75.5)},
			{Key: "humid", Value: BoolValue(true)},
			{Key: "note", Value: StringValue("ok then")},
			{Key: "count", Value: UintValue(3)},
			{Key: "delta", Value: IntValue(-2)},
		},
	}, points[1])
}

func TestUnmarshalPointQuotedStaysString(t *testing.T) {
	var p Point
	require.NoError(t, Unmarshal([]byte(`m a="true",b="12i",c=12i`), &p))
	a, _ := p.Field("a")
	b, _ := p.Field("b")
	c, _ := p.Field("c")
	assert.Equal(t, StringValue("true"), a)
	assert.Equal(t, StringValue("12i"), b)
	assert.Equal(t, UintValue(12), c)
}

func TestUnmarshalPointRequiresElements(t *testing.T) {
	var p Point
	assert.ErrorIs(t, Unmarshal([]byte("m "), &p), ErrMissingElement)
	assert.ErrorIs(t, Unmarshal([]byte(",t=1 f=1"), &p), ErrMissingElement)
}

func TestPointReuse(t *testing.T) {
	d := NewDecoder(strings.NewReader("a,x=1 f=1 10\nb g=2\n"))

	var p Point
	require.NoError(t, d.Decode(&p))
	require.NoError(t, d.Decode(&p))
	assert.Equal(t, "b", p.Measurement)
	assert.Empty(t, p.Tags)
	assert.Nil(t, p.Timestamp)
	assert.Len(t, p.Fields, 1)

	assert.ErrorIs(t, d.Decode(&p), io.EOF)
	assert.False(t, d.More())
}

func TestDecoderEmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader("# nothing here\n"))
	var p Point
	assert.ErrorIs(t, d.Decode(&p), ErrEmptyInput)
}

func TestDecoderRecoversAfterBadLine(t *testing.T) {
	d := NewDecoder(strings.NewReader("a f=1 10 y\nb f=2\n"))

	var p Point
	assert.ErrorIs(t, d.Decode(&p), ErrUnexpectedChar)
	require.True(t, d.More())
	require.NoError(t, d.Decode(&p))
	assert.Equal(t, "b", p.Measurement)
}

func TestDecodeAll(t *testing.T) {
	points, err := DecodeAll[Point](strings.NewReader("a f=1i\n\nb f=2i"))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "b", points[1].Measurement)

	_, err = DecodeAll[Point](strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRoundTripTypedRecord(t *testing.T) {
	want := []cpuSample{
		{Host: "web 1", Region: "eu,west", Usage: 12.25, Cores: 16, Offset: -40, Active: true, Grade: 'B', Time: int64p(10)},
		{Host: "db=2", Usage: 0, Cores: 0, Offset: 7, Grade: 'é'},
	}

	data, err := MarshalAll(toPtrs(want))
	require.NoError(t, err)

	got, err := UnmarshalAll[cpuSample](data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRoundTripPoints(t *testing.T) {
	want := []*Point{
		(&Point{Measurement: "my measurement"}).
			AddTag("host", "a,b=c d").
			AddField("s", StringValue(`quote " and \ backslash`)).
			AddField("u", UintValue(42)).
			AddField("i", IntValue(-42)).
			AddField("f", FloatValue(3.5)).
			AddField("b", BoolValue(false)).
			SetTimestamp(-1),
		(&Point{Measurement: "m"}).
			AddField("s", StringValue("multi\nline")).
			AddField("t", StringValue("true")),
	}

	data, err := MarshalAll(want)
	require.NoError(t, err)

	got, err := UnmarshalAll[Point](data)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, *want[i], got[i])
	}
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode((&Point{Measurement: "a"}).AddField("v", UintValue(1))))
	require.NoError(t, enc.Encode((&Point{Measurement: "b"}).AddField("v", UintValue(2)).SetTimestamp(5)))
	assert.Equal(t, "a v=1i\nb v=2i 5\n", buf.String())

	assert.ErrorIs(t, enc.Encode(&Point{Measurement: "c"}), ErrMissingElement)
	assert.ErrorIs(t, enc.Encode((&Point{}).AddField("v", UintValue(1))), ErrMissingElement)
	assert.Equal(t, "a v=1i\nb v=2i 5\n", buf.String())

	dec := NewDecoder(&buf)
	var p Point
	require.NoError(t, dec.Decode(&p))
	assert.Equal(t, "a", p.Measurement)
	require.NoError(t, dec.Decode(&p))
	assert.Equal(t, int64p(5), p.Timestamp)
	assert.ErrorIs(t, dec.Decode(&p), io.EOF)
}

func TestMarshalSingle(t *testing.T) {
	data, err := Marshal((&Point{Measurement: "m"}).AddTag("t", "1").AddField("f", IntValue(-1)))
	require.NoError(t, err)
	assert.Equal(t, "m,t=1 f=-1i", string(data))

	_, err = Marshal((&Point{Measurement: "m"}).AddField("f", FloatValue(math.Inf(1))))
	assert.ErrorIs(t, err, ErrInfiniteFloat)
}

func TestSeriesKey(t *testing.T) {
	a := (&Point{Measurement: "cpu"}).AddTag("zone", "b").AddTag("host", "x y")
	b := (&Point{Measurement: "cpu"}).AddTag("host", "x y").AddTag("zone", "b")

	assert.Equal(t, `cpu,host=x\ y,zone=b`, a.SeriesKey())
	assert.Equal(t, a.SeriesID(), b.SeriesID())
	assert.NotEqual(t, a.SeriesID(), (&Point{Measurement: "mem"}).SeriesID())
}

func toPtrs[T any](in []T) []*T {
	out := make([]*T, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	return out
}
