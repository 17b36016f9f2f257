package lineprotocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures every element it is handed as "element key=value".
type recorder struct {
	tags   bool
	events []string
}

func (r *recorder) WantsTags() bool { return r.tags }

func (r *recorder) UnmarshalElement(elem Element, key string, tok *Token) error {
	v, err := tok.Text()
	if err != nil {
		return err
	}
	r.events = append(r.events, elem.String()+" "+key+"="+v)
	return nil
}

func recordAll(d *Decoder, tags bool) ([]string, error) {
	rec := &recorder{tags: tags}
	for {
		err := d.Decode(rec)
		if errors.Is(err, io.EOF) {
			return rec.events, nil
		}
		if err != nil {
			return rec.events, err
		}
	}
}

func sliceDecoder(input string) *Decoder {
	return NewDecoderBytes([]byte(input))
}

func streamDecoder(input string) *Decoder {
	return NewDecoder(iotest.OneByteReader(strings.NewReader(input)))
}

const multiLine = "m1,t=1 f=1i 100\n#comment\n\nm2 f=2i 200\n"

func TestReaderWalksLine(t *testing.T) {
	r := NewReader([]byte(multiLine))
	require.True(t, r.HasNextLine())
	r.SetNextLine()

	step := func(wantMore bool) {
		t.Helper()
		more, err := r.HasNextKey()
		require.NoError(t, err)
		require.Equal(t, wantMore, more)
	}
	key := func(want string) {
		t.Helper()
		k, err := r.NextKey()
		require.NoError(t, err)
		require.Equal(t, want, k)
	}
	value := func(want string) {
		t.Helper()
		v, err := r.NextValue()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}

	step(true)
	key("measurement")
	value("m1")
	assert.Equal(t, Fields, r.Element())

	step(true)
	key("fields")
	step(true)
	key("f")
	value("1i")
	step(false)

	step(true)
	key("timestamp")
	value("100")
	step(false)

	require.NoError(t, r.EndLine())
	require.True(t, r.HasNextLine())
	assert.Equal(t, Position{Line: 4, Column: 0}, r.Position())
}

func TestReaderSkipsCommentsAndBlankLines(t *testing.T) {
	tests := []struct {
		name string
		tags bool
		want []string
	}{
		{
			name: "tags discarded",
			want: []string{
				"measurement measurement=m1",
				"fields f=1i",
				"timestamp timestamp=100",
				"measurement measurement=m2",
				"fields f=2i",
				"timestamp timestamp=200",
			},
		},
		{
			name: "tags included",
			tags: true,
			want: []string{
				"measurement measurement=m1",
				"tags t=1",
				"fields f=1i",
				"timestamp timestamp=100",
				"measurement measurement=m2",
				"fields f=2i",
				"timestamp timestamp=200",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := recordAll(sliceDecoder(multiLine), tt.tags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReaderEscapes(t *testing.T) {
	input := `my\ cpu,host=a\,b,rack\=x=r\ 1 msg="say \"hi\", then\\leave",path=c:\temp 5`
	got, err := recordAll(sliceDecoder(input), true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"measurement measurement=my cpu",
		"tags host=a,b",
		"tags rack=x=r 1",
		`fields msg=say "hi", then\leave`,
		`fields path=c:\temp`,
		"timestamp timestamp=5",
	}, got)
}

func TestReaderQuotedFieldSpansLines(t *testing.T) {
	input := "m s=\"a\nb\" 1\nm s=\"c\" 2"
	got, err := recordAll(sliceDecoder(input), false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"measurement measurement=m",
		"fields s=a\nb",
		"timestamp timestamp=1",
		"measurement measurement=m",
		"fields s=c",
		"timestamp timestamp=2",
	}, got)
}

func TestReaderCRLF(t *testing.T) {
	got, err := recordAll(sliceDecoder("m f=1i\r\nm2 g=2i"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"measurement measurement=m",
		"fields f=1i",
		"measurement measurement=m2",
		"fields g=2i",
	}, got)
}

func TestReaderEmptyTagSet(t *testing.T) {
	got, err := recordAll(sliceDecoder("m, f=1i"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"measurement measurement=m", "fields f=1i"}, got)
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		tags  bool
		code  Code
		got   string
		pos   Position
	}{
		{name: "trailing garbage", input: "m f=1i 100 x", code: CodeUnexpectedChar, got: "x", pos: Position{1, 11}},
		{name: "key without value", input: "m f", code: CodeUnexpectedEOF, pos: Position{1, 3}},
		{name: "key followed by space", input: "m f 1", code: CodeUnexpectedChar, got: " ", pos: Position{1, 3}},
		{name: "measurement only", input: "m", code: CodeUnexpectedEOF, pos: Position{1, 1}},
		{name: "tags without fields", input: "m,t=1", tags: true, code: CodeUnexpectedEOF, pos: Position{1, 5}},
		{name: "discarded tags without fields", input: "m,t=1", code: CodeUnexpectedEOF, pos: Position{1, 5}},
		{name: "unterminated string", input: `m f="abc`, code: CodeUnexpectedEOF, pos: Position{1, 8}},
		{name: "error on second line", input: "m f=1i\nm g", code: CodeUnexpectedEOF, pos: Position{2, 3}},
		{name: "bad separator after measurement", input: "m\tf=1", code: CodeUnexpectedChar, got: "\t", pos: Position{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recordAll(sliceDecoder(tt.input), tt.tags)
			require.Error(t, err)

			var lpErr *Error
			require.ErrorAs(t, err, &lpErr)
			assert.Equal(t, tt.code, lpErr.Code)
			assert.Equal(t, tt.got, lpErr.Got)
			assert.Equal(t, tt.pos, lpErr.Position)
		})
	}
}

func TestReaderBackendsAgree(t *testing.T) {
	inputs := []string{
		multiLine,
		`weather,location=us\,midwest temperature=82 1465839830100400200`,
		"m,t=a\\ b f=\"x,y z\",g=t 1\n",
		"m f=1i\r\nm2 g=2i",
		"m s=\"a\nb\" 1\nm s=\"c\" 2",
		`m f="unterminated`,
		"m f=1i 100 x",
		"m f=1i\nm g",
		"  \n# only a comment\n",
		"",
	}

	for _, input := range inputs {
		for _, tags := range []bool{false, true} {
			wantEvents, wantErr := recordAll(sliceDecoder(input), tags)
			gotEvents, gotErr := recordAll(streamDecoder(input), tags)

			assert.Equal(t, wantEvents, gotEvents, "input %q", input)
			if wantErr == nil {
				assert.NoError(t, gotErr, "input %q", input)
				continue
			}

			var want, got *Error
			require.ErrorAs(t, wantErr, &want, "input %q", input)
			require.ErrorAs(t, gotErr, &got, "input %q", input)
			assert.Equal(t, want.Code, got.Code, "input %q", input)
			assert.Equal(t, want.Position, got.Position, "input %q", input)
		}
	}
}

func TestStreamReaderError(t *testing.T) {
	boom := errors.New("boom")
	d := NewDecoder(io.MultiReader(strings.NewReader("m f=1"), iotest.ErrReader(boom)))

	err := d.Decode(&recorder{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
	assert.ErrorIs(t, err, boom)
}

func TestPositionBackSaturates(t *testing.T) {
	p := Position{Line: 3, Column: 2}
	assert.Equal(t, Position{Line: 3, Column: 0}, p.back(5))
	assert.Equal(t, Position{Line: 3, Column: 1}, p.back(1))
	assert.Equal(t, "line 3, column 2", p.String())
}

func TestParseElement(t *testing.T) {
	for _, e := range []Element{Measurement, Tags, Fields, Timestamp} {
		got, ok := ParseElement(e.String())
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
	_, ok := ParseElement("bogus")
	assert.False(t, ok)
}
