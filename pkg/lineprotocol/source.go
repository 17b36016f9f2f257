package lineprotocol

import (
	"errors"
	"io"
)

// source is the byte port the Reader lexes from.
//
// peek returns the next unconsumed byte without consuming it and false once
// the input is exhausted. skip consumes the byte returned by the last peek.
type source interface {
	peek() (byte, bool)
	skip()
	// err reports why peek returned false when the cause was not a clean end
	// of input.
	err() error
}

// sliceSource reads from a fully buffered input.
type sliceSource struct {
	input []byte
	off   int
}

func (s *sliceSource) peek() (byte, bool) {
	if s.off < len(s.input) {
		return s.input[s.off], true
	}
	return 0, false
}

func (s *sliceSource) skip() {
	s.off++
}

func (s *sliceSource) err() error {
	return nil
}

// streamSource reads from an io.Reader with a single byte of lookahead.
type streamSource struct {
	r       io.ByteReader
	tmp     byte
	pending bool
	failed  error
}

func newStreamSource(r io.Reader) *streamSource {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	return &streamSource{r: br}
}

func (s *streamSource) peek() (byte, bool) {
	if s.pending {
		return s.tmp, true
	}
	if s.failed != nil {
		return 0, false
	}

	c, err := s.r.ReadByte()
	if err != nil {
		s.failed = err
		return 0, false
	}
	s.tmp = c
	s.pending = true
	return c, true
}

func (s *streamSource) skip() {
	s.pending = false
}

func (s *streamSource) err() error {
	if errors.Is(s.failed, io.EOF) {
		return nil
	}
	return s.failed
}

// byteReader adapts a plain io.Reader without buffering ahead of the
// caller: every ReadByte pulls exactly one byte.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	for {
		n, err := b.r.Read(b.buf[:])
		if n == 1 {
			return b.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}
