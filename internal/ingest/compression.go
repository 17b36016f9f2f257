package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names the framing around line protocol text.
type Compression string

const (
	CompressionAuto Compression = "auto"
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

var (
	ErrUnknownCompression = errors.New("unknown compression")
	ErrInputTooLarge      = errors.New("input exceeds size limit")
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Pool for gzip readers - klauspost gzip.Reader keeps ~32KB of state that
// can be reused via Reset()
var gzipReaderPool = sync.Pool{}

// Pool for zstd stream decoders
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			// This should never happen with valid options
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

// ParseCompression validates a compression name. An empty name means auto.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionAuto, nil
	case CompressionAuto, CompressionNone, CompressionGzip, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// OpenInput wraps r so that it yields plain line protocol text. With
// CompressionAuto the gzip and zstd magic numbers are sniffed. Close
// returns pooled decoders; it does not close r.
func OpenInput(r io.Reader, c Compression) (io.ReadCloser, error) {
	br := bufio.NewReader(r)

	if c == CompressionAuto || c == "" {
		c = sniff(br)
	}

	switch c {
	case CompressionNone:
		return io.NopCloser(br), nil
	case CompressionGzip:
		return openGzip(br)
	case CompressionZstd:
		return openZstd(br)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, string(c))
}

func sniff(br *bufio.Reader) Compression {
	head, _ := br.Peek(len(zstdMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	}
	return CompressionNone
}

type gzipInput struct {
	*gzip.Reader
}

func (g gzipInput) Close() error {
	err := g.Reader.Close()
	gzipReaderPool.Put(g.Reader)
	return err
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	var reader *gzip.Reader
	var err error
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		err = reader.Reset(r)
	} else {
		reader, err = gzip.NewReader(r)
	}
	if err != nil {
		if reader != nil {
			gzipReaderPool.Put(reader)
		}
		return nil, fmt.Errorf("open gzip input: %w", err)
	}
	return gzipInput{reader}, nil
}

type zstdInput struct {
	*zstd.Decoder
}

func (z zstdInput) Close() error {
	zstdDecoderPool.Put(z.Decoder)
	return nil
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	if err := decoder.Reset(r); err != nil {
		zstdDecoderPool.Put(decoder)
		return nil, fmt.Errorf("open zstd input: %w", err)
	}
	return zstdInput{decoder}, nil
}

// OpenOutput compresses everything written to w. Close flushes the
// compressor; it does not close w.
func OpenOutput(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, CompressionAuto, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("open zstd output: %w", err)
		}
		return encoder, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, string(c))
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// LimitInput fails with ErrInputTooLarge once more than limit bytes have
// been read from r. A limit of zero or less disables the check.
func LimitInput(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitedReader{r: r, left: limit}
}

type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, ErrInputTooLarge
	}
	// Read one byte past the limit so overflow is detected.
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n + int(l.left), ErrInputTooLarge
	}
	return n, err
}
