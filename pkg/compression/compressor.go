// Package compression provides the block codecs used for column store
// snapshots.
//
// A Codec wraps a writer or reader so snapshot payloads can be streamed to
// disk without buffering a second copy:
//
//	codec, err := compression.NewCodec(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	w, err := codec.NewWriter(file)
//	// write payload
//	err = w.Close()
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip.
// Ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4.
package compression

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None stores payloads uncompressed
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy framed compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2}

// ParseAlgorithm converts a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return None, nil
	}
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", s)
}

// Level represents compression level, trading speed for ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// Config represents codec configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns zstd at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: Zstd,
		Level:     Default,
	}
}

// Codec creates compressing writers and decompressing readers.
// Codecs are safe for concurrent use; the streams they return are not.
type Codec interface {
	Algorithm() Algorithm
	Level() Level
	NewWriter(dst io.Writer) (io.WriteCloser, error)
	NewReader(src io.Reader) (io.ReadCloser, error)
}

// NewCodec creates a codec for config. A nil config uses DefaultConfig.
func NewCodec(config *Config) (Codec, error) {
	if config == nil {
		config = DefaultConfig()
	}
	level := config.Level
	if level == 0 {
		level = Default
	}
	base := baseCodec{algorithm: config.Algorithm, level: level}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCodec{base}, nil
	case Gzip:
		return &gzipCodec{base}, nil
	case Snappy:
		return &snappyCodec{base}, nil
	case LZ4:
		return &lz4Codec{base}, nil
	case Zstd:
		return &zstdCodec{base}, nil
	case S2:
		return &s2Codec{base}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

// Compress compresses data in memory.
func Compress(c Codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decompresses data in memory.
func Decompress(c Codec, data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type baseCodec struct {
	algorithm Algorithm
	level     Level
}

func (b baseCodec) Algorithm() Algorithm { return b.algorithm }
func (b baseCodec) Level() Level         { return b.level }

type noneCodec struct{ baseCodec }

func (noneCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{dst}, nil
}

func (noneCodec) NewReader(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

type gzipCodec struct{ baseCodec }

func (c gzipCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(dst, mapGzipLevel(c.level))
}

func (gzipCodec) NewReader(src io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(src)
}

type snappyCodec struct{ baseCodec }

func (snappyCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(dst), nil
}

func (snappyCodec) NewReader(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(src)), nil
}

type s2Codec struct{ baseCodec }

func (c s2Codec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	opts := []s2.WriterOption{}
	switch {
	case c.level >= Best:
		opts = append(opts, s2.WriterBestCompression())
	case c.level >= Better:
		opts = append(opts, s2.WriterBetterCompression())
	}
	return s2.NewWriter(dst, opts...), nil
}

func (s2Codec) NewReader(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(src)), nil
}

type lz4Codec struct{ baseCodec }

func (c lz4Codec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	w := lz4.NewWriter(dst)
	if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(c.level))); err != nil {
		return nil, err
	}
	return w, nil
}

func (lz4Codec) NewReader(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(src)), nil
}

type zstdCodec struct{ baseCodec }

func (c zstdCodec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(c.level)))
}

func (zstdCodec) NewReader(src io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return zstdReadCloser{dec}, nil
}

// zstdReadCloser adapts Decoder.Close, which returns nothing.
type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch {
	case level <= Fastest:
		return gzip.BestSpeed
	case level >= Best:
		return gzip.BestCompression
	case level >= Better:
		return 7
	}
	return gzip.DefaultCompression
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch {
	case level <= Fastest:
		return lz4.Fast
	case level >= Best:
		return lz4.Level9
	case level >= Better:
		return lz4.Level7
	}
	return lz4.Level5
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch {
	case level <= Fastest:
		return zstd.SpeedFastest
	case level >= Best:
		return zstd.SpeedBestCompression
	case level >= Better:
		return zstd.SpeedBetterCompression
	}
	return zstd.SpeedDefault
}
