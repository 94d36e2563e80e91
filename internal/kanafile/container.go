// Package kanafile reads and writes the binary container that holds a saved
// analysis: a header, the zstd-compressed CBOR state document, and in
// embedded mode the raw input files.
package kanafile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	magic      = "KANA"
	headerSize = 4 + 4 + 4 + 8

	// Version is the container layout version written by this package.
	Version uint32 = 1
)

// Mode says where input files live.
type Mode uint32

const (
	ModeEmbedded Mode = 0
	ModeLinked   Mode = 1
)

func (m Mode) String() string {
	if m == ModeLinked {
		return "linked"
	}
	return "embedded"
}

// ErrFormat reports a container that cannot be parsed.
var ErrFormat = errors.New("invalid kana container")

type header struct {
	Version uint32
	Mode    Mode
	Length  uint64
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<32))
	})
	return zstdEnc, zstdDec, zstdErr
}

// pack writes header, compressed state and trailing file bytes.
func pack(mode Mode, state []byte, files []byte) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	compressed := enc.EncodeAll(state, nil)

	var buf bytes.Buffer
	buf.Grow(headerSize + len(compressed) + len(files))
	buf.WriteString(magic)
	var h [headerSize - 4]byte
	binary.LittleEndian.PutUint32(h[0:4], Version)
	binary.LittleEndian.PutUint32(h[4:8], uint32(mode))
	binary.LittleEndian.PutUint64(h[8:16], uint64(len(compressed)))
	buf.Write(h[:])
	buf.Write(compressed)
	buf.Write(files)
	return buf.Bytes(), nil
}

// unpack splits a container into its header, decompressed state and the
// trailing file section.
func unpack(data []byte) (header, []byte, []byte, error) {
	var h header
	if len(data) < headerSize || string(data[:4]) != magic {
		return h, nil, nil, fmt.Errorf("%w: missing header", ErrFormat)
	}
	h.Version = binary.LittleEndian.Uint32(data[4:8])
	h.Mode = Mode(binary.LittleEndian.Uint32(data[8:12]))
	h.Length = binary.LittleEndian.Uint64(data[12:20])
	if h.Version == 0 || h.Version > Version {
		return h, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	if h.Mode != ModeEmbedded && h.Mode != ModeLinked {
		return h, nil, nil, fmt.Errorf("%w: unknown mode %d", ErrFormat, h.Mode)
	}
	rest := data[headerSize:]
	if h.Length > uint64(len(rest)) {
		return h, nil, nil, fmt.Errorf("%w: state length %d exceeds %d remaining bytes", ErrFormat, h.Length, len(rest))
	}

	_, dec, err := codecs()
	if err != nil {
		return h, nil, nil, err
	}
	state, err := dec.DecodeAll(rest[:h.Length], nil)
	if err != nil {
		return h, nil, nil, fmt.Errorf("%w: decompress state: %v", ErrFormat, err)
	}
	return h, state, rest[h.Length:], nil
}
