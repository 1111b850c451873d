// Package codec implements component A of the hashtree node: splitting a
// byte stream into content-defined chunks, sealing/opening the
// convergently-encrypted leaf envelope, and framing tree-node link lists.
package codec

import (
	"bufio"
	"fmt"
	"io"
)

const (
	// MinChunkBytes and MaxChunkBytes bound every chunk the rolling
	// chunker emits, resolving spec.md's open question on chunk boundary
	// selection (see DESIGN.md).
	MinChunkBytes = 64 * 1024
	MaxChunkBytes = 1024 * 1024

	// expectedChunkBytes is the rolling hash's target average chunk size.
	expectedChunkBytes = 256 * 1024

	// videoChunkBytes is the fixed power-of-two size used by the
	// video-profile chunker (no content sniffing, predictable byte
	// ranges for seeking).
	videoChunkBytes = 256 * 1024

	rollingWindow = 64
)

// buzhashMask selects roughly 1-in-expectedChunkBytes boundary points.
// log2(expectedChunkBytes) low bits of the rolling hash must be zero.
var buzhashMask = uint64(expectedChunkBytes - 1)

// buzhashTable is a fixed pseudo-random table mapping byte values to
// 64-bit rotation inputs, the same shape as a classic buzhash/rabin
// rolling hash. It is generated once at init time from a small LCG so it
// is reproducible across processes without shipping a literal table.
var buzhashTable [256]uint64

func init() {
	var x uint64 = 0x9e3779b97f4a7c15
	for i := range buzhashTable {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		buzhashTable[i] = x
	}
}

func rotl(v uint64, n uint) uint64 {
	return (v << n) | (v >> (64 - n))
}

// Chunk splits r into content-defined chunks using a rolling polynomial
// hash over a sliding window, emitting a boundary whenever the low bits of
// the hash match buzhashMask, subject to MinChunkBytes/MaxChunkBytes. It
// calls emit once per chunk, in order, and must not retain the passed
// slice beyond the call.
func Chunk(r io.Reader, emit func([]byte) error) error {
	br := bufio.NewReaderSize(r, 256*1024)
	buf := make([]byte, 0, MaxChunkBytes)
	window := make([]byte, 0, rollingWindow)
	var h uint64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		chunk := make([]byte, len(buf))
		copy(chunk, buf)
		if err := emit(chunk); err != nil {
			return err
		}
		buf = buf[:0]
		window = window[:0]
		h = 0
		return nil
	}

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("codec: chunk read: %w", err)
		}

		buf = append(buf, b)
		h = rotl(h, 1) ^ buzhashTable[b]
		window = append(window, b)
		if len(window) > rollingWindow {
			out := window[0]
			window = window[1:]
			h ^= rotl(buzhashTable[out], uint(rollingWindow%64))
		}

		atBoundary := len(buf) >= MinChunkBytes && (h&buzhashMask) == 0
		if atBoundary || len(buf) >= MaxChunkBytes {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// VideoChunk splits r into fixed videoChunkBytes-sized chunks with no
// content sniffing, for media the caller wants seekable by a predictable
// byte stride regardless of content shape.
func VideoChunk(r io.Reader, emit func([]byte) error) error {
	buf := make([]byte, videoChunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(chunk); emitErr != nil {
				return emitErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("codec: video chunk read: %w", err)
		}
	}
}
