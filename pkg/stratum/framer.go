package stratum

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxLineLength bounds a single unterminated line (64KB).
const MaxLineLength = 65536

var ErrLineTooLong = errors.New("stratum: line too long")

// Framer turns one direction of a byte stream into complete lines.
// It is not safe for concurrent use; each direction owns its own Framer.
type Framer struct {
	buf []byte
}

// Feed appends a chunk and returns every line it completed, in arrival order.
// The trailing partial line stays buffered for the next chunk. Blank lines
// are dropped and a trailing '\r' is trimmed.
//
// If the buffered partial line grows beyond MaxLineLength the buffer is
// discarded and ErrLineTooLong is returned along with the lines completed so far.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var lines [][]byte
	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[start : start+i])
		start += i + 1
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}

	rest := f.buf[start:]
	if len(rest) > MaxLineLength {
		f.buf = nil
		return lines, fmt.Errorf("%w: %d bytes without newline", ErrLineTooLong, len(rest))
	}
	// Copy the remainder down so the backing array does not grow without bound.
	f.buf = append(f.buf[:0], rest...)
	return lines, nil
}

// Buffered returns the number of bytes held for an unterminated line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
