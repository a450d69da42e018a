package glide

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMarkLimit is the largest image header the decode passes can
// rewind across. Headers are usually far smaller; the rewind buffer only
// grows on demand.
const DefaultMarkLimit = 5 * MiB

var (
	// ErrMarkRequired is returned when a stream handed to Decode cannot
	// rewind. No I/O is attempted on such a stream.
	ErrMarkRequired = errors.New("glide: stream must support mark/rewind")

	// ErrMarkExceeded is returned by Rewind when more bytes were consumed
	// since the last Mark than the mark limit allows.
	ErrMarkExceeded = errors.New("glide: read past the mark limit, cannot rewind")
)

// Rewinder is a byte stream that can be marked and rewound, allowing the
// decode passes to re-read header bytes. Mark bounds how far the stream
// may be read while keeping Rewind possible.
type Rewinder interface {
	io.Reader
	Mark(limit int)
	Rewind() error
}

// asRewinder adapts r for the multi-pass decode protocol. Readers that
// implement Rewinder are used directly and io.ReadSeeker streams are
// wrapped; anything else fails with ErrMarkRequired before any I/O.
func asRewinder(r io.Reader) (Rewinder, error) {
	switch s := r.(type) {
	case Rewinder:
		return s, nil
	case io.ReadSeeker:
		return &seekRewinder{rs: s}, nil
	}
	return nil, ErrMarkRequired
}

// seekRewinder adapts a seekable stream; the mark limit is irrelevant
// because seeking back is always possible.
type seekRewinder struct {
	rs   io.ReadSeeker
	mark int64
}

func (s *seekRewinder) Read(p []byte) (int, error) {
	return s.rs.Read(p)
}

func (s *seekRewinder) Mark(int) {
	off, err := s.rs.Seek(0, io.SeekCurrent)
	if err == nil {
		s.mark = off
	}
}

func (s *seekRewinder) Rewind() error {
	_, err := s.rs.Seek(s.mark, io.SeekStart)
	return err
}

// BufferedStream makes an arbitrary reader rewindable by buffering the
// bytes read since the last Mark, up to the current mark limit.
// It is not safe for concurrent use.
type BufferedStream struct {
	src     io.Reader
	buf     []byte // Bytes buffered since the last mark.
	pos     int    // Read position within buf.
	limit   int    // Current mark limit.
	overrun bool   // Reads went past limit; rewind is impossible.
}

// NewBufferedStream wraps r with a rewind buffer using DefaultMarkLimit.
func NewBufferedStream(r io.Reader) *BufferedStream {
	return &BufferedStream{src: r, limit: DefaultMarkLimit}
}

// Mark sets the rewind point to the current position and the mark limit
// to limit bytes. Bytes buffered before the current position are dropped.
func (b *BufferedStream) Mark(limit int) {
	b.buf = b.buf[b.pos:]
	b.pos = 0
	b.limit = limit
	b.overrun = false
}

// ClampMarkLimit shrinks the mark limit to the bytes already buffered so
// the rewind buffer stops growing. Callers use this once image bounds are
// known and no later pass can read a larger header.
func (b *BufferedStream) ClampMarkLimit() {
	if n := len(b.buf); n < b.limit {
		b.limit = n
	}
}

// Rewind repositions the stream at the last mark.
func (b *BufferedStream) Rewind() error {
	if b.overrun {
		return fmt.Errorf("%w (limit %d)", ErrMarkExceeded, b.limit)
	}
	b.pos = 0
	return nil
}

func (b *BufferedStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Serve buffered bytes first; the next call reads the source.
	if b.pos < len(b.buf) {
		n := copy(p, b.buf[b.pos:])
		b.pos += n
		return n, nil
	}
	n, err := b.src.Read(p)
	if n > 0 && !b.overrun {
		if len(b.buf)+n <= b.limit {
			b.buf = append(b.buf, p[:n]...)
			b.pos = len(b.buf)
		} else {
			// Past the mark limit: stop buffering and invalidate the mark.
			b.overrun = true
		}
	}
	return n, err
}
