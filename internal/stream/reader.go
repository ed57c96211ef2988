// Package stream turns a response body into an ordered sequence of chunks.
//
// A Reader is lazy, finite and not restartable. Every chunk it yields is kept
// so the complete payload can be assembled once the stream ends.
package stream

import (
	"errors"
	"io"
	"time"
)

// DefaultBufferSize is the maximum size of a single pulled chunk.
const DefaultBufferSize = 32 * 1024

// maxEmptyReads bounds consecutive empty reads before giving up, like bufio.
const maxEmptyReads = 100

// ErrUnreadable is returned when there is no body to read from.
var ErrUnreadable = errors.New("stream: response body is not readable")

// Option configures a Reader.
type Option func(*Reader)

// WithBufferSize sets the maximum size of a single chunk.
func WithBufferSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithStart sets the instant elapsed time is measured from. Defaults to the
// moment New was called.
func WithStart(t time.Time) Option {
	return func(r *Reader) {
		r.start = t
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

// Reader pulls chunks from an underlying io.Reader and tracks totals.
type Reader struct {
	src     io.Reader
	bufSize int
	now     func() time.Time
	start   time.Time

	chunks  [][]byte
	size    int64
	pending error
	done    bool
}

// New wraps src. A nil src cannot be read at all and yields ErrUnreadable.
func New(src io.Reader, opts ...Option) (*Reader, error) {
	if src == nil {
		return nil, ErrUnreadable
	}

	r := &Reader{
		src:     src,
		bufSize: DefaultBufferSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.start.IsZero() {
		r.start = r.now()
	}
	return r, nil
}

// Next returns the next non-empty chunk, or io.EOF once the stream ended.
//
// A read that returns no bytes and no error is ignored and does not count
// towards the totals. When a read returns bytes together with an error, the
// bytes are yielded first and the error on the following call.
func (r *Reader) Next() ([]byte, error) {
	if r.pending != nil {
		return nil, r.pending
	}
	if r.done {
		return nil, io.EOF
	}

	buf := make([]byte, r.bufSize)
	for empty := 0; ; empty++ {
		if empty == maxEmptyReads {
			r.pending = io.ErrNoProgress
			return nil, r.pending
		}
		n, err := r.src.Read(buf)
		if n > 0 {
			chunk := buf[:n:n]
			r.chunks = append(r.chunks, chunk)
			r.size += int64(n)
			if err == io.EOF {
				r.done = true
			} else if err != nil {
				r.pending = err
			}
			return chunk, nil
		}
		if err == io.EOF {
			r.done = true
			return nil, io.EOF
		}
		if err != nil {
			r.pending = err
			return nil, err
		}
	}
}

// Size returns the cumulative number of bytes received.
func (r *Reader) Size() int64 {
	return r.size
}

// Count returns the number of chunks received.
func (r *Reader) Count() int {
	return len(r.chunks)
}

// Chunks returns every received chunk in arrival order.
func (r *Reader) Chunks() [][]byte {
	return r.chunks
}

// Start returns the instant elapsed time is measured from.
func (r *Reader) Start() time.Time {
	return r.start
}

// Elapsed returns the time since Start.
func (r *Reader) Elapsed() time.Duration {
	return r.now().Sub(r.start)
}

// Release drops the references to received chunks.
func (r *Reader) Release() {
	r.chunks = nil
}
