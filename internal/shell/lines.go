package shell

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

// ErrInvalidUTF8 is reported when a captured line is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 in process output")

// ErrAssemblerClosed is returned by Append after Close.
var ErrAssemblerClosed = errors.New("line assembler is closed")

type lineResult struct {
	line string
	ok   bool
}

type waiter struct {
	idx int
	ch  chan lineResult
}

// LineAssembler turns a live byte stream into discrete lines.
//
// Bytes are appended by a producer; completed lines (terminated by '\n') are
// emitted immediately. Close flushes whatever is left as one final line, even
// when it is empty. Any number of Readers may consume the emitted lines, each
// at its own pace.
type LineAssembler struct {
	mu      sync.Mutex
	pending []byte
	lines   []string
	closed  bool
	err     error
	waiters []waiter
}

// NewLineAssembler returns an open assembler.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{}
}

// Append adds p to the stream and emits every line it completes.
func (a *LineAssembler) Append(p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAssemblerClosed
	}
	a.pending = append(a.pending, p...)
	for {
		i := bytes.IndexByte(a.pending, '\n')
		if i < 0 {
			break
		}
		a.emitLocked(a.pending[:i])
		a.pending = a.pending[i+1:]
	}
	if len(a.pending) == 0 {
		a.pending = nil
	}
	a.wakeLocked()
	return nil
}

// Close flushes the residual bytes as the final line and signals end of
// stream to every present and future reader. It returns the first decode
// error seen on the stream. Calling Close twice is a no-op.
func (a *LineAssembler) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return a.err
	}
	a.emitLocked(a.pending)
	a.pending = nil
	a.closed = true
	a.wakeLocked()
	return a.err
}

// Err returns the first decode error recorded so far.
func (a *LineAssembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Lines returns a snapshot of the lines emitted so far.
func (a *LineAssembler) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

func (a *LineAssembler) emitLocked(b []byte) {
	if !utf8.Valid(b) && a.err == nil {
		a.err = fmt.Errorf("%w: line %d", ErrInvalidUTF8, len(a.lines)+1)
	}
	a.lines = append(a.lines, string(b))
}

// wakeLocked resolves every waiter that can be answered, keeping FIFO order
// for the rest.
func (a *LineAssembler) wakeLocked() {
	if len(a.waiters) == 0 {
		return
	}
	remaining := a.waiters[:0]
	for _, w := range a.waiters {
		switch {
		case w.idx < len(a.lines):
			w.ch <- lineResult{line: a.lines[w.idx], ok: true}
		case a.closed:
			w.ch <- lineResult{}
		default:
			remaining = append(remaining, w)
		}
	}
	for i := len(remaining); i < len(a.waiters); i++ {
		a.waiters[i] = waiter{}
	}
	a.waiters = remaining
}

// next returns the line at idx, or registers a one-shot waiter for it.
func (a *LineAssembler) next(idx int) <-chan lineResult {
	ch := make(chan lineResult, 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case idx < len(a.lines):
		ch <- lineResult{line: a.lines[idx], ok: true}
	case a.closed:
		ch <- lineResult{}
	default:
		a.waiters = append(a.waiters, waiter{idx: idx, ch: ch})
	}
	return ch
}

// Reader consumes lines from a LineAssembler in order.
type Reader struct {
	a   *LineAssembler
	idx int
}

// NewReader returns a reader positioned at the first line.
func (a *LineAssembler) NewReader() *Reader {
	return &Reader{a: a}
}

// Next blocks until the next line is available. It returns false once the
// stream is closed and every line has been consumed.
func (r *Reader) Next() (string, bool) {
	res := <-r.a.next(r.idx)
	if res.ok {
		r.idx++
	}
	return res.line, res.ok
}
