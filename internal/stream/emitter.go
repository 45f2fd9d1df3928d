package stream

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ayusman/tipstream/internal/control"
)

// ErrNotConnected is returned when sending on an emitter without an open transport.
var ErrNotConnected = errors.New("transport not connected")

// TransportError reports a failed send. It is fatal to the frame loop.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Sender sends one control sample.
type Sender interface {
	Send(s control.Sample) error
}

// Monitor receives a copy of every line after it was written successfully.
type Monitor interface {
	Publish(line []byte)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Emitter writes control samples to a transport, one line per sample.
// Send blocks until the whole line is written; a stalled peer stalls the
// caller unless a write timeout is configured.
type Emitter struct {
	mu           sync.Mutex
	w            io.Writer
	writeTimeout time.Duration
	monitor      Monitor
	buf          []byte
	sent         uint64
	closed       bool
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithWriteTimeout bounds each write when the transport supports write
// deadlines (net.Conn, websocket). Zero keeps writes fully blocking.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		e.writeTimeout = d
	}
}

// WithMonitor tees every written line to m.
func WithMonitor(m Monitor) Option {
	return func(e *Emitter) {
		e.monitor = m
	}
}

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer, opts ...Option) *Emitter {
	e := &Emitter{
		w:   w,
		buf: make([]byte, 0, 32),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send formats the sample and writes all of its bytes to the transport.
// Any failure is returned as a *TransportError.
func (e *Emitter) Send(s control.Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w == nil || e.closed {
		return &TransportError{Op: "send", Err: ErrNotConnected}
	}

	e.buf = AppendMessage(e.buf[:0], s)

	if e.writeTimeout > 0 {
		if d, ok := e.w.(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(e.writeTimeout)); err != nil {
				return &TransportError{Op: "set deadline", Err: err}
			}
		}
	}

	if err := writeAll(e.w, e.buf); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	e.sent++

	if e.monitor != nil {
		line := make([]byte, len(e.buf))
		copy(line, e.buf)
		e.monitor.Publish(line)
	}

	return nil
}

// Sent returns the number of messages written.
func (e *Emitter) Sent() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// Close releases the transport if it is closable. Further sends fail with
// ErrNotConnected.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if c, ok := e.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// writeAll writes p fully, continuing after short writes. A write that makes
// no progress without an error yields io.ErrShortWrite.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
