// Package log provides flexible logging redirection.
package log

import (
	"log"
	"sync"

	"go.uber.org/atomic"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

// Logger is a general-purpose interface for displaying messages.
type Logger interface {
	Log(items ...interface{})
}

// ConsoleLogger writes to the standard library logger on os.Stderr.
type ConsoleLogger struct{}

func (ConsoleLogger) Log(items ...interface{}) {
	log.Println(items...)
}

// MaxBuffered is the number of messages a BufferLogger holds before it starts
// discarding new ones.
const MaxBuffered = 10000

// BufferLogger holds messages logged during startup, before the Logger that
// should display them exists.
type BufferLogger struct {
	mu      sync.Mutex
	pending [][]interface{}
	dropped int
}

func (b *BufferLogger) Log(items ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= MaxBuffered {
		b.dropped++
		return
	}
	b.pending = append(b.pending, items)
}

// Len returns the number of messages waiting to be written.
func (b *BufferLogger) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// WriteTo replays held messages to l in order and empties the buffer.
func (b *BufferLogger) WriteTo(l Logger) {
	b.mu.Lock()
	pending, dropped := b.pending, b.dropped
	b.pending, b.dropped = nil, 0
	b.mu.Unlock()

	for _, items := range pending {
		l.Log(items...)
	}
	if dropped > 0 {
		l.Log("discarded", dropped, "startup log messages")
	}
}

// ProxyLogger forwards to a Logger that can be swapped at runtime, e.g. from
// the console to the interactive display and back.  Messages logged while no
// Logger is set are discarded.
type ProxyLogger struct {
	target atomic.Value
}

// loggerRef lets a nil Logger be stored in an atomic.Value.
type loggerRef struct {
	l Logger
}

func (p *ProxyLogger) Log(items ...interface{}) {
	if ref, ok := p.target.Load().(loggerRef); ok && ref.l != nil {
		ref.l.Log(items...)
	}
}

// SetLogger directs subsequent messages to l.
func (p *ProxyLogger) SetLogger(l Logger) {
	p.target.Store(loggerRef{l})
}

// ContextLogger prefixes every message with a fixed item, usually the
// connection it concerns.
type ContextLogger struct {
	context string
	l       Logger
}

// NewContext returns a Logger prefixing messages to l with context, or nil if
// l is nil.
func NewContext(l Logger, context string) Logger {
	if l == nil {
		return nil
	}
	return &ContextLogger{context: context, l: l}
}

func (c *ContextLogger) Log(items ...interface{}) {
	args := make([]interface{}, 0, len(items)+1)
	args = append(args, c.context)
	c.l.Log(append(args, items...)...)
}
