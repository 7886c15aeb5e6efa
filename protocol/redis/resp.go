package redis

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/box/respsniff/assembly/reader"
)

const (
	tagStatus = '+'
	tagError  = '-'
	tagInt    = ':'
	tagBulk   = '$'
	tagArray  = '*'
)

// maximum number of array slots allocated up front, whatever the header says
const maxArrayPrealloc = 1024

var (
	// ErrContentWrong is returned for malformed input.  Returned errors wrap
	// it with a description of what was wrong; test with errors.Is.
	ErrContentWrong = errors.New("RESP protocol error")
	// ErrRecursionLimit is returned when arrays nest deeper than
	// ParserOptions.MaxDepth.
	ErrRecursionLimit = errors.New("RESP array nesting too deep")

	crlf = []byte("\r\n")
)

type ParserOptions struct {
	// MaxDepth limits how deeply arrays may nest.  Zero means no limit.
	MaxDepth int
}

type stateKind int

const (
	stateInit stateKind = iota
	stateSimpleString
	stateError
	stateInteger
	stateBulkSize
	stateBulkBody
	stateArraySize
	stateInline
)

// state is the construct currently being decoded.
type state struct {
	kind stateKind
	// accumulator for Integer, BulkSize and ArraySize
	num number
	// bytes of a bulk body still expected, including the trailing CRLF
	remaining int
}

// arrayFrame is an array body waiting on its next element.  The element in
// progress is the frame above it on the stack, or the leaf state.
type arrayFrame struct {
	expected  int
	collected Array
}

// RespParser incrementally decodes RESP messages from a reader.Buffer.
//
// A RespParser holds the state of a single stream and may be resumed any
// number of times as more bytes are written to the buffer.  It is not safe
// for concurrent use.
type RespParser struct {
	state   state
	stack   []arrayFrame
	Options ParserOptions
}

func NewParser() *RespParser {
	return &RespParser{}
}

// Reset abandons any partially decoded message.
func (p *RespParser) Reset() {
	p.state = state{}
	p.stack = nil
}

// Pending reports whether a message has been partially decoded.
func (p *RespParser) Pending() bool {
	return p.state.kind != stateInit || len(p.stack) > 0
}

// Depth returns the number of arrays enclosing the value being decoded.
func (p *RespParser) Depth() int {
	return len(p.stack)
}

// Parse decodes at most one message from buf.
//
// It returns (nil, nil) when buf runs out of data before a message is
// complete; the partial state is kept and Parse should be called again after
// more data is written.  It does not look past the end of the returned
// message, so a caller must keep calling Parse until it returns nil to drain
// everything buffered.
//
// On error the parser is reset and the scan cursor of buf is moved back to
// the last committed boundary.
func (p *RespParser) Parse(buf *reader.Buffer) (Message, error) {
	for {
		m, err := p.step(buf)
		if err != nil {
			p.Reset()
			buf.Rewind()
			return nil, err
		}
		if m != nil {
			return m, nil
		}
		if buf.Unscanned() == 0 {
			return nil, nil
		}
	}
}

// step applies one transition of the leaf state.  It returns a message only
// when a top-level value is complete.
func (p *RespParser) step(buf *reader.Buffer) (Message, error) {
	var (
		m   Message
		err error
	)
	switch p.state.kind {
	case stateInit:
		p.parseInit(buf)
		return nil, nil
	case stateSimpleString, stateError, stateInline:
		m, err = p.parseLine(buf)
	case stateInteger:
		m, err = p.parseInteger(buf)
	case stateBulkSize:
		m, err = p.parseBulkSize(buf)
	case stateBulkBody:
		m, err = p.parseBulkBody(buf)
	case stateArraySize:
		m, err = p.parseArraySize(buf)
	default:
		panic(fmt.Sprint("redis: unknown parser state ", p.state.kind))
	}
	if err != nil || m == nil {
		return nil, err
	}
	return p.complete(m), nil
}

// complete hands a finished value to the enclosing arrays, closing every
// array it fills.  It returns the top-level message if one is now complete.
func (p *RespParser) complete(m Message) Message {
	p.state = state{}
	for len(p.stack) > 0 {
		top := len(p.stack) - 1
		f := &p.stack[top]
		f.collected = append(f.collected, m)
		if len(f.collected) < f.expected {
			return nil
		}
		m = f.collected
		p.stack[top] = arrayFrame{}
		p.stack = p.stack[:top]
	}
	return m
}

func (p *RespParser) parseInit(buf *reader.Buffer) {
	c, ok := buf.ScanByte()
	if !ok {
		return
	}
	switch c {
	case tagStatus:
		p.state.kind = stateSimpleString
	case tagError:
		p.state.kind = stateError
	case tagInt:
		p.state.kind = stateInteger
	case tagBulk:
		p.state.kind = stateBulkSize
	case tagArray:
		p.state.kind = stateArraySize
	default:
		// no sigil, the byte belongs to the inline payload
		p.state.kind = stateInline
		buf.Rewind()
		return
	}
	buf.CommitScanned()
}

func (p *RespParser) parseLine(buf *reader.Buffer) (Message, error) {
	if !buf.ScanUntil('\n') {
		return nil, nil
	}
	line := buf.CommitScanned()
	if !bytes.HasSuffix(line, crlf) {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", ErrContentWrong)
	}
	line = line[:len(line)-len(crlf)]
	switch p.state.kind {
	case stateSimpleString:
		return SimpleString(line), nil
	case stateError:
		return Error(line), nil
	default:
		return Inline(line), nil
	}
}

func (p *RespParser) parseInteger(buf *reader.Buffer) (Message, error) {
	v, done, err := p.state.num.scan(buf, true)
	if err != nil || !done {
		return nil, err
	}
	return Integer(v), nil
}

func (p *RespParser) parseBulkSize(buf *reader.Buffer) (Message, error) {
	v, done, err := p.state.num.scan(buf, true)
	if err != nil || !done {
		return nil, err
	}
	if v < 0 {
		return Bulk{Null: true}, nil
	}
	if v > int64(buf.Cap()-len(crlf)) {
		// the body could never be buffered in one piece
		return nil, fmt.Errorf("%w: bulk string of %d bytes in a %d byte buffer",
			reader.ErrOverflow, v, buf.Cap())
	}
	p.state = state{kind: stateBulkBody, remaining: int(v) + len(crlf)}
	return nil, nil
}

func (p *RespParser) parseBulkBody(buf *reader.Buffer) (Message, error) {
	p.state.remaining -= buf.Advance(p.state.remaining)
	if p.state.remaining > 0 {
		return nil, nil
	}
	data := buf.CommitScanned()
	if !bytes.HasSuffix(data, crlf) {
		return nil, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrContentWrong)
	}
	return Bulk{Data: data[:len(data)-len(crlf)]}, nil
}

func (p *RespParser) parseArraySize(buf *reader.Buffer) (Message, error) {
	v, done, err := p.state.num.scan(buf, false)
	if err != nil || !done {
		return nil, err
	}
	if v == 0 {
		return Array{}, nil
	}
	if p.Options.MaxDepth > 0 && len(p.stack) >= p.Options.MaxDepth {
		return nil, ErrRecursionLimit
	}
	prealloc := v
	if prealloc > maxArrayPrealloc {
		prealloc = maxArrayPrealloc
	}
	p.stack = append(p.stack, arrayFrame{
		expected:  int(v),
		collected: make(Array, 0, prealloc),
	})
	p.state = state{}
	return nil, nil
}

// number accumulates a decimal line digit by digit.  The magnitude is
// accumulated unsigned and the sign applied once the line ends.
type number struct {
	magnitude uint64
	digits    int
	negative  bool
}

// scan consumes bytes through the terminating LF.  done is false if the
// buffer ran out first, in which case the partial value is kept for the next
// call.  Unsigned numbers are limited to math.MaxInt.
func (n *number) scan(buf *reader.Buffer, signed bool) (v int64, done bool, err error) {
	limit := uint64(math.MaxInt64)
	if !signed {
		limit = uint64(math.MaxInt)
	}
	for {
		c, ok := buf.ScanByte()
		if !ok {
			return 0, false, nil
		}
		switch {
		case c >= '0' && c <= '9':
			d := uint64(c - '0')
			bound := limit
			if n.negative {
				bound++
			}
			if n.magnitude > (bound-d)/10 {
				return 0, false, fmt.Errorf("%w: integer overflow", ErrContentWrong)
			}
			n.magnitude = n.magnitude*10 + d
			n.digits++
		case c == '-':
			if !signed || n.negative || n.digits > 0 {
				return 0, false, fmt.Errorf("%w: unexpected '-' in number", ErrContentWrong)
			}
			n.negative = true
		case c == '\r':
		case c == '\n':
			if n.digits == 0 {
				return 0, false, fmt.Errorf("%w: number without digits", ErrContentWrong)
			}
			buf.CommitScanned()
			return n.value(), true, nil
		default:
			return 0, false, fmt.Errorf("%w: unexpected byte %q in number", ErrContentWrong, c)
		}
	}
}

func (n *number) value() int64 {
	if !n.negative {
		return int64(n.magnitude)
	}
	if n.magnitude == 1<<63 {
		return math.MinInt64
	}
	return -int64(n.magnitude)
}
