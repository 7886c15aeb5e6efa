package redis

import (
	"io"

	"github.com/box/respsniff/assembly/reader"
	"github.com/box/respsniff/log"
	"github.com/box/respsniff/protocol/model"
	"github.com/google/gopacket/tcpassembly"
)

// ConsumerStats counts activity on a single stream.
type ConsumerStats struct {
	Messages       int
	ProtocolErrors int
	// number of gaps in the stream, including joining it mid-conversation
	Gaps int
}

// Consumer decodes one direction of a RESP conversation.  It owns a single
// Buffer and RespParser, and implements tcpassembly.Stream so that it can be
// attached directly to a TCP assembler.
//
// Data is decoded synchronously as it is delivered, so Handler and
// MessageHandler are invoked from the goroutine calling Feed.
type Consumer struct {
	// Logger receives decoding failures.  No logging is done if nil.
	Logger log.Logger
	// Direction is recorded on every event produced.
	Direction model.Direction
	// Handler receives an event for every decoded message and failure.
	Handler model.EventHandler
	// MessageHandler, if set, receives every decoded message.  The message
	// does not alias the buffer and may be retained.
	MessageHandler func(dir model.Direction, m Message)

	buf    *reader.Buffer
	parser *RespParser
	stats  ConsumerStats
}

// NewConsumer creates a Consumer whose window holds capacity bytes.  A
// maxDepth of zero allows arrays to nest without limit.
func NewConsumer(logger log.Logger, dir model.Direction, capacity, maxDepth int, handler model.EventHandler) *Consumer {
	p := NewParser()
	p.Options.MaxDepth = maxDepth
	return &Consumer{
		Logger:    logger,
		Direction: dir,
		Handler:   handler,
		buf:       reader.NewBuffer(capacity),
		parser:    p,
	}
}

// Feed decodes as much of p as possible, delivering every complete message.
//
// When a message cannot be decoded the stream state is discarded along with
// the rest of p, a protocol error event is produced, and the error is
// returned.  Decoding restarts at the beginning of the next call.
func (c *Consumer) Feed(p []byte) error {
	for len(p) > 0 {
		n := c.buf.Free()
		if n > len(p) {
			n = len(p)
		}
		if _, err := c.buf.Write(p[:n]); err != nil {
			return c.fail(err)
		}
		p = p[n:]
		if err := c.drain(); err != nil {
			return c.fail(err)
		}
		if len(p) > 0 && c.buf.Free() == 0 {
			// a single message is larger than the window
			return c.fail(reader.ErrOverflow)
		}
	}
	return nil
}

// ReadFrom decodes r until it reports io.EOF, reading straight into the
// decoding window with no intermediate copy.  It implements io.ReaderFrom.
//
// Unlike Feed, a decoding failure does not stop the read: stream state is
// discarded, a protocol error event is produced, and decoding restarts with
// the next bytes read.  Only read errors other than io.EOF are returned.
func (c *Consumer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		if c.buf.Free() == 0 {
			// a single message is larger than the window
			_ = c.fail(reader.ErrOverflow)
		}
		n, err := c.buf.Fill(r)
		total += int64(n)
		if n > 0 {
			if derr := c.drain(); derr != nil {
				_ = c.fail(derr)
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Reassembled implements tcpassembly.Stream.
func (c *Consumer) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 {
			c.skip(r.Skip)
		}
		// failures are reported through the handlers
		_ = c.Feed(r.Bytes)
	}
}

// ReassemblyComplete implements tcpassembly.Stream.
func (c *Consumer) ReassemblyComplete() {
	_ = c.Close()
}

// Close ends the stream and releases its window.  It returns
// io.ErrUnexpectedEOF if a message was left partially decoded.
func (c *Consumer) Close() error {
	if c.parser.Pending() || c.buf.Len() > 0 {
		return c.fail(io.ErrUnexpectedEOF)
	}
	c.buf.Release()
	return nil
}

// Allocated reports whether the consumer currently holds a decoding window.
// The window is allocated by the first data delivered and released when
// stream state is discarded or the stream closes.
func (c *Consumer) Allocated() bool {
	return c.buf.Allocated()
}

// Stats returns counters for this stream.
func (c *Consumer) Stats() ConsumerStats {
	return c.stats
}

func (c *Consumer) drain() error {
	for {
		m, err := c.parser.Parse(c.buf)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		c.stats.Messages++
		if c.MessageHandler != nil {
			c.MessageHandler(c.Direction, m)
		}
		if c.Handler != nil {
			c.Handler(c.event(m))
		}
	}
}

// skip discards partial state after a gap.  A negative n means the stream
// was joined after it started, which is routine when capture begins on a
// busy server and is not logged.
func (c *Consumer) skip(n int) {
	c.stats.Gaps++
	if n > 0 && (c.parser.Pending() || c.buf.Len() > 0) {
		c.log(reader.ErrLostData{Lost: n})
	}
	c.reset()
}

func (c *Consumer) fail(err error) error {
	c.stats.ProtocolErrors++
	c.log("discarding stream state:", err)
	c.reset()
	if c.Handler != nil {
		c.Handler(model.Event{
			Direction: c.Direction,
			Type:      model.EventProtocolError,
		})
	}
	return err
}

func (c *Consumer) reset() {
	c.buf.Release()
	c.parser.Reset()
}

func (c *Consumer) event(m Message) model.Event {
	evt := model.Event{
		Direction: c.Direction,
		Size:      Size(m),
	}
	switch x := m.(type) {
	case SimpleString:
		evt.Type = model.EventSimpleString
	case Error:
		evt.Type = model.EventError
	case Integer:
		evt.Type = model.EventInteger
	case Bulk:
		if x.Null {
			evt.Type = model.EventNullBulk
		} else {
			evt.Type = model.EventBulk
		}
	case Array:
		evt.Type = model.EventArray
	case Inline:
		evt.Type = model.EventInline
	}
	// replies may be arrays too, but never carry a command name
	if c.Direction != model.DirectionResponse {
		evt.Command = Command(m)
		evt.Key = Key(m)
	}
	return evt
}

func (c *Consumer) log(items ...interface{}) {
	if c.Logger != nil {
		c.Logger.Log(items...)
	}
}
