package redis

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/box/respsniff/assembly/reader"
	"github.com/box/respsniff/protocol/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket/tcpassembly"
)

type testLogger struct {
	t *testing.T
}

func (tl testLogger) Log(items ...interface{}) {
	tl.t.Log(items...)
}

type collector struct {
	events   []model.Event
	messages []Message
}

func (c *collector) consumer(t *testing.T, dir model.Direction, capacity int) *Consumer {
	con := NewConsumer(testLogger{t}, dir, capacity, 0, func(evt model.Event) {
		c.events = append(c.events, evt)
	})
	con.MessageHandler = func(_ model.Direction, m Message) {
		c.messages = append(c.messages, m)
	}
	return con
}

func TestConsumerRequestEvents(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionRequest, 64)
	err := c.Feed([]byte("*2\r\n$3\r\nget\r\n$4\r\nkey1\r\nPING\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	expected := []model.Event{
		{Direction: model.DirectionRequest, Type: model.EventArray, Command: "GET", Key: "key1", Size: 7},
		{Direction: model.DirectionRequest, Type: model.EventInline, Command: "PING", Size: 4},
	}
	if len(col.events) != len(expected) {
		t.Fatal(spew.Sdump(col.events))
	}
	for i := range expected {
		if col.events[i] != expected[i] {
			t.Error(i, spew.Sdump(col.events[i]), spew.Sdump(expected[i]))
		}
	}
}

func TestConsumerResponseHasNoCommand(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionResponse, 64)
	if err := c.Feed([]byte("*1\r\n$3\r\nfoo\r\n$-1\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(col.events) != 2 {
		t.Fatal(spew.Sdump(col.events))
	}
	if col.events[0].Command != "" || col.events[0].Key != "" || col.events[0].Size != 3 {
		t.Error(spew.Sdump(col.events[0]))
	}
	if col.events[1].Type != model.EventNullBulk {
		t.Error(col.events[1].Type)
	}
}

func TestConsumerChunksLargerThanWindow(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 16)
	var in []byte
	for i := 0; i < 10; i++ {
		in = append(in, "+0123456789\r\n"...)
	}
	if err := c.Feed(in); err != nil {
		t.Fatal(err)
	}
	if len(col.messages) != 10 {
		t.Error(len(col.messages), 10)
	}
	for _, m := range col.messages {
		if !Equal(m, SimpleString("0123456789")) {
			t.Error(Format(m))
		}
	}
}

func TestConsumerMessageLargerThanWindow(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 16)
	err := c.Feed([]byte("+this line does not fit in sixteen bytes\r\n"))
	if !errors.Is(err, reader.ErrOverflow) {
		t.Error(err)
	}
	if len(col.events) != 1 || col.events[0].Type != model.EventProtocolError {
		t.Error(spew.Sdump(col.events))
	}
}

func TestConsumerRecoversOnNextChunk(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 64)
	err := c.Feed([]byte("+broken\n+dropped\r\n"))
	if !errors.Is(err, ErrContentWrong) {
		t.Error(err)
	}
	if err = c.Feed([]byte(":7\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(col.messages) != 1 || !Equal(col.messages[0], Integer(7)) {
		t.Error(spew.Sdump(col.messages))
	}
	if s := c.Stats(); s.Messages != 1 || s.ProtocolErrors != 1 {
		t.Error(spew.Sdump(s))
	}
}

func TestConsumerReassembledGap(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionResponse, 64)
	c.Reassembled([]tcpassembly.Reassembly{
		{Bytes: []byte("$10\r\nabc"), Skip: -1},
		{Bytes: []byte("+OK\r\n"), Skip: 5},
	})
	if len(col.messages) != 1 || !Equal(col.messages[0], SimpleString("OK")) {
		t.Error(spew.Sdump(col.messages))
	}
	if s := c.Stats(); s.Gaps != 2 || s.ProtocolErrors != 0 {
		t.Error(spew.Sdump(s))
	}
}

func TestConsumerPartialMessageAtClose(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 64)
	if err := c.Feed([]byte("*2\r\n:1\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != io.ErrUnexpectedEOF {
		t.Error(err)
	}
	if err := c.Close(); err != nil {
		t.Error("second close should find a clean stream:", err)
	}
}

func TestConsumerCleanClose(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 64)
	if err := c.Feed([]byte(":1\r\n")); err != nil {
		t.Fatal(err)
	}
	c.ReassemblyComplete()
	for _, evt := range col.events {
		if evt.Type == model.EventProtocolError {
			t.Error("clean stream reported an error")
		}
	}
}

func TestConsumerReadFromByteAtATime(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionRequest, 64)
	in := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nhello\r\n*2\r\n$3\r\nget\r\n$1\r\nk\r\n"
	n, err := c.ReadFrom(iotest.OneByteReader(strings.NewReader(in)))
	if err != nil || n != int64(len(in)) {
		t.Fatal(n, err)
	}
	expected := []model.Event{
		{Direction: model.DirectionRequest, Type: model.EventArray, Command: "SET", Key: "k", Size: 9},
		{Direction: model.DirectionRequest, Type: model.EventArray, Command: "GET", Key: "k", Size: 4},
	}
	if len(col.events) != len(expected) {
		t.Fatal(spew.Sdump(col.events))
	}
	for i := range expected {
		if col.events[i] != expected[i] {
			t.Error(i, spew.Sdump(col.events[i]), spew.Sdump(expected[i]))
		}
	}
}

func TestConsumerReadFromRecoversAfterOversizedMessage(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 16)
	// the window fills before the first line ends, and the remainder of the
	// line restarts decoding as inline text
	in := "+this line does not fit\r\n:42\r\n"
	if _, err := c.ReadFrom(strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	if s := c.Stats(); s.ProtocolErrors != 1 {
		t.Error(spew.Sdump(s))
	}
	last := col.messages[len(col.messages)-1]
	if !Equal(last, Integer(42)) {
		t.Error(spew.Sdump(col.messages))
	}
}

func TestConsumerReadFromReturnsReadErrors(t *testing.T) {
	var col collector
	c := col.consumer(t, model.DirectionUnknown, 16)
	broken := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(":1\r\n"), iotest.ErrReader(broken))
	n, err := c.ReadFrom(r)
	if err != broken || n != 4 {
		t.Error(n, err)
	}
	if len(col.messages) != 1 {
		t.Error(spew.Sdump(col.messages))
	}
}

func TestIdleConsumerHoldsNoWindow(t *testing.T) {
	var col collector
	consumers := make([]*Consumer, 50)
	for i := range consumers {
		consumers[i] = col.consumer(t, model.DirectionRequest, 1<<20)
		consumers[i].Reassembled([]tcpassembly.Reassembly{{Skip: -1}})
		if consumers[i].Allocated() {
			t.Fatal("idle consumer allocated a window")
		}
	}

	c := consumers[0]
	if err := c.Feed([]byte("*1\r\n$4")); err != nil {
		t.Fatal(err)
	}
	if !c.Allocated() {
		t.Error("window not allocated while a message is pending")
	}
	if err := c.Feed([]byte("\r\nPING\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Allocated() {
		t.Error("window kept after close")
	}

	c = consumers[1]
	_ = c.Feed([]byte("+broken\n"))
	if c.Allocated() {
		t.Error("window kept after a protocol error")
	}
}
