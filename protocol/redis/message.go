package redis

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the construct a Message was decoded from.
type Kind int

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulk
	KindArray
	KindInline
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "simple"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

// Message is a single decoded RESP value.  The set of implementations is
// closed: SimpleString, Error, Integer, Bulk, Array and Inline.
type Message interface {
	Kind() Kind
	isMessage()
}

// SimpleString is a "+" line.
type SimpleString []byte

// Error is a "-" line.
type Error []byte

// Integer is a ":" line.
type Integer int64

// Bulk is a length-prefixed binary-safe string.  A declared length of -1
// decodes as Null.
type Bulk struct {
	Data []byte
	Null bool
}

// Array is a "*" header followed by its elements.
type Array []Message

// Inline is a line without a type sigil, as sent by telnet-style clients.
type Inline []byte

func (SimpleString) Kind() Kind { return KindSimpleString }
func (Error) Kind() Kind        { return KindError }
func (Integer) Kind() Kind      { return KindInteger }
func (Bulk) Kind() Kind         { return KindBulk }
func (Array) Kind() Kind        { return KindArray }
func (Inline) Kind() Kind       { return KindInline }

func (SimpleString) isMessage() {}
func (Error) isMessage()        {}
func (Integer) isMessage()      {}
func (Bulk) isMessage()         {}
func (Array) isMessage()        {}
func (Inline) isMessage()       {}

// Equal reports whether a and b hold the same value.  An empty bulk string
// is equal to another empty bulk string regardless of slice identity, but
// never to a null one.
func Equal(a, b Message) bool {
	switch x := a.(type) {
	case SimpleString:
		y, ok := b.(SimpleString)
		return ok && bytes.Equal(x, y)
	case Error:
		y, ok := b.(Error)
		return ok && bytes.Equal(x, y)
	case Integer:
		y, ok := b.(Integer)
		return ok && x == y
	case Bulk:
		y, ok := b.(Bulk)
		return ok && x.Null == y.Null && bytes.Equal(x.Data, y.Data)
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Inline:
		y, ok := b.(Inline)
		return ok && bytes.Equal(x, y)
	case nil:
		return b == nil
	default:
		return false
	}
}

// Size returns the number of payload bytes carried by m: the text of line
// messages, the body of bulk strings, eight bytes for integers, and the sum
// of the elements for arrays.
func Size(m Message) int {
	switch x := m.(type) {
	case SimpleString:
		return len(x)
	case Error:
		return len(x)
	case Integer:
		return 8
	case Bulk:
		return len(x.Data)
	case Array:
		var n int
		for _, e := range x {
			n += Size(e)
		}
		return n
	case Inline:
		return len(x)
	default:
		return 0
	}
}

// Command returns the command name carried by a request: the first element
// of an array of bulk strings, or the first word of an inline command,
// upper-cased.  It returns "" if m does not look like a command.
func Command(m Message) string {
	switch x := m.(type) {
	case Array:
		if len(x) == 0 {
			return ""
		}
		if b, ok := x[0].(Bulk); ok && !b.Null {
			return strings.ToUpper(string(b.Data))
		}
	case Inline:
		fields := bytes.Fields(x)
		if len(fields) > 0 {
			return strings.ToUpper(string(fields[0]))
		}
	}
	return ""
}

// Key returns the first argument of a command, which names the key for most
// data commands: the second element of an array when it is a non-null bulk
// string, or the second word of an inline command.  The case of the key is
// kept.  It returns "" if m carries no argument.
func Key(m Message) string {
	switch x := m.(type) {
	case Array:
		if len(x) < 2 {
			return ""
		}
		if b, ok := x[1].(Bulk); ok && !b.Null {
			return string(b.Data)
		}
	case Inline:
		fields := bytes.Fields(x)
		if len(fields) > 1 {
			return string(fields[1])
		}
	}
	return ""
}

// Format renders m in a compact human-readable form, e.g.
// [bulk "GET", bulk "key1"].
func Format(m Message) string {
	var sb strings.Builder
	format(&sb, m)
	return sb.String()
}

func format(sb *strings.Builder, m Message) {
	switch x := m.(type) {
	case SimpleString:
		fmt.Fprintf(sb, "simple %q", []byte(x))
	case Error:
		fmt.Fprintf(sb, "error %q", []byte(x))
	case Integer:
		sb.WriteString("integer ")
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case Bulk:
		if x.Null {
			sb.WriteString("bulk nil")
		} else {
			fmt.Fprintf(sb, "bulk %q", x.Data)
		}
	case Array:
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, e)
		}
		sb.WriteByte(']')
	case Inline:
		fmt.Fprintf(sb, "inline %q", []byte(x))
	default:
		sb.WriteString("<nil>")
	}
}
