// Package model defines the events produced by protocol consumers.
package model

// Direction identifies which side of a conversation sent a message.
type Direction int

const (
	// DirectionUnknown is used for streams that are not tied to a TCP
	// conversation, such as a raw capture file.
	DirectionUnknown Direction = iota
	// DirectionRequest is traffic from a client to a server.
	DirectionRequest
	// DirectionResponse is traffic from a server to a client.
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "client"
	case DirectionResponse:
		return "server"
	default:
		return "stream"
	}
}

// EventType described what sort of event has occurred.
type EventType int

const (
	// EventUnknown is an unhandled event.
	EventUnknown EventType = iota
	// EventSimpleString is a status reply such as +OK.
	EventSimpleString
	// EventError is an error reply.
	EventError
	// EventInteger is an integer reply.
	EventInteger
	// EventBulk is a non-null bulk string.
	EventBulk
	// EventNullBulk is a null bulk string, typically a cache miss.
	EventNullBulk
	// EventArray is an array, the usual form of a request.
	EventArray
	// EventInline is a command sent without RESP framing.
	EventInline
	// EventProtocolError reports malformed traffic that could not be decoded.
	EventProtocolError
)

func (t EventType) String() string {
	switch t {
	case EventSimpleString:
		return "simple"
	case EventError:
		return "error"
	case EventInteger:
		return "integer"
	case EventBulk:
		return "bulk"
	case EventNullBulk:
		return "nil"
	case EventArray:
		return "array"
	case EventInline:
		return "inline"
	case EventProtocolError:
		return "protoerr"
	default:
		return "unknown"
	}
}

// Event is a single decoded message in a datastore conversation.
type Event struct {
	// Direction the message travelled in.
	Direction Direction
	// Type of the event.
	Type EventType
	// Command name for requests, upper-cased.  Empty for replies.
	Command string
	// Key is the first argument of a request, as sent.  Empty for replies
	// and for commands without arguments.
	Key string
	// Size of the payload carried by the message, in bytes.
	Size int
}

// EventHandler consumes a single event.
type EventHandler func(evt Event)

// EventFieldMask efficiently identifies a field or set of fields in an Event.
// Each value is a power-of-2, and can be OR-ed together to express a set.
type EventFieldMask int

const (
	// FieldNone is a mask representing the empty set of Event fields.
	FieldNone   EventFieldMask = 0
	FieldSource EventFieldMask = 1 << (iota - 1)
	FieldType
	FieldCommand
	FieldKey
	FieldSize

	// FieldEndOfFields is a dummy value to use as the endpoint of an iteration.
	FieldEndOfFields
)

const (
	// IntFields is a mask identifying the set of fields that can be viewed as integers,
	// and are viable targets for aggregation.
	IntFields = FieldSize
)
