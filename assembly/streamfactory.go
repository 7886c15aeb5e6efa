package assembly

import (
	"encoding/binary"
	"fmt"

	"github.com/box/respsniff/log"
	"github.com/box/respsniff/protocol/model"
	"github.com/box/respsniff/protocol/redis"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
	"go.uber.org/atomic"
)

// Config describes how streams are decoded.
type Config struct {
	// Ports the Redis servers listen on.  Traffic from these ports is
	// treated as responses.
	Ports []int
	// BufferSize is the window in bytes for each direction of each
	// connection.
	BufferSize int
	// MaxDepth limits array nesting; zero means no limit.
	MaxDepth int
	// Handler receives an event for every message.  It is called from
	// assembly workers concurrently and must be threadsafe.
	Handler model.EventHandler
	// MessageHandler optionally receives every decoded message.  It must be
	// threadsafe.
	MessageHandler func(conn string, dir model.Direction, m redis.Message)
	// Trace logs every reassembled chunk.
	Trace bool
}

type connectionKey struct {
	netFlow       gopacket.Flow
	transportFlow gopacket.Flow
}

func (c connectionKey) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s",
		c.netFlow.Src(),
		c.transportFlow.Src(),
		c.netFlow.Dst(),
		c.transportFlow.Dst())
}

// streamFactory creates one redis.Consumer for each direction of each
// connection.
type streamFactory struct {
	logger log.Logger
	config Config
	opened *atomic.Int64
}

// isFromServer returns true if we believe this stream is coming from the server.
// Note that it will misidentify a client using a server port as a source ephemeral port.
// For now we accept that possibility, but we could try to infer based on source IP as well.
func (sf *streamFactory) isFromServer(transportFlow gopacket.Flow) bool {
	return isInPortlist(sf.config.Ports, srcPort(transportFlow))
}

func srcPort(transportFlow gopacket.Flow) int {
	if transportFlow.EndpointType() != layers.EndpointTCPPort {
		panic("non TCP flow")
	}
	return int(binary.BigEndian.Uint16(transportFlow.Src().Raw()))
}

func isInPortlist(ports []int, port int) bool {
	for _, p := range ports {
		if port == p {
			return true
		}
	}
	return false
}

// New implements tcpassembly.StreamFactory.
func (sf *streamFactory) New(netFlow, transportFlow gopacket.Flow) tcpassembly.Stream {
	sf.opened.Inc()
	ck := connectionKey{netFlow, transportFlow}
	dir := model.DirectionRequest
	if sf.isFromServer(transportFlow) {
		dir = model.DirectionResponse
	}
	logger := log.NewContext(sf.logger, ck.String())

	c := redis.NewConsumer(logger, dir, sf.config.BufferSize, sf.config.MaxDepth, sf.config.Handler)
	if h := sf.config.MessageHandler; h != nil {
		conn := ck.String()
		c.MessageHandler = func(dir model.Direction, m redis.Message) {
			h(conn, dir, m)
		}
	}
	if sf.config.Trace && logger != nil {
		return traced{c, logger}
	}
	return c
}
