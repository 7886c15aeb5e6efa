// Package assembly reassembles TCP conversations and feeds each direction
// to a RESP decoder.
package assembly

import (
	"github.com/box/respsniff/decode"
	"github.com/box/respsniff/log"
	"go.uber.org/atomic"
)

// Pool manages a set of workers each responsible for a set of TCP conversations (stream pairs).
type Pool struct {
	Logger  log.Logger
	workers []*worker
	opened  atomic.Int64
	dropped atomic.Int64
}

// Stats contains runtime statistics for a Pool.
type Stats struct {
	StreamsOpened  int64
	PacketsDropped int64
}

// New creates a new pool for reassembling TCP streams.
func New(logger log.Logger, config Config, numWorkers int) *Pool {
	p := &Pool{
		Logger:  logger,
		workers: make([]*worker, numWorkers),
	}
	for i := range p.workers {
		sf := &streamFactory{
			logger: logger,
			config: config,
			opened: &p.opened,
		}
		p.workers[i] = newWorker(logger, sf)
	}
	return p
}

// HandlePackets partitions packets by connection and dispatches them to
// assembly workers.  It returns once every packet has been assembled, so
// the caller may reuse dps.  Packets for an overloaded worker are dropped.
func (p *Pool) HandlePackets(dps []*decode.DecodedPacket) {
	perWorker := p.partition(dps)
	doneCh := make(chan struct{}, len(p.workers))
	var batchesSent int
	for i, packets := range perWorker {
		if len(packets) == 0 {
			continue
		}
		if err := p.workers[i].handlePackets(packets, doneCh); err != nil {
			p.dropped.Add(int64(len(packets)))
			p.log(err)
			continue
		}
		batchesSent++
	}
	for i := 0; i < batchesSent; i++ {
		<-doneCh
	}
}

// Stats returns runtime statistics for a Pool.  Stats is threadsafe.
func (p *Pool) Stats() Stats {
	return Stats{
		StreamsOpened:  p.opened.Load(),
		PacketsDropped: p.dropped.Load(),
	}
}

// Close flushes all connections, completing their streams, and stops the
// workers.  HandlePackets must not be called afterwards.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.close()
	}
}

func (p *Pool) partition(dps []*decode.DecodedPacket) [][]*decode.DecodedPacket {
	perWorker := make([][]*decode.DecodedPacket, len(p.workers))
	for _, dp := range dps {
		s := p.slot(dp)
		perWorker[s] = append(perWorker[s], dp)
	}
	return perWorker
}

func (p *Pool) slot(dp *decode.DecodedPacket) int {
	return int(dp.FlowHash % uint64(len(p.workers)))
}

func (p *Pool) log(items ...interface{}) {
	if p.Logger != nil {
		p.Logger.Log(items...)
	}
}
