// Package analysis implements accumulation of individual messages into
// summary statistics.
package analysis

import (
	"hash/fnv"

	"github.com/box/respsniff/analysis/aggregate"
	"github.com/box/respsniff/log"
	"github.com/box/respsniff/protocol/model"
	"go.uber.org/atomic"
)

// Pool tracks message activity by hashing each event's aggregation key to a
// fixed worker.  The number of workers is determined when the Pool is
// created.  The implementation prioritizes responsiveness over consistency,
// and events are dropped if the rate of input is too high to be handled by
// the Pool.
type Pool struct {
	// A Logger instance for debugging.  No logging is done if nil.
	Logger  log.Logger
	kaf     aggregate.KeyAggregatorFactory
	workers []*worker
	filter  commandFilter

	handled     atomic.Int64
	dropped     atomic.Int64
	protoErrors atomic.Int64
}

// Stats contains performance metrics for a Pool.
type Stats struct {
	// number of events sent to HandleEvents that were recorded
	EventsHandled int64
	// number of events sent to HandleEvents that were discarded
	EventsDropped int64
	// number of protocol errors seen, whether or not they were recorded
	ProtocolErrors int64
}

// New returns a new Pool.
//
// numWorkers determines the number of workers to create.  More workers gives
// more potential parallelism and performance, but increased memory
// consumption.
//
// format is a descriptor for aggregate.NewKeyAggregatorFactory.
func New(numWorkers int, format string) (*Pool, error) {
	kaf, err := aggregate.NewKeyAggregatorFactory(format)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		kaf:     kaf,
		workers: make([]*worker, numWorkers),
	}
	for i := range p.workers {
		p.workers[i] = newWorker(kaf)
	}
	return p, nil
}

// HandleEvent is a model.EventHandler that records a single event.
func (p *Pool) HandleEvent(evt model.Event) {
	p.HandleEvents([]model.Event{evt})
}

// HandleEvents adds a batch of events to the Pool.
//
// Each event is dispatched to its assigned worker.  If a worker is
// overloaded, all inputs for that worker will be discarded and statistics
// for this Pool updated to reflect the lost data.
//
// HandleEvents is threadsafe.
func (p *Pool) HandleEvents(evts []model.Event) {
	for _, evt := range evts {
		if evt.Type == model.EventProtocolError {
			p.protoErrors.Inc()
		}
	}
	perWorker := p.partition(p.filter.filterEvents(evts))
	for i, batch := range perWorker {
		if len(batch) == 0 {
			continue
		}
		if err := p.workers[i].handleEvents(batch); err == errQueueFull {
			p.dropped.Add(int64(len(batch)))
			continue
		}
		p.handled.Add(int64(len(batch)))
	}
}

func (p *Pool) partition(evts []model.Event) [][]model.Event {
	perWorker := make([][]model.Event, len(p.workers))
	for _, e := range evts {
		slot := p.keySlot(p.kaf.FlatKey(e))
		perWorker[slot] = append(perWorker[slot], e)
	}
	return perWorker
}

// SetFilterPattern sets an RE2 pattern for future data points.  Only events
// whose command name matches pattern, ignoring case, have statistics
// collected, so replies are excluded while a pattern is set.  Setting a new
// filter invalidates existing results, so current statistics are cleared
// before returning.  If pattern is the empty string statistics are collected
// for all events.
func (p *Pool) SetFilterPattern(pattern string) error {
	if err := p.filter.setPattern(pattern); err != nil {
		return err
	}
	p.Reset()
	return nil
}

// Reset clears all recorded activity from this Pool.  Events queued before
// the call are discarded along with the results.
func (p *Pool) Reset() {
	for _, w := range p.workers {
		w.reset()
	}
}

// Stats returns a record of total activity reported to this Pool, including
// input that was dropped due to not keeping up.
func (p *Pool) Stats() Stats {
	return Stats{
		EventsHandled:  p.handled.Load(),
		EventsDropped:  p.dropped.Load(),
		ProtocolErrors: p.protoErrors.Load(),
	}
}

// Close stops all workers.  HandleEvents must not be called afterwards.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.close()
	}
}

func (p *Pool) keySlot(key string) int {
	hash := fnv.New64a()
	// writing to a Hash can never fail
	_, _ = hash.Write([]byte(key))
	return int(hash.Sum64() % uint64(len(p.workers)))
}
