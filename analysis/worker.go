package analysis

import (
	"errors"

	"github.com/box/respsniff/analysis/aggregate"
	"github.com/box/respsniff/protocol/model"
)

// errQueueFull is returned by handleEvents if the worker cannot keep
// up with incoming calls.
var errQueueFull = errors.New("analysis worker queue full")

// request is a unit of work for a worker.  Events and report requests share
// one channel so that a report reflects every event queued before it.
type request struct {
	evts []model.Event
	// if non-nil, the worker replies with its current rows
	reply chan<- []ReportRow
	// clear all aggregates after processing
	reset bool
}

// worker accumulates aggregates for a set of keys.
type worker struct {
	kaf  aggregate.KeyAggregatorFactory
	aggs map[string]aggregate.KeyAggregator
	reqs chan request
	done chan struct{}
}

func newWorker(kaf aggregate.KeyAggregatorFactory) *worker {
	w := &worker{
		kaf:  kaf,
		aggs: make(map[string]aggregate.KeyAggregator),
		reqs: make(chan request, 1024),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// handleEvents asynchronously adds evts to the aggregates for this worker.
// handleEvents is threadsafe.
func (w *worker) handleEvents(evts []model.Event) error {
	select {
	case w.reqs <- request{evts: evts}:
		return nil
	default:
		return errQueueFull
	}
}

// rows returns the current aggregates for this worker, optionally clearing
// them.  rows is threadsafe.
func (w *worker) rows(reset bool) []ReportRow {
	reply := make(chan []ReportRow, 1)
	w.reqs <- request{reply: reply, reset: reset}
	return <-reply
}

// reset clears the aggregates for this worker.
func (w *worker) reset() {
	w.reqs <- request{reset: true}
}

// close exits this worker after queued requests are handled.  Calls to
// handleEvents after calling close will panic.
func (w *worker) close() {
	close(w.reqs)
	<-w.done
}

func (w *worker) loop() {
	defer close(w.done)
	for req := range w.reqs {
		for _, e := range req.evts {
			w.add(e)
		}
		if req.reply != nil {
			req.reply <- w.snapshot()
		}
		if req.reset {
			w.aggs = make(map[string]aggregate.KeyAggregator)
		}
	}
}

func (w *worker) add(e model.Event) {
	key := w.kaf.FlatKey(e)
	ka, ok := w.aggs[key]
	if !ok {
		ka = w.kaf.New()
		ka.Key = w.kaf.Key(e)
		w.aggs[key] = ka
	}
	ka.Add(e)
}

func (w *worker) snapshot() []ReportRow {
	rows := make([]ReportRow, 0, len(w.aggs))
	for _, ka := range w.aggs {
		rows = append(rows, ReportRow{
			Key:    ka.Key,
			Values: ka.Result(),
		})
	}
	return rows
}
