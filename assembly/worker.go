package assembly

import (
	"errors"
	"time"

	"github.com/box/respsniff/decode"
	"github.com/box/respsniff/log"
	"github.com/google/gopacket/tcpassembly"
)

var (
	errQueueFull = errors.New("assembly worker queue full")
)

const (
	// connections idle this long are flushed and closed
	idleTimeout = time.Minute
	flushPeriod = time.Second
)

type workItem struct {
	dps    []*decode.DecodedPacket
	doneCh chan<- struct{}
}

// worker owns a tcpassembly.Assembler, which is not threadsafe.  All
// packets for a given connection are handled by the same worker.
type worker struct {
	logger    log.Logger
	assembler *tcpassembly.Assembler
	wiCh      chan workItem
	done      chan struct{}
}

func newWorker(logger log.Logger, sf *streamFactory) *worker {
	w := &worker{
		logger:    logger,
		assembler: tcpassembly.NewAssembler(tcpassembly.NewStreamPool(sf)),
		wiCh:      make(chan workItem, 128),
		done:      make(chan struct{}),
	}
	// out-of-order segments are held briefly, then skipped as lost
	w.assembler.MaxBufferedPagesPerConnection = 16
	w.assembler.MaxBufferedPagesTotal = 1024
	go w.loop()
	return w
}

func (w *worker) handlePackets(dps []*decode.DecodedPacket, doneCh chan<- struct{}) error {
	select {
	case w.wiCh <- workItem{dps, doneCh}:
		return nil
	default:
		return errQueueFull
	}
}

// close flushes every connection and stops the worker.
func (w *worker) close() {
	close(w.wiCh)
	<-w.done
}

func (w *worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f, c := w.assembler.FlushOlderThan(time.Now().Add(-idleTimeout))
			if f > 0 || c > 0 {
				w.log("Flushed", f, "Closed", c)
			}

		case wi, ok := <-w.wiCh:
			if !ok {
				w.assembler.FlushAll()
				return
			}
			for _, dp := range wi.dps {
				w.assembler.AssembleWithTimestamp(dp.NetFlow, &dp.TCP, dp.Info.Timestamp)
			}
			wi.doneCh <- struct{}{}
		}
	}
}

func (w *worker) log(items ...interface{}) {
	if w.logger != nil {
		w.logger.Log(items...)
	}
}
