package main

import (
	"context"
	"io"
	"os"

	"github.com/box/respsniff/analysis"
	"github.com/box/respsniff/assembly"
	"github.com/box/respsniff/capture"
	"github.com/box/respsniff/decode"
	"github.com/box/respsniff/presentation"
	"github.com/box/respsniff/protocol/model"
	"github.com/box/respsniff/protocol/redis"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const decodeBatchSize = 256

// input is a source of RESP traffic feeding the analysis pool.
type input interface {
	// Run delivers traffic until the source is exhausted or ctx is done.
	Run(ctx context.Context) error
	Stats() presentation.Stats
	// Close releases the source once Run has returned.
	Close() error
}

// packetInput decodes RESP from captured TCP packets.
type packetInput struct {
	src      capture.PacketSource
	decoder  *decode.Decoder
	assembly *assembly.Pool
}

func newPacketInput(analysisPool *analysis.Pool) (*packetInput, error) {
	src, err := capture.New(capture.Options{
		Interface:  *netInterface,
		File:       *infile,
		SnapLen:    *snapLen,
		BufferSize: *kernelBuffer,
		Ports:      *ports,
		NoDelay:    *noDelay,
	})
	if err != nil {
		return nil, err
	}
	config := assembly.Config{
		Ports:      *ports,
		BufferSize: *bufferSize * 1024 * 1024,
		MaxDepth:   *maxDepth,
		Handler:    analysisPool.HandleEvent,
		Trace:      *trace,
	}
	if *dump {
		config.MessageHandler = dumpMessage
	}
	pool := assembly.New(logger, config, *assemblyWorkers)
	return &packetInput{
		src:      src,
		decoder:  decode.NewDecoder(logger, decodeBatchSize, pool.HandlePackets),
		assembly: pool,
	}, nil
}

func (p *packetInput) Run(ctx context.Context) error {
	return p.decoder.Run(ctx, p.src)
}

func (p *packetInput) Stats() presentation.Stats {
	var stats presentation.Stats
	if captureStats, err := p.src.Stats(); err == nil {
		stats.PacketsReceived = int64(captureStats.PacketsReceived)
		stats.PacketsDroppedKernel = int64(captureStats.PacketsDropped)
	}
	decodeStats := p.decoder.Stats()
	stats.PacketsRead = decodeStats.PacketsRead
	stats.PacketsTCP = decodeStats.PacketsTCP
	assemblyStats := p.assembly.Stats()
	stats.PacketsDroppedAssembly = assemblyStats.PacketsDropped
	stats.StreamsOpened = assemblyStats.StreamsOpened
	return stats
}

func (p *packetInput) Close() error {
	// flushing completes every stream, reporting truncated messages
	p.assembly.Close()
	p.src.Close()
	return nil
}

func dumpMessage(conn string, dir model.Direction, m redis.Message) {
	logger.Log(conn, dir, redis.Format(m))
}

// rawInput decodes a bare RESP byte stream.
type rawInput struct {
	r        io.ReadCloser
	consumer *redis.Consumer
	read     atomic.Int64
}

func newRawInput(analysisPool *analysis.Pool) (*rawInput, error) {
	r := io.ReadCloser(os.Stdin)
	if *rawfile != "-" {
		f, err := os.Open(*rawfile)
		if err != nil {
			return nil, err
		}
		r = f
	}
	c := redis.NewConsumer(logger, model.DirectionUnknown, *bufferSize*1024*1024, *maxDepth, analysisPool.HandleEvent)
	if *dump {
		c.MessageHandler = func(dir model.Direction, m redis.Message) {
			dumpMessage(*rawfile, dir, m)
		}
	}
	return &rawInput{r: r, consumer: c}, nil
}

// Run reads the source straight into the consumer's window, at most one
// chunk per read.  Decoding failures are reported through the event handler
// and decoding continues with the bytes that follow.
func (ri *rawInput) Run(ctx context.Context) error {
	size := *chunkSize
	if size <= 0 {
		size = 1
	}
	if _, err := ri.consumer.ReadFrom(&chunkReader{ctx: ctx, r: ri.r, size: size, read: &ri.read}); err != nil {
		return err
	}
	logger.Log("Reached EOF after", ri.read.Load(), "bytes")
	// an incomplete final message has already been reported
	_ = ri.consumer.Close()
	return nil
}

// chunkReader caps every read at size bytes, counts what it delivers and
// stops once ctx is done.
type chunkReader struct {
	ctx  context.Context
	r    io.Reader
	size int
	read *atomic.Int64
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > cr.size {
		p = p[:cr.size]
	}
	n, err := cr.r.Read(p)
	cr.read.Add(int64(n))
	return n, err
}

func (ri *rawInput) Stats() presentation.Stats {
	return presentation.Stats{BytesRead: ri.read.Load()}
}

func (ri *rawInput) Close() error {
	var err error
	if ri.r != os.Stdin {
		err = multierr.Append(err, ri.r.Close())
	}
	return err
}
