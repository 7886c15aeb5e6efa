// respsniff is an interactive console tool for realtime display of Redis
// activity, based on passive decoding of RESP traffic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/box/respsniff/analysis"
	"github.com/box/respsniff/internal/env"
	"github.com/box/respsniff/log"
	"github.com/box/respsniff/presentation"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"go.uber.org/multierr"
	"golang.org/x/term"
)

const defaultFormat = "source,cmd,cnt(size),sum(size),p99(size)"

var (
	netInterface = flag.StringP("interface", "i", "", "network interface to sniff")
	infile       = flag.StringP("read", "r", "", "pcap file to read (- for stdin)")
	rawfile      = flag.String("raw", "", "raw RESP byte stream to decode instead of packets (- for stdin)")
	chunkSize    = flag.Int("chunk", 4096, "bytes delivered to the decoder per read in --raw mode")
	bufferSize   = flag.IntP("buffersize", "b", 1, "MiB of decoding window for each direction of each connection, allocated while a message is in flight")
	kernelBuffer = flag.Int("kernelbuffer", 8, "MiB of kernel buffer for packet data")
	snapLen      = flag.Int("snaplen", 65535, "bytes captured from each packet")
	maxDepth     = flag.Int("maxdepth", 0, "maximum array nesting before a stream is rejected (0 for no limit)")
	ports        = flag.IntSliceP("ports", "p", []int{6379}, "ports Redis servers listen on")

	assemblyWorkers = flag.Int("assemblyworkers", 8, "number of TCP assembly workers")
	analysisWorkers = flag.Int("analysisworkers", 32, "number of analysis workers")
	profiles        = flag.StringSlice("profile", []string{}, "profile types to store (one or more of cpu, heap, block, goroutine, mutex)")

	filter     = flag.String("filter", "", "regex pattern of command names to track")
	format     = flag.StringP("format", "f", defaultFormat, "fields (source, type, cmd, key, size) and aggregates (avg, max, min, sum, cnt, p50 (median), p995 (99.5th percentile), etc.) to display")
	interval   = flag.IntP("interval", "n", 1, "report every this many seconds")
	cumulative = flag.Bool("cumulative", false, "accumulate over all time instead of an interval")
	topX       = flag.Int("top", 0, "number of rows to report (0 for all)")

	reportFilePath = flag.String("reportfile", "", "file that non-interactive reports are appended to")

	noDelay = flag.Bool("nodelay", false, "replay from file at maximum speed instead of rate of original capture")
	noGui   = flag.Bool("nogui", false, "disable interactive interface")
	dump    = flag.Bool("dump", false, "log every decoded message")
	trace   = flag.Bool("trace", false, "log every reassembled TCP segment")
	logJSON = flag.Bool("logjson", false, "write logs as JSON")

	configFile = flag.String("config", "", "TOML file with defaults for options not set by flags or the environment")
)

var logger = &log.ProxyLogger{}

var rootCmd = &cobra.Command{
	Use:   "respsniff [flags]",
	Short: "Realtime display of Redis activity decoded from RESP traffic",
	Long: `Realtime display of Redis activity decoded from RESP traffic

Usage
	respsniff -i eth0
	respsniff -r capture.pcap --nogui
	respsniff --raw - < stream.resp

`,
	Version:      versionString(),
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().AddFlagSet(flag.CommandLine)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() (err error) {
	stopProfiling, err := startProfiling()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, stopProfiling())
	}()

	if err = applyEnv(context.Background()); err != nil {
		return err
	}

	var console log.Logger = log.ConsoleLogger{}
	if *logJSON {
		zl, zerr := log.NewZapLogger()
		if zerr != nil {
			return zerr
		}
		defer func() {
			// stderr cannot always be synced; that is not worth failing over
			_ = zl.Sync()
		}()
		console = zl
	}

	buffered := &log.BufferLogger{}
	logger.SetLogger(buffered)

	analysisPool, err := analysis.New(*analysisWorkers, *format)
	if err != nil {
		return err
	}
	if err = analysisPool.SetFilterPattern(*filter); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var in input
	if *rawfile != "" {
		in, err = newRawInput(analysisPool)
	} else {
		in, err = newPacketInput(analysisPool)
	}
	if err != nil {
		analysisPool.Close()
		return err
	}

	useGui := !*noGui
	if useGui && !term.IsTerminal(int(os.Stdout.Fd())) {
		logger.Log("stdout is not a terminal, reporting as with --nogui")
		useGui = false
	}

	inputCtx, cancelInput := context.WithCancel(ctx)
	done := make(chan struct{})
	var inputErr error
	go func() {
		defer close(done)
		inputErr = in.Run(inputCtx)
	}()

	ui := presentation.New(presentation.Config{
		Logger:       console,
		Analysis:     analysisPool,
		Interval:     time.Duration(*interval) * time.Second,
		Cumulative:   *cumulative,
		StatProvider: statGenerator(in, analysisPool),
		UseGui:       useGui,
		TopX:         *topX,
		ReportFile:   *reportFilePath,
		Done:         done,
	})
	if !useGui {
		logger.SetLogger(console)
	} else {
		logger.SetLogger(ui)
	}
	buffered.WriteTo(logger)

	uiErr := ui.Run(ctx)
	logger.SetLogger(console)

	cancelInput()
	<-done
	if inputErr == context.Canceled {
		inputErr = nil
	}
	err = multierr.Combine(uiErr, inputErr, in.Close())
	analysisPool.Close()
	return err
}

// applyEnv uses the environment, then the config file, for every option not
// given on the command line.
func applyEnv(ctx context.Context) error {
	config, err := env.LoadConfig(ctx, *configFile)
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if !flag.CommandLine.Changed("buffersize") {
		*bufferSize = config.BufferMiB
	}
	if !flag.CommandLine.Changed("maxdepth") {
		*maxDepth = config.MaxDepth
	}
	if !flag.CommandLine.Changed("ports") && len(config.Ports) > 0 {
		*ports = config.Ports
	}
	if !flag.CommandLine.Changed("format") && config.Format != "" {
		*format = config.Format
	}
	if !flag.CommandLine.Changed("logjson") {
		*logJSON = config.LogJSON
	}
	if *bufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d MiB", *bufferSize)
	}
	return nil
}

func statGenerator(in input, analysisPool *analysis.Pool) presentation.StatProvider {
	return func() presentation.Stats {
		stats := in.Stats()
		analysisStats := analysisPool.Stats()
		stats.EventsHandled = analysisStats.EventsHandled
		stats.EventsDropped = analysisStats.EventsDropped
		stats.ProtocolErrors = analysisStats.ProtocolErrors
		return stats
	}
}
