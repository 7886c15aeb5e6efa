// Package presentation implements interactive and non-interactive reporting
// of RESP traffic.
package presentation

import (
	"context"
	"fmt"
	"time"

	"github.com/box/respsniff/analysis"
	"github.com/box/respsniff/log"
)

// UIHandler is the external API for a user interface.
type UIHandler interface {
	// Run displays reports until ctx is done, the input is exhausted, or
	// the user quits.
	Run(ctx context.Context) error
	// Log displays a log message to the user.
	Log(items ...interface{})
}

// Stats collects statistics on runtime performance to be displayed to the user.
type Stats struct {
	// count of bytes read in raw stream mode
	BytesRead int64
	// count of packets that passed the BPF filter
	PacketsReceived int64
	// count of packets dropped by the kernel or interface
	PacketsDroppedKernel int64
	// count of packets read from the capture source
	PacketsRead int64
	// count of TCP packets handed to assembly
	PacketsTCP int64
	// count of packets dropped because assembly could not keep up
	PacketsDroppedAssembly int64
	// count of stream directions opened
	StreamsOpened int64
	// count of messages recorded
	EventsHandled int64
	// count of messages dropped because analysis could not keep up
	EventsDropped int64
	// count of undecodable streams
	ProtocolErrors int64
}

// DroppedTotal sums drops at every stage.
func (s Stats) DroppedTotal() int64 {
	return s.PacketsDroppedKernel + s.PacketsDroppedAssembly + s.EventsDropped
}

// StatProvider returns a snapshot of current runtime statistics.
type StatProvider func() Stats

// Config configures a UIHandler.
type Config struct {
	// Logger receives report lines when the GUI is disabled.
	Logger   log.Logger
	Analysis *analysis.Pool
	// Interval between reports.
	Interval time.Duration
	// Cumulative keeps results across intervals instead of resetting.
	Cumulative   bool
	StatProvider StatProvider
	UseGui       bool
	// TopX limits the rows reported; zero means no limit.
	TopX int
	// ReportFile, if set, receives report lines instead of Logger.
	ReportFile string
	// Done is closed when the input is exhausted.  A final report is
	// produced before Run returns.
	Done <-chan struct{}
}

type uiContext struct {
	Config
	messages   []string
	msgChan    chan string
	prevReport analysis.Report
	paused     bool
	// index into the report's aggregates of the column rows are sorted by
	sortAgg int
}

// New returns a UIHandler that is ready to run.
func New(config Config) UIHandler {
	if config.StatProvider == nil {
		config.StatProvider = func() Stats { return Stats{} }
	}
	return &uiContext{
		Config:  config,
		msgChan: make(chan string, 128),
	}
}

func (u *uiContext) Run(ctx context.Context) error {
	if u.UseGui {
		return u.runTermbox(ctx)
	}
	return u.runLoggingEventLoop(ctx)
}

// Log queues a message for display.  Messages are dropped if the display
// falls behind.
func (u *uiContext) Log(items ...interface{}) {
	msg := fmt.Sprint(items...)
	select {
	case u.msgChan <- msg:
	default:
	}
}

// report fetches the next report, sorted and truncated for display.
func (u *uiContext) report() analysis.Report {
	rep := u.Analysis.Report(!u.Cumulative)
	u.sortReport(&rep)
	if u.TopX > 0 {
		rep.Truncate(u.TopX)
	}
	return rep
}

// sortReport orders rows by the selected aggregate, largest first.  Reports
// from analysis already come sorted by the first one.
func (u *uiContext) sortReport(rep *analysis.Report) {
	if u.sortAgg > 0 && u.sortAgg < len(rep.ValColNames) {
		rep.SortBy(-(len(rep.KeyColNames) + 1 + u.sortAgg))
	}
}
