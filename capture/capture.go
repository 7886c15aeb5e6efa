// Package capture provides utilities for reading packets from network
// interfaces or files.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

var (
	ErrNoSource        = errors.New("must specify a network interface or file")
	ErrAmbiguousSource = errors.New("cannot specify both network interface and file")
)

// Stats reports packet counts from the capture layer.
type Stats struct {
	// packets that passed the BPF filter
	PacketsReceived int
	// packets dropped by the kernel or interface before we could read them
	PacketsDropped int
}

// PacketSource is an abstract source of network packets.
type PacketSource interface {
	gopacket.PacketDataSource
	// Stats returns capture statistics.  Sources without kernel counters
	// report what they have seen.
	Stats() (Stats, error)
	Close()
}

// Options configures a PacketSource.
type Options struct {
	// Interface to capture on.  Exactly one of Interface and File is set.
	Interface string
	// File is a pcap file to read, or "-" for stdin.
	File string
	// SnapLen is the number of bytes captured from each packet.
	SnapLen int
	// BufferSize is the kernel buffer in MiB for live capture.
	BufferSize int
	// Ports restricts capture to TCP traffic on these ports when non-empty.
	Ports []int
	// NoDelay replays files at full speed instead of at the original rate.
	NoDelay bool
}

type source struct {
	*pcap.Handle
}

// New creates a PacketSource bound to the configured network interface or
// pcap file.
//
// Larger kernel buffers can reduce dropped packets as revealed by Stats, but
// use caution as kernel memory is a precious resource.
func New(opts Options) (PacketSource, error) {
	handle, err := makeHandle(opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Ports) > 0 {
		if err = handle.SetBPFFilter(PortFilter(opts.Ports)); err != nil {
			handle.Close()
			return nil, fmt.Errorf("setting capture filter: %w", err)
		}
	}
	src := source{handle}
	if !opts.NoDelay && opts.File != "" {
		return newReplayer(src), nil
	}
	return src, nil
}

// PortFilter returns a BPF expression matching TCP traffic to or from any
// of ports.
func PortFilter(ports []int) string {
	terms := make([]string, len(ports))
	for i, p := range ports {
		terms[i] = fmt.Sprint("tcp port ", p)
	}
	return strings.Join(terms, " or ")
}

func makeHandle(opts Options) (*pcap.Handle, error) {
	switch {
	case opts.Interface != "" && opts.File != "":
		return nil, ErrAmbiguousSource
	case opts.Interface != "":
		return newLiveCapture(opts.Interface, opts.SnapLen, opts.BufferSize)
	case opts.File != "":
		// OpenOffline interprets "-" as stdin
		return pcap.OpenOffline(opts.File)
	default:
		return nil, ErrNoSource
	}
}

func newLiveCapture(netInterface string, snapLen, bufferSize int) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(netInterface)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()
	if err = inactive.SetSnapLen(snapLen); err != nil {
		return nil, err
	}
	if err = inactive.SetPromisc(true); err != nil {
		return nil, err
	}
	if err = inactive.SetTimeout(10 * time.Millisecond); err != nil {
		return nil, err
	}
	if err = inactive.SetBufferSize(bufferSize * 1024 * 1024); err != nil {
		return nil, err
	}

	return inactive.Activate()
}

func (s source) Stats() (Stats, error) {
	ps, err := s.Handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PacketsReceived: ps.PacketsReceived,
		PacketsDropped:  ps.PacketsDropped + ps.PacketsIfDropped,
	}, nil
}
