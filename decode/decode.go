// Copyright 2017 Box, Inc.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package decode breaks captured packets down into their TCP layers.
package decode

import (
	"context"
	"io"

	"github.com/box/respsniff/log"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/atomic"
)

// DecodedPacket holds the broken down structure of a decoded TCP packet.
type DecodedPacket struct {
	Info gopacket.CaptureInfo

	ethParser *gopacket.DecodingLayerParser
	loParser  *gopacket.DecodingLayerParser
	decoded   []gopacket.LayerType
	ether     layers.Ethernet
	lo        layers.Loopback
	dot1q     layers.Dot1Q
	ipv4      layers.IPv4
	ipv6      layers.IPv6
	TCP       layers.TCP
	Payload   gopacket.Payload
	// FlowHash is equal for both directions of a connection.
	FlowHash uint64
	NetFlow  gopacket.Flow
}

// NewDecodedPacket allocates a DecodedPacket whose layers are reused for
// every packet decoded into it.
func NewDecodedPacket() *DecodedPacket {
	dp := &DecodedPacket{}
	dp.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&dp.ether, &dp.dot1q, &dp.ipv4, &dp.ipv6, &dp.TCP, &dp.Payload)
	dp.loParser = gopacket.NewDecodingLayerParser(layers.LayerTypeLoopback,
		&dp.lo, &dp.dot1q, &dp.ipv4, &dp.ipv6, &dp.TCP, &dp.Payload)
	return dp
}

// IsTCP reports whether the last call to Decode found a TCP layer.
func (dp *DecodedPacket) IsTCP() bool {
	for _, lt := range dp.decoded {
		if lt == layers.LayerTypeTCP {
			return true
		}
	}
	return false
}

// Decode parses a single packet from raw byte data, trying Ethernet framing
// first and falling back to loopback.  data must not be modified while dp
// is in use.
func (dp *DecodedPacket) Decode(ci gopacket.CaptureInfo, data []byte) error {
	dp.Info = ci
	dp.FlowHash = 0
	dp.NetFlow = gopacket.Flow{}
	dp.Payload = dp.Payload[:0]
	parser := dp.ethParser
	err := parser.DecodeLayers(data, &dp.decoded)
	if !dp.IsTCP() {
		parser = dp.loParser
		err = parser.DecodeLayers(data, &dp.decoded)
	}
	for _, layer := range dp.decoded {
		switch layer {
		case layers.LayerTypeIPv4:
			dp.NetFlow = dp.ipv4.NetworkFlow()
		case layers.LayerTypeIPv6:
			dp.NetFlow = dp.ipv6.NetworkFlow()
		case layers.LayerTypeTCP:
			dp.FlowHash = hashCombine(dp.NetFlow.FastHash(), dp.TCP.TransportFlow().FastHash())
		}
	}
	if dp.IsTCP() {
		// the payload layer is absent for bare ACKs, which is not an error
		if _, ok := err.(gopacket.UnsupportedLayerType); ok {
			err = nil
		}
	}
	return err
}

// Truncated reports whether the last decoded packet was cut short by the
// snap length.
func (dp *DecodedPacket) Truncated() bool {
	return dp.ethParser.Truncated || dp.loParser.Truncated
}

// Handler is a user-provided function for processing a batch of packets.
// The batch is reused once the handler returns.
type Handler func(dps []*DecodedPacket)

// Stats contains runtime performance statistics for a Decoder.
type Stats struct {
	PacketsRead  int64
	PacketsTCP   int64
	DecodeErrors int64
}

// Decoder reads packets from a source and hands TCP packets to a Handler
// in batches.
type Decoder struct {
	logger        log.Logger
	handler       Handler
	batch         []*DecodedPacket
	largestPacket int

	read         atomic.Int64
	tcp          atomic.Int64
	decodeErrors atomic.Int64
}

// NewDecoder creates a Decoder delivering up to batchSize packets per call
// to handler.
func NewDecoder(logger log.Logger, batchSize int, handler Handler) *Decoder {
	d := &Decoder{
		logger:  logger,
		handler: handler,
		batch:   make([]*DecodedPacket, batchSize),
	}
	for i := range d.batch {
		d.batch[i] = NewDecodedPacket()
	}
	return d
}

// Run decodes packets from src until it is exhausted or ctx is done.  A
// partial batch is delivered whenever src has nothing to read.
func (d *Decoder) Run(ctx context.Context, src gopacket.PacketDataSource) error {
	var n int
	flush := func() {
		if n > 0 {
			d.handler(d.batch[:n])
			n = 0
		}
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, ci, err := src.ReadPacketData()
		switch err {
		case nil:
		case pcap.NextErrorTimeoutExpired:
			flush()
			continue
		case io.EOF:
			d.log("Reached EOF")
			return nil
		default:
			return err
		}
		d.read.Inc()

		dp := d.batch[n]
		if err = dp.Decode(ci, data); err != nil {
			d.decodeErrors.Inc()
			d.log("Error from DecodeLayers:", err)
		}
		if dp.Truncated() && ci.Length > d.largestPacket {
			d.log("Packet of length", ci.Length, "truncated. Consider increasing snaplen.")
			d.largestPacket = ci.Length
		}
		if !dp.IsTCP() {
			continue
		}
		d.tcp.Inc()
		n++
		if n == len(d.batch) {
			flush()
		}
	}
}

// Stats returns runtime statistics for a Decoder.  Stats is threadsafe.
func (d *Decoder) Stats() Stats {
	return Stats{
		PacketsRead:  d.read.Load(),
		PacketsTCP:   d.tcp.Load(),
		DecodeErrors: d.decodeErrors.Load(),
	}
}

func (d *Decoder) log(items ...interface{}) {
	if d.logger != nil {
		d.logger.Log(items...)
	}
}

// based on boost::hash_combine
// http://www.boost.org/doc/libs/1_63_0/boost/functional/hash/hash.hpp
func hashCombine(h, k uint64) uint64 {
	m := uint64(0xc6a4a7935bd1e995)
	r := uint64(47)

	k *= m
	k ^= k >> r
	k *= m

	h ^= k
	h *= m

	return h + 0xe6546b64
}
