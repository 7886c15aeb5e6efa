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

package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"go.uber.org/atomic"
)

// replayer throttles results from a PacketSource according to the Timestamp
// accompanying each packet.  It is most useful for recreating the input rate
// of a previously captured pcap file.
type replayer struct {
	PacketSource
	// The wall time that the first packet was returned.
	start time.Time
	// The timestamp of the first packet returned from src, usually
	// the first packet in a capture file.
	first time.Time
	// The number of packets returned to the user.  Used by Stats, which
	// may be called concurrently with ReadPacketData.
	received atomic.Int64

	now   func() time.Time
	sleep func(time.Duration)
}

func newReplayer(src PacketSource) *replayer {
	return &replayer{
		PacketSource: src,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// ReadPacketData returns the next packet no earlier than its original offset
// from the first packet.
func (r *replayer) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = r.PacketSource.ReadPacketData()
	if err != nil {
		return
	}
	if r.start.IsZero() {
		r.start = r.now()
		r.first = ci.Timestamp
	}
	offset := ci.Timestamp.Sub(r.first)
	if wait := offset - r.now().Sub(r.start); wait > 0 {
		r.sleep(wait)
	}
	r.received.Inc()
	return
}

// Stats reports packets replayed so far.  Files have no kernel counters.
func (r *replayer) Stats() (Stats, error) {
	return Stats{PacketsReceived: int(r.received.Load())}, nil
}

func (r *replayer) String() string {
	return fmt.Sprintf("{first=%v received=%v}", r.first, r.received.Load())
}
