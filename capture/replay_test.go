package capture

import (
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
)

type testSource struct {
	pd []gopacket.CaptureInfo
}

func (s *testSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if len(s.pd) == 0 {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	ci := s.pd[0]
	s.pd = s.pd[1:]
	return []byte{0}, ci, nil
}

func (s *testSource) Stats() (Stats, error) {
	return Stats{}, nil
}

func (s *testSource) Close() {}

func (s *testSource) AddPacket(t time.Time) {
	s.pd = append(s.pd, gopacket.CaptureInfo{Timestamp: t, CaptureLength: 1, Length: 1})
}

// fakeClock advances only when the replayer sleeps.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func TestPacing(t *testing.T) {
	start := time.Time{}.Add(time.Hour)
	ts := &testSource{}
	ts.AddPacket(start)
	ts.AddPacket(start.Add(40 * time.Millisecond))
	ts.AddPacket(start.Add(40 * time.Millisecond))

	clock := &fakeClock{t: time.Unix(1000, 0)}
	uut := newReplayer(ts)
	uut.now = clock.now
	uut.sleep = clock.sleep

	for i := 0; i < 3; i++ {
		if _, _, err := uut.ReadPacketData(); err != nil {
			t.Fatal(i, err)
		}
	}
	if len(clock.slept) != 1 || clock.slept[0] != 40*time.Millisecond {
		t.Error(clock.slept)
	}
	if _, _, err := uut.ReadPacketData(); err != io.EOF {
		t.Error(err)
	}
	if s, _ := uut.Stats(); s.PacketsReceived != 3 {
		t.Error(s.PacketsReceived, 3)
	}
}

func TestNoSleepWhenBehind(t *testing.T) {
	start := time.Time{}.Add(time.Hour)
	ts := &testSource{}
	ts.AddPacket(start)
	ts.AddPacket(start.Add(time.Millisecond))

	clock := &fakeClock{t: time.Unix(1000, 0)}
	uut := newReplayer(ts)
	uut.now = clock.now
	uut.sleep = clock.sleep

	_, _, _ = uut.ReadPacketData()
	clock.t = clock.t.Add(time.Second)
	_, _, _ = uut.ReadPacketData()
	if len(clock.slept) != 0 {
		t.Error(clock.slept)
	}
}

func TestPortFilter(t *testing.T) {
	if f := PortFilter([]int{6379, 7000}); f != "tcp port 6379 or tcp port 7000" {
		t.Error(f)
	}
}

func TestAmbiguousSource(t *testing.T) {
	if _, err := New(Options{Interface: "lo", File: "x.pcap"}); err != ErrAmbiguousSource {
		t.Error(err)
	}
	if _, err := New(Options{}); err != ErrNoSource {
		t.Error(err)
	}
}
