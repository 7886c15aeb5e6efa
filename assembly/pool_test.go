package assembly

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/box/respsniff/decode"
	"github.com/box/respsniff/protocol/model"
	"github.com/box/respsniff/protocol/redis"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type testLogger struct {
	t *testing.T
}

func (tl testLogger) Log(items ...interface{}) {
	tl.t.Log(items...)
}

var (
	clientIP = net.IP{10, 0, 0, 1}
	serverIP = net.IP{10, 0, 0, 2}
)

const (
	clientPort = 50000
	serverPort = 6379
)

// segment builds a decoded TCP packet.  fromServer selects the direction.
func segment(t *testing.T, fromServer, syn bool, seq uint32, payload string) *decode.DecodedPacket {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    clientIP,
		DstIP:    serverIP,
	}
	tcp := &layers.TCP{
		SrcPort: clientPort,
		DstPort: serverPort,
		Seq:     seq,
		SYN:     syn,
		ACK:     !syn || fromServer,
		Window:  1024,
	}
	if fromServer {
		ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
		tcp.SrcPort, tcp.DstPort = tcp.DstPort, tcp.SrcPort
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatal(err)
	}

	dp := decode.NewDecodedPacket()
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), Length: len(buf.Bytes()), CaptureLength: len(buf.Bytes())}
	if err := dp.Decode(ci, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	return dp
}

type eventLog struct {
	sync.Mutex
	events   []model.Event
	messages []string
}

func (l *eventLog) handle(evt model.Event) {
	l.Lock()
	defer l.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) dump(conn string, dir model.Direction, m redis.Message) {
	l.Lock()
	defer l.Unlock()
	l.messages = append(l.messages, dir.String()+" "+redis.Format(m))
}

func TestConversation(t *testing.T) {
	var el eventLog
	p := New(testLogger{t}, Config{
		Ports:          []int{serverPort},
		BufferSize:     1024,
		Handler:        el.handle,
		MessageHandler: el.dump,
		Trace:          true,
	}, 2)

	req1 := "*1\r\n$4\r\nPI"
	p.HandlePackets([]*decode.DecodedPacket{
		segment(t, false, true, 100, ""),
		segment(t, true, true, 500, ""),
		segment(t, false, false, 101, req1),
		segment(t, false, false, 101+uint32(len(req1)), "NG\r\n"),
		segment(t, true, false, 501, "+PONG\r\n"),
	})
	p.Close()

	el.Lock()
	defer el.Unlock()
	expected := []model.Event{
		{Direction: model.DirectionRequest, Type: model.EventArray, Command: "PING", Size: 4},
		{Direction: model.DirectionResponse, Type: model.EventSimpleString, Size: 4},
	}
	if len(el.events) != len(expected) {
		t.Fatal(spew.Sdump(el.events))
	}
	for i := range expected {
		if el.events[i] != expected[i] {
			t.Error(i, spew.Sdump(el.events[i]))
		}
	}
	if len(el.messages) != 2 || el.messages[0] != `client [bulk "PING"]` || el.messages[1] != `server simple "PONG"` {
		t.Error(el.messages)
	}
	if s := p.Stats(); s.StreamsOpened != 2 || s.PacketsDropped != 0 {
		t.Errorf("%+v", s)
	}
}

func TestSrcPort(t *testing.T) {
	dp := segment(t, true, false, 1, "+OK\r\n")
	if port := srcPort(dp.TCP.TransportFlow()); port != serverPort {
		t.Error(port, serverPort)
	}
	sf := &streamFactory{config: Config{Ports: []int{serverPort}}}
	if !sf.isFromServer(dp.TCP.TransportFlow()) {
		t.Error("server segment classified as request")
	}
	if sf.isFromServer(dp.TCP.TransportFlow().Reverse()) {
		t.Error("client segment classified as response")
	}
}
