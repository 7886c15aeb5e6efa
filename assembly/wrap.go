package assembly

import (
	"fmt"

	"github.com/box/respsniff/log"
	"github.com/google/gopacket/tcpassembly"
)

// traced logs the shape of every reassembly before passing it on.
type traced struct {
	tcpassembly.Stream
	logger log.Logger
}

func (w traced) Reassembled(rs []tcpassembly.Reassembly) {
	w.logger.Log("reassembled", describe(rs))
	w.Stream.Reassembled(rs)
}

func (w traced) ReassemblyComplete() {
	w.logger.Log("reassembly complete")
	w.Stream.ReassemblyComplete()
}

func describe(rs []tcpassembly.Reassembly) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		if r.Skip != 0 {
			out[i] = fmt.Sprintf("(skip %d) %d", r.Skip, len(r.Bytes))
		} else {
			out[i] = fmt.Sprint(len(r.Bytes))
		}
	}
	return out
}
