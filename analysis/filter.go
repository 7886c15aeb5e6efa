package analysis

import (
	"regexp"

	"github.com/box/respsniff/protocol/model"
	"go.uber.org/atomic"
)

// commandFilter selects events by command name.  Patterns match case
// insensitively.  Events without a command, such as replies, never match a
// pattern.  The zero value passes everything.
type commandFilter struct {
	re atomic.Value
}

// compiled wraps the current pattern so that a nil one can be stored.
type compiled struct {
	re *regexp.Regexp
}

func (f *commandFilter) filterEvents(evts []model.Event) []model.Event {
	c, _ := f.re.Load().(compiled)
	if c.re == nil {
		return evts
	}

	kept := evts[:0:0]
	for _, e := range evts {
		if e.Command != "" && c.re.MatchString(e.Command) {
			kept = append(kept, e)
		}
	}
	return kept
}

// setPattern replaces the current pattern.  An empty pattern passes every
// event.  An invalid one is rejected and the previous pattern stays in effect.
func (f *commandFilter) setPattern(pattern string) error {
	if pattern == "" {
		f.re.Store(compiled{})
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return err
	}
	f.re.Store(compiled{re})
	return nil
}
