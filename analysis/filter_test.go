package analysis

import (
	"testing"

	"github.com/box/respsniff/protocol/model"
)

func TestZeroFilterPassesAll(t *testing.T) {
	f := &commandFilter{}
	if !match(f, "GET") || !match(f, "") {
		t.Fail()
	}
}

func TestPatternMatchesSubstring(t *testing.T) {
	f := &commandFilter{}
	_ = f.setPattern("SET")
	if !match(f, "HSETNX") {
		t.Fail()
	}
	if match(f, "GET") {
		t.Fail()
	}
}

func TestPatternIgnoresCase(t *testing.T) {
	f := &commandFilter{}
	_ = f.setPattern("^get$")
	if !match(f, "GET") {
		t.Fail()
	}
	if match(f, "GETEX") {
		t.Fail()
	}
}

func TestPatternExcludesReplies(t *testing.T) {
	f := &commandFilter{}
	_ = f.setPattern(".*")
	if match(f, "") {
		t.Error("replies should not match a command pattern")
	}
}

func TestEmptyPatternClearsFilter(t *testing.T) {
	f := &commandFilter{}
	_ = f.setPattern("GET")
	_ = f.setPattern("")
	if !match(f, "DEL") {
		t.Fail()
	}
}

func TestInvalidPatternKeepsPrevious(t *testing.T) {
	f := &commandFilter{}
	if err := f.setPattern("[abc"); err == nil {
		t.Error("did not return error for invalid regex")
	}
	if !match(f, "PING") {
		t.Error("invalid first pattern should leave the filter open")
	}
	_ = f.setPattern("^DEL$")
	if err := f.setPattern("(oops"); err == nil {
		t.Error("did not return error for invalid regex")
	}
	if match(f, "PING") || !match(f, "DEL") {
		t.Error("invalid pattern replaced the previous one")
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	f := &commandFilter{}
	_ = f.setPattern("^(GET|SET)$")
	evts := []model.Event{{Command: "GET", Size: 1}, {Command: "DEL"}, {}, {Command: "SET", Size: 2}}
	kept := f.filterEvents(evts)
	if len(kept) != 2 || kept[0].Size != 1 || kept[1].Size != 2 {
		t.Error(kept)
	}
	// the input slice is left untouched
	if evts[1].Command != "DEL" {
		t.Error(evts)
	}
}

func match(f *commandFilter, cmd string) bool {
	return len(f.filterEvents([]model.Event{{Command: cmd}})) == 1
}
