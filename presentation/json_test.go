package presentation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/box/respsniff/analysis"
	"github.com/box/respsniff/protocol/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/tidwall/gjson"
)

type recorder struct {
	lines []string
}

func (r *recorder) Log(items ...interface{}) {
	for _, item := range items {
		r.lines = append(r.lines, item.(string))
	}
}

func TestFormatReportAsJSON(t *testing.T) {
	rep := analysis.Report{
		Timestamp:   time.Unix(1500000000, 0),
		KeyColNames: []string{"cmd"},
		ValColNames: []string{"sum(size)", "cnt(size)"},
		Rows: []analysis.ReportRow{
			{Key: []string{"GET"}, Values: []int64{300, 3}},
			{Key: []string{"SET"}, Values: []int64{20, 1}},
		},
	}
	b, err := formatReportAsJSON(rep, Stats{PacketsRead: 9})
	if err != nil {
		t.Fatal(err)
	}
	if !gjson.ValidBytes(b) {
		t.Fatal(string(b))
	}
	if ts := gjson.GetBytes(b, "ts").Int(); ts != 1500000000 {
		t.Error(ts, 1500000000)
	}
	if n := gjson.GetBytes(b, "stats.PacketsRead").Int(); n != 9 {
		t.Error(n, 9)
	}
	rows := gjson.GetBytes(b, "rows").Array()
	if len(rows) != 2 {
		t.Fatal(string(b))
	}
	first := rows[0].Map()
	if first["cmd"].String() != "GET" || first["sum(size)"].Int() != 300 || first["cnt(size)"].Int() != 3 {
		t.Error(spew.Sdump(first))
	}
	if cmd := rows[1].Get("cmd").String(); cmd != "SET" {
		t.Error(cmd, "SET")
	}
}

func TestReportColumnsKeepDescriptorOrder(t *testing.T) {
	rep := analysis.Report{
		KeyColNames: []string{"source", "cmd"},
		ValColNames: []string{"sum(size)", "cnt(size)", "p99.5"},
		Rows: []analysis.ReportRow{
			{Key: []string{"client", "GET"}, Values: []int64{1, 2, 3}},
		},
	}
	b, err := formatReportAsJSON(rep, Stats{})
	if err != nil {
		t.Fatal(err)
	}
	var cols []string
	gjson.GetBytes(b, "rows.0").ForEach(func(key, _ gjson.Result) bool {
		cols = append(cols, key.String())
		return true
	})
	expected := []string{"source", "cmd", "sum(size)", "cnt(size)", "p99.5"}
	if strings.Join(cols, " ") != strings.Join(expected, " ") {
		t.Error(cols, expected)
	}
}

func newPool(t *testing.T) *analysis.Pool {
	p, err := analysis.New(2, "cmd,cnt(size)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestFinalReportAtEndOfInput(t *testing.T) {
	pool := newPool(t)
	pool.HandleEvent(model.Event{Direction: model.DirectionRequest, Type: model.EventArray, Command: "GET", Size: 1})

	done := make(chan struct{})
	close(done)
	rec := &recorder{}
	ui := New(Config{
		Logger:   rec,
		Analysis: pool,
		Interval: time.Hour,
		Done:     done,
	})
	ui.Log("hello")
	if err := ui.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.lines) != 2 || rec.lines[0] != "hello" {
		t.Fatal(rec.lines)
	}
	if !strings.Contains(rec.lines[1], `"cmd":"GET"`) {
		t.Error(rec.lines[1])
	}
}

func TestReportFile(t *testing.T) {
	pool := newPool(t)
	path := filepath.Join(t.TempDir(), "report.log")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ui := New(Config{
		Analysis:   pool,
		Interval:   time.Hour,
		ReportFile: path,
	})
	for i := 0; i < 2; i++ {
		if err := ui.Run(ctx); err != nil {
			t.Fatal(err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(string(b)), "\n"); len(lines) != 2 {
		t.Error(lines)
	}
}

func TestSortBySelectedAggregate(t *testing.T) {
	u := &uiContext{sortAgg: 1}
	rep := analysis.Report{
		KeyColNames: []string{"cmd"},
		ValColNames: []string{"cnt(size)", "sum(size)"},
		Rows: []analysis.ReportRow{
			{Key: []string{"GET"}, Values: []int64{9, 10}},
			{Key: []string{"SET"}, Values: []int64{1, 500}},
		},
	}
	u.sortReport(&rep)
	if rep.Rows[0].Key[0] != "SET" {
		t.Error(spew.Sdump(rep.Rows))
	}
	u.sortAgg = 5
	u.sortReport(&rep)
	if rep.Rows[0].Key[0] != "SET" {
		t.Error("out of range column should leave order alone")
	}
}
