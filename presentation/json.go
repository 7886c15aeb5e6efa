package presentation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/box/respsniff/analysis"
	"github.com/tidwall/sjson"
)

func (u *uiContext) runLoggingEventLoop(ctx context.Context) error {
	updateTick := time.NewTicker(u.Interval)
	defer updateTick.Stop()

	for {
		select {
		case <-updateTick.C:
			if err := u.updateReport(); err != nil {
				return err
			}

		case msg := <-u.msgChan:
			u.log(msg)

		case <-u.Done:
			u.drainMessages()
			return u.updateReport()

		case <-ctx.Done():
			u.drainMessages()
			return u.updateReport()
		}
	}
}

func (u *uiContext) drainMessages() {
	for {
		select {
		case msg := <-u.msgChan:
			u.log(msg)
		default:
			return
		}
	}
}

func (u *uiContext) updateReport() error {
	rep := u.report()
	u.prevReport = rep
	line, err := formatReportAsJSON(rep, u.StatProvider())
	if err != nil {
		return err
	}
	if u.ReportFile != "" {
		return reportWriter{u.ReportFile}.WriteLine(line)
	}
	u.log(string(line))
	return nil
}

func (u *uiContext) log(msg string) {
	if u.Logger != nil {
		u.Logger.Log(msg)
	}
}

// formatReportAsJSON renders a report as a single JSON object.  Row columns
// keep the order of the report descriptor.
func formatReportAsJSON(report analysis.Report, stats Stats) ([]byte, error) {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("formatting report: %w", err)
	}
	out := []byte(`{"rows":[]}`)
	out, err = sjson.SetBytes(out, "ts", report.Timestamp.UTC().Unix())
	if err == nil {
		out, err = sjson.SetBytes(out, "time", report.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	for _, row := range report.Rows {
		if err != nil {
			break
		}
		var r []byte
		r, err = formatRow(row, report.KeyColNames, report.ValColNames)
		if err == nil {
			out, err = sjson.SetRawBytes(out, "rows.-1", r)
		}
	}
	if err == nil {
		out, err = sjson.SetRawBytes(out, "stats", statsJSON)
	}
	if err != nil {
		return nil, fmt.Errorf("formatting report: %w", err)
	}
	return out, nil
}

func formatRow(row analysis.ReportRow, keyColNames []string, valueColNames []string) (out []byte, err error) {
	out = []byte(`{}`)
	for idx, keyCol := range keyColNames {
		if out, err = sjson.SetBytes(out, escapePath(keyCol), row.Key[idx]); err != nil {
			return nil, err
		}
	}
	for idx, valueCol := range valueColNames {
		if out, err = sjson.SetBytes(out, escapePath(valueCol), row.Values[idx]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
)

// escapePath quotes a column name for use as a single sjson path element.
func escapePath(name string) string {
	return pathEscaper.Replace(name)
}
