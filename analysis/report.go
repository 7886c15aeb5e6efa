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

package analysis

import (
	"sort"
	"time"
)

// ReportRow contains the aggregates for a single key.
type ReportRow struct {
	// values of the key fields, in the order of Report.KeyColNames
	Key []string
	// aggregate results, in the order of Report.ValColNames
	Values []int64
}

// Report represents activity submitted to a Pool since the last reset.
type Report struct {
	// when this report was generated
	Timestamp time.Time
	// names of the key fields, e.g. ["cmd"]
	KeyColNames []string
	// names of the aggregates, e.g. ["cnt(size)", "sum(size)"]
	ValColNames []string
	Rows        []ReportRow
}

// SortBy orders the rows by the given columns, most significant first.
// Columns are numbered from 1 across the key columns and then the value
// columns; a negative column sorts in descending order.  Key columns compare
// as strings and value columns as integers.
func (r Report) SortBy(cols ...int) {
	sort.SliceStable(r.Rows, func(i, j int) bool {
		for _, c := range cols {
			desc := c < 0
			if desc {
				c = -c
			}
			cmp := r.compare(r.Rows[i], r.Rows[j], c-1)
			if cmp == 0 {
				continue
			}
			return (cmp < 0) != desc
		}
		return false
	})
}

func (r Report) compare(a, b ReportRow, col int) int {
	if col < len(r.KeyColNames) {
		switch {
		case a.Key[col] < b.Key[col]:
			return -1
		case a.Key[col] > b.Key[col]:
			return 1
		}
		return 0
	}
	col -= len(r.KeyColNames)
	switch {
	case a.Values[col] < b.Values[col]:
		return -1
	case a.Values[col] > b.Values[col]:
		return 1
	}
	return 0
}

// Truncate keeps at most n rows.
func (r *Report) Truncate(n int) {
	if n >= 0 && len(r.Rows) > n {
		r.Rows = r.Rows[:n]
	}
}

// Report returns a summary of activity recorded in this Pool since the last
// call to Reset, sorted in descending order by the first aggregate.
//
// The returned report does not represent a consistent snapshot across
// workers, but each worker includes every event queued to it before the
// call.
//
// If shouldReset is true, each worker clears its aggregates as it reports
// them, so no event is counted in two successive reports.
func (p *Pool) Report(shouldReset bool) Report {
	rep := Report{
		Timestamp:   time.Now(),
		KeyColNames: p.kaf.KeyFields,
		ValColNames: p.kaf.AggFields,
	}
	for _, w := range p.workers {
		rep.Rows = append(rep.Rows, w.rows(shouldReset)...)
	}
	rep.SortBy(-(len(rep.KeyColNames) + 1))
	return rep
}
