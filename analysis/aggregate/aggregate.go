// Package aggregate summarizes event fields per key.
package aggregate

import (
	"fmt"
	"math"
	"strconv"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Aggregator summarizes a set of integer data points to a single number.
type Aggregator interface {
	// Add records a single data point.
	Add(n int64)
	// Result returns the final output of aggregation.
	Result() int64
	// Reset returns the aggregator to its initial state.
	Reset()
}

// AggregatorFactory creates a new Aggregator initialized to zero.
type AggregatorFactory func() Aggregator

// maxTrackedSize is the largest payload tracked exactly by percentiles: the
// largest bulk string a Redis server accepts.
const maxTrackedSize = 512 * 1024 * 1024

// BadDescriptorError is returned when an aggregator descriptor is malformed
type BadDescriptorError string

func (b BadDescriptorError) Error() string {
	return fmt.Sprint("bad aggregate descriptor: ", string(b))
}

type statistic int

const (
	statCount statistic = iota
	statSum
	statMin
	statMax
	statMean
)

var statistics = map[string]statistic{
	"cnt":  statCount,
	"sum":  statSum,
	"min":  statMin,
	"max":  statMax,
	"avg":  statMean,
	"mean": statMean,
}

// Running keeps count, sum and extremes of the values it has seen and
// reports one of them. The mean is rounded toward zero; every statistic of
// an empty Running is 0.
type Running struct {
	stat     statistic
	count    int64
	sum      int64
	min, max int64
}

func (r *Running) Add(n int64) {
	if r.count == 0 || n < r.min {
		r.min = n
	}
	if r.count == 0 || n > r.max {
		r.max = n
	}
	r.count++
	r.sum += n
}

func (r *Running) Result() int64 {
	switch r.stat {
	case statCount:
		return r.count
	case statSum:
		return r.sum
	case statMin:
		return r.min
	case statMax:
		return r.max
	default:
		if r.count == 0 {
			return 0
		}
		return r.sum / r.count
	}
}

func (r *Running) Reset() {
	*r = Running{stat: r.stat}
}

// Percentile reports the value at quantile q of the values it has seen.
type Percentile struct {
	q    float64
	hist *hdrhistogram.Histogram
}

// NewPercentile tracks values in [1, maxValue] with three significant
// figures. quantile is in the range [0, 100].
func NewPercentile(quantile float64, maxValue int64) *Percentile {
	return &Percentile{q: quantile, hist: hdrhistogram.New(1, maxValue, 3)}
}

// Add clamps values beyond the trackable range to its upper bound.
func (p *Percentile) Add(n int64) {
	top := p.hist.HighestTrackableValue()
	if n > top {
		n = top
	}
	_ = p.hist.RecordValue(n)
}

// Result reports math.MaxInt64 when the quantile falls on the clamped bound,
// since the real value is unknown.
func (p *Percentile) Result() int64 {
	v := p.hist.ValueAtQuantile(p.q)
	if v >= p.hist.HighestTrackableValue() {
		return math.MaxInt64
	}
	return v
}

func (p *Percentile) Reset() {
	p.hist.Reset()
}

// IsValidAgg returns true if desc is a valid descriptor for an aggregator type.
func IsValidAgg(desc string) bool {
	_, err := NewFactoryFromDescriptor(desc)
	return err == nil
}

// NewFactoryFromDescriptor returns an AggregatorFactory that will create
// Aggregators based on desc: one of the running statistics or pNN.
func NewFactoryFromDescriptor(desc string) (AggregatorFactory, error) {
	if stat, ok := statistics[desc]; ok {
		return func() Aggregator { return &Running{stat: stat} }, nil
	}
	q, err := quantileOf(desc)
	if err != nil {
		return nil, err
	}
	return func() Aggregator { return NewPercentile(q, maxTrackedSize) }, nil
}

// quantileOf reads pNN descriptors. The first two digits are the integer
// part and any further digits are decimals: p50 is 50, p999 is 99.9.
func quantileOf(desc string) (float64, error) {
	if len(desc) < 3 || desc[0] != 'p' {
		return 0, BadDescriptorError(desc)
	}
	digits := desc[1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, BadDescriptorError(desc)
		}
	}
	num := digits[:2]
	if len(digits) > 2 {
		num += "." + digits[2:]
	}
	q, err := strconv.ParseFloat(num, 64)
	if err != nil || q > 100 {
		return 0, BadDescriptorError(desc)
	}
	return q, nil
}
