// Package detector implements C6: given a historical sample and a new
// value, compute a central-tendency baseline and one- or two-sided
// boundary limits under a configured statistical test, grounded on
// gonum.org/v1/gonum/stat and stat/distuv the way the analytics
// packages of the pack fit trends and distributions over observed
// series.
package detector

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"go.bencher.dev/core/bencher/model"
)

// Params is a Model's test parameters, translated from model.Model's
// nullable boundary fields into the shape each test needs.
type Params struct {
	Test       model.Test
	LowerP     *float64 // Percentile/ZScore/TStudent/LogNormal lower percentile
	UpperP     *float64 // ... upper percentile
	Multiplier float64  // IQR/DeltaIQR multiplier
	LowerOn    bool      // IQR: compute a lower limit
	UpperOn    bool      // IQR: compute an upper limit
	StaticLow  float64  // StaticLower limit
	StaticHigh float64  // StaticUpper limit
}

// Detection is C6's contract output.
type Detection struct {
	Baseline   *float64
	LowerLimit *float64
	UpperLimit *float64
	Side       *model.Side
}

// skipped returns the zero Detection: no boundary is written.
func skipped() Detection { return Detection{} }

// Detect runs the test named in p against sample and classifies
// newValue. Per §4.6/§7, numerical failures are not errors: an empty
// sample or a non-finite input disables detection for every test, and
// ZScore, TStudent and LogNormal also skip a sample with fewer than two
// values or zero variance (DeltaIQR likewise needs two values). In each
// of those cases Detect returns a zero Detection.
func Detect(sample []float64, newValue float64, p Params) Detection {
	if len(sample) == 0 || !isFinite(newValue) {
		return skipped()
	}
	for _, v := range sample {
		if !isFinite(v) {
			return skipped()
		}
	}

	switch p.Test {
	case model.TestStaticLower:
		return staticLower(newValue, p.StaticLow, sample)
	case model.TestStaticUpper:
		return staticUpper(newValue, p.StaticHigh, sample)
	case model.TestPercentile:
		return percentileTest(sample, newValue, p.LowerP, p.UpperP)
	case model.TestZScore:
		return zscoreTest(sample, newValue, p.LowerP, p.UpperP)
	case model.TestTStudent:
		return tStudentTest(sample, newValue, p.LowerP, p.UpperP)
	case model.TestLogNormal:
		return logNormalTest(sample, newValue, p.LowerP, p.UpperP)
	case model.TestIQR:
		return iqrTest(sample, newValue, p.Multiplier, p.LowerOn, p.UpperOn)
	case model.TestDeltaIQR:
		return deltaIQRTest(sample, newValue, p.Multiplier)
	default:
		return skipped()
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func meanOf(sample []float64) *float64 {
	if len(sample) == 0 {
		return nil
	}
	m := stat.Mean(sample, nil)
	return &m
}

func sideFor(newValue float64, lower, upper *float64) *model.Side {
	if lower != nil && newValue < *lower {
		s := model.SideLeft
		return &s
	}
	if upper != nil && newValue > *upper {
		s := model.SideRight
		return &s
	}
	return nil
}

func staticLower(newValue, limit float64, sample []float64) Detection {
	l := limit
	return Detection{Baseline: meanOf(sample), LowerLimit: &l, Side: sideFor(newValue, &l, nil)}
}

func staticUpper(newValue, limit float64, sample []float64) Detection {
	u := limit
	return Detection{Baseline: meanOf(sample), UpperLimit: &u, Side: sideFor(newValue, nil, &u)}
}

// sortedCopy returns a sorted copy of sample, leaving the caller's
// slice (and its ordering contract from C5) untouched.
func sortedCopy(sample []float64) []float64 {
	out := make([]float64, len(sample))
	copy(out, sample)
	sort.Float64s(out)
	return out
}

// quantile computes the p-quantile of a sorted sample using linear
// interpolation between adjacent ranks (the R "type 7" method, matching
// §4.6's "linear interpolation between adjacent ranks").
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func percentileTest(sample []float64, newValue float64, lowerP, upperP *float64) Detection {
	if len(sample) == 0 {
		return skipped()
	}
	sorted := sortedCopy(sample)
	var lower, upper *float64
	if lowerP != nil {
		v := quantile(sorted, *lowerP)
		lower = &v
	}
	if upperP != nil {
		v := quantile(sorted, *upperP)
		upper = &v
	}
	median := quantile(sorted, 0.5)
	return Detection{Baseline: &median, LowerLimit: lower, UpperLimit: upper, Side: sideFor(newValue, lower, upper)}
}

// distributionTest fits a Normal to sample (or ln(sample) when log is
// true) and derives limits from its inverse CDF at lowerP/upperP,
// optionally using Student-t quantiles when useT is true.
func distributionTest(sample []float64, newValue float64, lowerP, upperP *float64, useT bool, log bool) Detection {
	n := len(sample)
	if n < 2 {
		return skipped()
	}
	values := sample
	if log {
		values = make([]float64, n)
		for i, v := range sample {
			if v <= 0 {
				return skipped()
			}
			values[i] = math.Log(v)
		}
		if newValue <= 0 {
			return skipped()
		}
	}

	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return skipped()
	}

	quantileFn := func(p float64) float64 {
		if useT {
			td := distuv.StudentsT{Mu: mean, Sigma: std, Nu: float64(n - 1)}
			return td.Quantile(p)
		}
		nd := distuv.Normal{Mu: mean, Sigma: std}
		return nd.Quantile(p)
	}

	var lower, upper *float64
	if lowerP != nil {
		v := quantileFn(*lowerP)
		if log {
			v = math.Exp(v)
		}
		lower = &v
	}
	if upperP != nil {
		v := quantileFn(*upperP)
		if log {
			v = math.Exp(v)
		}
		upper = &v
	}

	baseline := mean
	if log {
		baseline = math.Exp(mean)
	}
	// lower/upper are already back in original value space (exponentiated
	// when log), so compare against newValue, not its logarithm.
	return Detection{Baseline: &baseline, LowerLimit: lower, UpperLimit: upper, Side: sideFor(newValue, lower, upper)}
}

func zscoreTest(sample []float64, newValue float64, lowerP, upperP *float64) Detection {
	return distributionTest(sample, newValue, lowerP, upperP, false, false)
}

func tStudentTest(sample []float64, newValue float64, lowerP, upperP *float64) Detection {
	return distributionTest(sample, newValue, lowerP, upperP, true, false)
}

func logNormalTest(sample []float64, newValue float64, lowerP, upperP *float64) Detection {
	return distributionTest(sample, newValue, lowerP, upperP, false, true)
}

// quartiles returns q1, q2 (median), q3 of sorted via the same
// linear-interpolation quantile function used by Percentile.
func quartiles(sorted []float64) (q1, q2, q3 float64) {
	return quantile(sorted, 0.25), quantile(sorted, 0.5), quantile(sorted, 0.75)
}

func iqrTest(sample []float64, newValue float64, multiplier float64, lowerOn, upperOn bool) Detection {
	if len(sample) == 0 {
		return skipped()
	}
	sorted := sortedCopy(sample)
	q1, q2, q3 := quartiles(sorted)
	iqr := (q3 - q1) * multiplier

	var lower, upper *float64
	if lowerOn {
		v := q1 - iqr
		lower = &v
	}
	if upperOn {
		v := q3 + iqr
		upper = &v
	}
	baseline := q2
	return Detection{Baseline: &baseline, LowerLimit: lower, UpperLimit: upper, Side: sideFor(newValue, lower, upper)}
}

// percentChange is the signed percent change from a to b; used as the
// input series for DeltaIQR.
func percentChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / math.Abs(a) * 100
}

// deltaIQRTest computes IQR over the series of absolute percent-changes
// between adjacent sample values, then compares the absolute percent
// change from the sample's last value to newValue against that
// threshold (§4.6: "the resulting limit is a change threshold").
func deltaIQRTest(sample []float64, newValue float64, multiplier float64) Detection {
	if len(sample) < 2 {
		return skipped()
	}
	deltas := make([]float64, 0, len(sample)-1)
	for i := 1; i < len(sample); i++ {
		deltas = append(deltas, math.Abs(percentChange(sample[i-1], sample[i])))
	}
	sorted := sortedCopy(deltas)
	q1, q2, q3 := quartiles(sorted)
	iqr := (q3 - q1) * multiplier
	upperLimit := q3 + iqr

	lastValue := sample[len(sample)-1]
	change := math.Abs(percentChange(lastValue, newValue))

	baseline := q2
	d := Detection{Baseline: &baseline, UpperLimit: &upperLimit}
	if change > upperLimit {
		side := model.SideRight
		d.Side = &side
	}
	return d
}
