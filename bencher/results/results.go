// Package results implements C3: folding/averaging the adapter's raw
// iteration array down to normalized (benchmark, measure, Metric)
// triples, plus the ignore-suffix rule from §3/§4.2.
package results

import (
	"sort"
	"strings"

	"go.bencher.dev/core/bencher/adapter"
	"go.bencher.dev/core/bencher/units"
)

// Average selects which sample statistic becomes a metric's value when
// an adapter's native output is distributional.
type Average string

const (
	AverageNone   Average = ""
	AverageMean   Average = "mean"
	AverageMedian Average = "median"
)

// Fold collapses multiple iterations of the same benchmark+measure down
// to one, across the adapter's reported iterations.
type Fold string

const (
	FoldNone   Fold = ""
	FoldMin    Fold = "min"
	FoldMax    Fold = "max"
	FoldMean   Fold = "mean"
	FoldMedian Fold = "median"
	FoldSum    Fold = "sum"
)

// Settings mirrors §4.2's adapter settings.
type Settings struct {
	Average Average
	Fold    Fold
}

// ignoreSuffixes are the recognized markers stripped from a benchmark
// name (§3). Per §9's resolved ambiguity, the stripped remainder is
// always treated as a name, never a slug.
var ignoreSuffixes = []string{"_bencher_ignore", "BencherIgnore", "-bencher-ignore"}

// NormalizedBenchmark is one resolved-name benchmark's metrics for a
// single output iteration.
type NormalizedBenchmark struct {
	Name    string
	Ignored bool
	Metrics map[string]units.Value // measure slug -> Value
}

// NormalizedIteration is one report iteration's worth of normalized
// benchmarks.
type NormalizedIteration []NormalizedBenchmark

// Normalize applies fold (across the adapter's iterations) and average
// (across each resulting Metric's distributional bounds) to an
// adapter's raw output, then applies the ignore-suffix rule.
//
// When settings.Fold is set, all adapter iterations collapse into one;
// otherwise each adapter iteration maps to one output iteration.
func Normalize(iterations []adapter.Iteration, settings Settings) ([]NormalizedIteration, error) {
	if settings.Fold != FoldNone {
		folded, err := foldAcrossIterations(iterations, settings.Fold)
		if err != nil {
			return nil, err
		}
		if folded == nil {
			return nil, nil
		}
		iterations = []adapter.Iteration{folded}
	}

	out := make([]NormalizedIteration, 0, len(iterations))
	for _, it := range iterations {
		normalized, err := normalizeOne(it, settings.Average)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeOne(it adapter.Iteration, average Average) (NormalizedIteration, error) {
	names := sortedKeys(it)
	out := make(NormalizedIteration, 0, len(names))
	for _, name := range names {
		baseName, ignored := stripIgnoreSuffix(name)
		metrics := map[string]units.Value{}
		for _, m := range it[name] {
			v, ok, err := applyAverage(m.Value, average)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			metrics[m.MeasureSlug] = v
		}
		if len(metrics) == 0 {
			continue
		}
		out = append(out, NormalizedBenchmark{Name: baseName, Ignored: ignored, Metrics: metrics})
	}
	return out, nil
}

// applyAverage selects which of value's fields becomes the metric's
// value. AverageNone leaves the adapter's native value untouched.
// AverageMean requires a value already representing a mean (criterion
// and most other adapters report a mean/center value as Value); when
// the adapter's output has no lower/upper samples to derive a genuine
// median from (the common case), a Median request yields no result,
// per Testable Property 3.
func applyAverage(v units.Value, average Average) (units.Value, bool, error) {
	switch average {
	case AverageNone, AverageMean:
		return v, true, nil
	case AverageMedian:
		if v.LowerValue == nil || v.UpperValue == nil {
			return units.Value{}, false, nil
		}
		median := (*v.LowerValue + *v.UpperValue) / 2
		return units.Value{Value: median}, true, nil
	default:
		return units.Value{}, false, nil
	}
}

// foldAcrossIterations collapses every adapter iteration's per-
// (benchmark,measure) values into a single iteration using fold's
// aggregate.
func foldAcrossIterations(iterations []adapter.Iteration, fold Fold) (adapter.Iteration, error) {
	collected := map[string]map[string][]float64{}
	for _, it := range iterations {
		for name, metrics := range it {
			if collected[name] == nil {
				collected[name] = map[string][]float64{}
			}
			for _, m := range metrics {
				collected[name][m.MeasureSlug] = append(collected[name][m.MeasureSlug], m.Value.Value)
			}
		}
	}
	if len(collected) == 0 {
		return nil, nil
	}
	out := adapter.Iteration{}
	for name, byMeasure := range collected {
		for measure, values := range byMeasure {
			v, ok := foldValues(values, fold)
			if !ok {
				continue
			}
			out[name] = append(out[name], adapter.Metric{MeasureSlug: measure, Value: units.Value{Value: v}})
		}
	}
	return out, nil
}

func foldValues(values []float64, fold Fold) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	switch fold {
	case FoldMin:
		return sorted[0], true
	case FoldMax:
		return sorted[len(sorted)-1], true
	case FoldSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, true
	case FoldMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), true
	case FoldMedian:
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2], true
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2, true
	default:
		return 0, false
	}
}

func sortedKeys(m adapter.Iteration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stripIgnoreSuffix strips a recognized ignore suffix from name and
// reports whether one was found.
func stripIgnoreSuffix(name string) (string, bool) {
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return name, false
}
