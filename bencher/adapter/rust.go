package adapter

import (
	"regexp"
	"strconv"

	"go.bencher.dev/core/bencher/units"
)

// rustBenchLine matches the legacy `cargo bench` libtest format:
//
//	test bench_foo ... bench:      1,234 ns/iter (+/- 56)
var rustBenchLine = regexp.MustCompile(`^test\s+(\S+)\s+\.\.\.\s+bench:\s+([\d,]+)\s+ns/iter(?:\s+\(\+/-\s*([\d,]+)\))?`)

// ParseRustBench parses `cargo bench` (libtest harness) output.
func ParseRustBench(raw string) ([]Iteration, error) {
	iter := Iteration{}
	for _, line := range splitLines(raw) {
		m := rustBenchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		value, err := strconv.ParseFloat(removeCommas(m[2]), 64)
		if err != nil {
			continue
		}
		iter[name] = append(iter[name], Metric{
			MeasureSlug: "latency",
			Value:       units.Value{Value: units.ToBase(value, units.Nanoseconds)},
		})
	}
	return finishSingleIteration(iter)
}

// criterionTimeLine matches criterion's latency summary line:
//
//	foo/bar                time:   [1.0234 ms 1.0345 ms 1.0456 ms]
var criterionTimeLine = regexp.MustCompile(`^(\S.*?)\s+time:\s+\[([\d.]+)\s+(\S+)\s+([\d.]+)\s+(\S+)\s+([\d.]+)\s+(\S+)\]`)

// criterionThrptLine matches criterion's optional throughput line,
// which immediately follows a time line for the same benchmark:
//
//	                        thrpt:  [956.67 Kelem/s 966.67 Kelem/s 976.67 Kelem/s]
var criterionThrptLine = regexp.MustCompile(`^\s*thrpt:\s+\[([\d.]+)\s+(\S+)\s+([\d.]+)\s+(\S+)\s+([\d.]+)\s+(\S+)\]`)

// ParseRustCriterion parses criterion's human-readable console output.
// Per the design note's open question, both latency and throughput are
// preserved when both appear, rather than the source's ambiguous
// best-effort throughput handling.
func ParseRustCriterion(raw string) ([]Iteration, error) {
	iter := Iteration{}
	lines := splitLines(raw)
	var lastName string
	for _, line := range lines {
		if m := criterionTimeLine.FindStringSubmatch(line); m != nil {
			name := m[1]
			lastName = name
			lo, okLo := unitValue(m[2], m[3])
			mid, okMid := unitValue(m[4], m[5])
			hi, okHi := unitValue(m[6], m[7])
			if !okMid {
				continue
			}
			v := units.Value{Value: mid}
			if okLo {
				lv := lo
				v.LowerValue = &lv
			}
			if okHi {
				uv := hi
				v.UpperValue = &uv
			}
			iter[name] = append(iter[name], Metric{MeasureSlug: "latency", Value: v})
			continue
		}
		if m := criterionThrptLine.FindStringSubmatch(line); m != nil && lastName != "" {
			lo, okLo := unitValue(m[1], m[2])
			mid, okMid := unitValue(m[3], m[4])
			hi, okHi := unitValue(m[5], m[6])
			if !okMid {
				continue
			}
			v := units.Value{Value: mid}
			if okLo {
				lv := lo
				v.LowerValue = &lv
			}
			if okHi {
				uv := hi
				v.UpperValue = &uv
			}
			iter[lastName] = append(iter[lastName], Metric{MeasureSlug: "throughput", Value: v})
		}
	}
	return finishSingleIteration(iter)
}

// unitValue converts a numeric literal plus a criterion-style unit
// suffix ("ms", "elem/s", "Kelem/s", "MiB/s", ...) into the measure's
// base unit (nanoseconds for time, events/s for throughput), via the
// units table. An unrecognized suffix passes the value through
// unscaled rather than failing the whole parse (§4.2: adapters are
// best-effort).
func unitValue(numStr, unitStr string) (float64, bool) {
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	if u, ok := units.Lookup(unitStr); ok {
		return units.ToBase(n, u), true
	}
	return n, true
}

var iaiHeaderLine = regexp.MustCompile(`^([A-Za-z_][\w:]*)\s*$`)
var iaiMetricLine = regexp.MustCompile(`^\s*(Instructions|L1 Accesses|L2 Accesses|RAM Accesses|Estimated Cycles):\s*([\d,]+)`)

var iaiMeasureSlugs = map[string]string{
	"Instructions":      "instructions",
	"L1 Accesses":       "l1-accesses",
	"L2 Accesses":       "l2-accesses",
	"RAM Accesses":      "ram-accesses",
	"Estimated Cycles":  "estimated-cycles",
}

// ParseRustIai parses iai / iai-callgrind's deterministic
// instruction/cache-counter output. These counts carry no sample
// bounds (the measurement is exact, not sampled).
func ParseRustIai(raw string) ([]Iteration, error) {
	iter := Iteration{}
	var current string
	for _, line := range splitLines(raw) {
		if m := iaiMetricLine.FindStringSubmatch(line); m != nil && current != "" {
			value, err := strconv.ParseFloat(removeCommas(m[2]), 64)
			if err != nil {
				continue
			}
			slug := iaiMeasureSlugs[m[1]]
			iter[current] = append(iter[current], Metric{MeasureSlug: slug, Value: units.Value{Value: value}})
			continue
		}
		if m := iaiHeaderLine.FindStringSubmatch(line); m != nil {
			current = m[1]
		}
	}
	return finishSingleIteration(iter)
}
