package adapter

import (
	"regexp"
	"strconv"

	"go.bencher.dev/core/bencher/units"
)

// jsBenchmarkLine matches benchmark.js's default console reporter:
//
//	fooBench x 1,234 ops/sec ±1.23% (90 runs sampled)
var jsBenchmarkLine = regexp.MustCompile(`^(\S.*?)\s+x\s+([\d,.]+)\s+ops/sec\s+±([\d.]+)%`)

// ParseJSBenchmark parses benchmark.js's console output.
func ParseJSBenchmark(raw string) ([]Iteration, error) {
	iter := Iteration{}
	for _, line := range splitLines(raw) {
		m := jsBenchmarkLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ops, err := strconv.ParseFloat(removeCommas(m[2]), 64)
		if err != nil {
			continue
		}
		iter[m[1]] = append(iter[m[1]], Metric{MeasureSlug: "throughput", Value: units.Value{Value: ops}})
	}
	return finishSingleIteration(iter)
}

// jsTimeLine matches a bare "name: value unit" line, the shape emitted
// by ad hoc `console.time`-style harnesses ("JS time" in §4.2).
var jsTimeLine = regexp.MustCompile(`^(\S.*?):\s+([\d.]+)\s*(ns|us|ms|s)\s*$`)

// ParseJSTime parses simple "name: value unit" timing output.
func ParseJSTime(raw string) ([]Iteration, error) {
	iter := Iteration{}
	for _, line := range splitLines(raw) {
		m := jsTimeLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		u, ok := units.Lookup(m[3])
		if !ok {
			continue
		}
		iter[m[1]] = append(iter[m[1]], Metric{MeasureSlug: "latency", Value: units.Value{Value: units.ToBase(value, u)}})
	}
	return finishSingleIteration(iter)
}

// rubyBenchmarkLine matches Ruby's Benchmark#bmbm report:
//
//	fooBench   1.234000   0.012000 (  1.246000)
var rubyBenchmarkLine = regexp.MustCompile(`^(\S.*?)\s+[\d.]+\s+[\d.]+\s*\(\s*([\d.]+)\)`)

// ParseRubyBenchmark parses Ruby's stdlib Benchmark module report. The
// parenthesized "real" column (wall-clock seconds) becomes the metric.
func ParseRubyBenchmark(raw string) ([]Iteration, error) {
	iter := Iteration{}
	for _, line := range splitLines(raw) {
		m := rubyBenchmarkLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		iter[m[1]] = append(iter[m[1]], Metric{MeasureSlug: "latency", Value: units.Value{Value: units.ToBase(value, units.Seconds)}})
	}
	return finishSingleIteration(iter)
}
