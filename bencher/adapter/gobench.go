package adapter

import (
	"regexp"
	"strconv"

	"go.bencher.dev/core/bencher/units"
)

// goBenchLine matches `go test -bench` output:
//
//	BenchmarkFib-8    1000000    1234 ns/op    128 B/op    4 allocs/op
var goBenchLine = regexp.MustCompile(`^Benchmark(\S+?)(?:-\d+)?\s+\d+\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`)

// ParseGoBench parses `go test -bench` console output.
func ParseGoBench(raw string) ([]Iteration, error) {
	iter := Iteration{}
	for _, line := range splitLines(raw) {
		m := goBenchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if ns, err := strconv.ParseFloat(m[2], 64); err == nil {
			iter[name] = append(iter[name], Metric{MeasureSlug: "latency", Value: units.Value{Value: units.ToBase(ns, units.Nanoseconds)}})
		}
		if m[3] != "" {
			if b, err := strconv.ParseFloat(m[3], 64); err == nil {
				iter[name] = append(iter[name], Metric{MeasureSlug: "bytes-per-op", Value: units.Value{Value: b}})
			}
		}
		if m[4] != "" {
			if a, err := strconv.ParseFloat(m[4], 64); err == nil {
				iter[name] = append(iter[name], Metric{MeasureSlug: "allocs-per-op", Value: units.Value{Value: a}})
			}
		}
	}
	return finishSingleIteration(iter)
}
