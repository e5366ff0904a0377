package adapter

import (
	"encoding/json"

	"go.bencher.dev/core/bencher/units"
)

type jmhEntry struct {
	Benchmark     string `json:"benchmark"`
	PrimaryMetric struct {
		Score           float64   `json:"score"`
		ScoreUnit       string    `json:"scoreUnit"`
		ScoreConfidence []float64 `json:"scoreConfidence"`
	} `json:"primaryMetric"`
}

// ParseJavaJMH parses JMH's `-rf json` output: an array of benchmark
// result objects, each with a primaryMetric.score plus an optional
// confidence interval used as lower/upper bounds.
func ParseJavaJMH(raw string) ([]Iteration, error) {
	var entries []jmhEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, nil
	}
	iter := Iteration{}
	for _, e := range entries {
		v := units.Value{Value: e.PrimaryMetric.Score}
		if len(e.PrimaryMetric.ScoreConfidence) == 2 {
			lo, hi := e.PrimaryMetric.ScoreConfidence[0], e.PrimaryMetric.ScoreConfidence[1]
			v.LowerValue, v.UpperValue = &lo, &hi
		}
		iter[e.Benchmark] = append(iter[e.Benchmark], Metric{MeasureSlug: "latency", Value: v})
	}
	return finishSingleIteration(iter)
}

type googleBenchFile struct {
	Benchmarks []struct {
		Name     string  `json:"name"`
		RealTime float64 `json:"real_time"`
		TimeUnit string  `json:"time_unit"`
	} `json:"benchmarks"`
}

// ParseCppGoogleBench parses Google Benchmark's `--benchmark_format=json`
// output.
func ParseCppGoogleBench(raw string) ([]Iteration, error) {
	var file googleBenchFile
	if err := json.Unmarshal([]byte(raw), &file); err != nil {
		return nil, nil
	}
	iter := Iteration{}
	for _, b := range file.Benchmarks {
		value := b.RealTime
		if u, ok := units.Lookup(b.TimeUnit); ok {
			value = units.ToBase(value, u)
		}
		iter[b.Name] = append(iter[b.Name], Metric{MeasureSlug: "latency", Value: units.Value{Value: value}})
	}
	return finishSingleIteration(iter)
}

type pytestBenchmarkFile struct {
	Benchmarks []struct {
		Name  string `json:"name"`
		Stats struct {
			Mean float64 `json:"mean"`
			Min  float64 `json:"min"`
			Max  float64 `json:"max"`
		} `json:"stats"`
	} `json:"benchmarks"`
}

// ParsePythonPytest parses pytest-benchmark's `--benchmark-json` output.
// Stats are reported in seconds; Min/Max become the sample bounds.
func ParsePythonPytest(raw string) ([]Iteration, error) {
	var file pytestBenchmarkFile
	if err := json.Unmarshal([]byte(raw), &file); err != nil {
		return nil, nil
	}
	iter := Iteration{}
	for _, b := range file.Benchmarks {
		lo := units.ToBase(b.Stats.Min, units.Seconds)
		hi := units.ToBase(b.Stats.Max, units.Seconds)
		v := units.Value{Value: units.ToBase(b.Stats.Mean, units.Seconds), LowerValue: &lo, UpperValue: &hi}
		iter[b.Name] = append(iter[b.Name], Metric{MeasureSlug: "latency", Value: v})
	}
	return finishSingleIteration(iter)
}

// ParsePythonASV parses airspeed velocity's results JSON: a map of
// benchmark name to a [mean, ...samples] array, as emitted by
// `asv run --output-commit-results`.
func ParsePythonASV(raw string) ([]Iteration, error) {
	var file struct {
		Results map[string][]float64 `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &file); err != nil {
		return nil, nil
	}
	iter := Iteration{}
	for name, samples := range file.Results {
		if len(samples) == 0 {
			continue
		}
		iter[name] = append(iter[name], Metric{MeasureSlug: "latency", Value: units.Value{Value: units.ToBase(samples[0], units.Seconds)}})
	}
	return finishSingleIteration(iter)
}

type hyperfineFile struct {
	Results []struct {
		Command string  `json:"command"`
		Mean    float64 `json:"mean"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
	} `json:"results"`
}

// ParseShellHyperfine parses hyperfine's `--export-json` output. Times
// are in seconds.
func ParseShellHyperfine(raw string) ([]Iteration, error) {
	var file hyperfineFile
	if err := json.Unmarshal([]byte(raw), &file); err != nil {
		return nil, nil
	}
	iter := Iteration{}
	for _, r := range file.Results {
		lo := units.ToBase(r.Min, units.Seconds)
		hi := units.ToBase(r.Max, units.Seconds)
		v := units.Value{Value: units.ToBase(r.Mean, units.Seconds), LowerValue: &lo, UpperValue: &hi}
		iter[r.Command] = append(iter[r.Command], Metric{MeasureSlug: "latency", Value: v})
	}
	return finishSingleIteration(iter)
}
