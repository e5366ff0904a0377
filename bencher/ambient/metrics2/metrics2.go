// Package metrics2 is a small counter/gauge facade over
// prometheus/client_golang, adapted from the teacher's go/metrics2
// package. Call sites ask for a named, tagged Counter or Gauge once and
// hold onto it; the underlying prometheus vector is created lazily and
// cached by the clean metric name plus sorted tag keys.
package metrics2

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter is a monotonically-increasing (or resettable) named metric.
type Counter interface {
	Inc(delta int64)
	Reset()
	Get() int64
}

// Float64Metric is a named gauge holding an arbitrary float64.
type Float64Metric interface {
	Update(v float64)
	Get() float64
}

type client struct {
	mu          sync.Mutex
	registerer  prometheus.Registerer
	counterVecs map[string]*prometheus.CounterVec
	counters    map[string]*counter
	gaugeVecs   map[string]*prometheus.GaugeVec
	gauges      map[string]*gauge
}

var defaultClient = newClient(prometheus.DefaultRegisterer)

func newClient(reg prometheus.Registerer) *client {
	return &client{
		registerer:  reg,
		counterVecs: map[string]*prometheus.CounterVec{},
		counters:    map[string]*counter{},
		gaugeVecs:   map[string]*prometheus.GaugeVec{},
		gauges:      map[string]*gauge{},
	}
}

// clean converts a dotted/dashed metric name into the underscore form
// Prometheus requires, matching the teacher's clean() helper.
func clean(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(name)
}

func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type counter struct {
	vec    *prometheus.CounterVec
	labels prometheus.Labels
	mu     sync.Mutex
	value  int64
}

func (c *counter) Inc(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
	c.vec.With(c.labels).Add(float64(delta))
}

func (c *counter) Reset() {
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
}

func (c *counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type gauge struct {
	vec    *prometheus.GaugeVec
	labels prometheus.Labels
	mu     sync.Mutex
	value  float64
}

func (g *gauge) Update(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
	g.vec.With(g.labels).Set(v)
}

func (g *gauge) Get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func vecKey(name string, keys []string) string {
	return name + " " + strings.Join(keys, ",")
}

func instanceKey(name string, tags map[string]string, keys []string) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(tags[k])
	}
	return sb.String()
}

func (c *client) getCounter(name string, tags map[string]string) *counter {
	name = clean(name)
	keys := sortedKeys(tags)
	vKey := vecKey(name, keys)
	iKey := instanceKey(name, tags, keys)

	c.mu.Lock()
	defer c.mu.Unlock()

	vec, ok := c.counterVecs[vKey]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		c.registerer.MustRegister(vec)
		c.counterVecs[vKey] = vec
	}
	if cnt, ok := c.counters[iKey]; ok {
		return cnt
	}
	cnt := &counter{vec: vec, labels: prometheus.Labels(tags)}
	c.counters[iKey] = cnt
	return cnt
}

func (c *client) getFloat64(name string, tags map[string]string) *gauge {
	name = clean(name)
	keys := sortedKeys(tags)
	vKey := vecKey(name, keys)
	iKey := instanceKey(name, tags, keys)

	c.mu.Lock()
	defer c.mu.Unlock()

	vec, ok := c.gaugeVecs[vKey]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
		c.registerer.MustRegister(vec)
		c.gaugeVecs[vKey] = vec
	}
	if g, ok := c.gauges[iKey]; ok {
		return g
	}
	g := &gauge{vec: vec, labels: prometheus.Labels(tags)}
	c.gauges[iKey] = g
	return g
}

// GetCounter returns the process-wide Counter for name+tags, creating it
// on first use.
func GetCounter(name string, tags map[string]string) Counter {
	return defaultClient.getCounter(name, tags)
}

// GetFloat64Metric returns the process-wide Float64Metric for name+tags,
// creating it on first use.
func GetFloat64Metric(name string, tags map[string]string) Float64Metric {
	return defaultClient.getFloat64(name, tags)
}

// Reset tears down the default client's registrations. Intended for test
// isolation between test functions that both register the same metric
// name against a fresh prometheus.Registry.
func Reset() {
	defaultClient = newClient(prometheus.NewRegistry())
}

// Handler serves the default registry's metrics in the Prometheus
// exposition format, for mounting on a scrape-only listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewForTesting returns an isolated client backed by a fresh
// prometheus.Registry, so tests can assert on counter values without
// colliding with other tests' metric names on the default registry.
func NewForTesting() *TestClient {
	return &TestClient{c: newClient(prometheus.NewRegistry())}
}

// TestClient mirrors the package-level functions but is scoped to its
// own registry.
type TestClient struct {
	c *client
}

func (t *TestClient) GetCounter(name string, tags map[string]string) Counter {
	return t.c.getCounter(name, tags)
}

func (t *TestClient) GetFloat64Metric(name string, tags map[string]string) Float64Metric {
	return t.c.getFloat64(name, tags)
}
