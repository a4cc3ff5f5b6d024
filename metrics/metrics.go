// Package metrics provides lazily created prometheus counters grouped by
// subsystem, exposed on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "trustlayer"

var (
	mu        sync.Mutex
	namespace = defaultNamespace
	registry  = prometheus.NewRegistry()
)

// Init resets the process registry under the given namespace and registers
// the Go runtime collectors.
func Init(ns string) (*prometheus.Registry, error) {
	mu.Lock()
	defer mu.Unlock()

	namespace = ns
	registry = prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return registry, nil
}

// Deinit drops every registered collector.
func Deinit() {
	mu.Lock()
	defer mu.Unlock()

	namespace = defaultNamespace
	registry = prometheus.NewRegistry()
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	mu.Lock()
	defer mu.Unlock()

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// MetricsRegistry hands out counters for one subsystem.
type MetricsRegistry struct {
	subsystem string
	registry  *prometheus.Registry
	namespace string

	lock     sync.Mutex
	counters map[string]prometheus.Counter
}

func NewMetricsRegistry(subsystem string) *MetricsRegistry {
	mu.Lock()
	defer mu.Unlock()

	return &MetricsRegistry{
		subsystem: subsystem,
		registry:  registry,
		namespace: namespace,
		counters:  make(map[string]prometheus.Counter),
	}
}

// Counter returns the counter called name, creating and registering it on
// first use. Like MustRegister it panics when name cannot be registered.
func (m *MetricsRegistry) Counter(name string) prometheus.Counter {
	m.lock.Lock()
	defer m.lock.Unlock()

	if c, ok := m.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name + "_total",
		Help:      "Number of " + name + " events.",
	})
	if err := m.registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
		c = are.ExistingCollector.(prometheus.Counter)
	}
	m.counters[name] = c
	return c
}
