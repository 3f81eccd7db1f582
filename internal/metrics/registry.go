// Package metrics exposes prometheus collectors for the engine, the HTTP API
// and the ESI client. Every Record/Observe function is a no-op until Init runs.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evetrade"

var (
	mu sync.RWMutex

	// Registry is the process registry; nil while metrics are disabled.
	Registry *prometheus.Registry

	engine *EngineCollector
	api    *APICollector
	esi    *ESICollector
)

// Init creates the registry and registers every collector. Calling it again
// replaces the previous registry.
func Init() error {
	reg := prometheus.NewRegistry()
	eng := NewEngineCollector()
	a := NewAPICollector()
	e := NewESICollector()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	cs = append(cs, eng.collectors()...)
	cs = append(cs, a.collectors()...)
	cs = append(cs, e.collectors()...)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	mu.Lock()
	Registry, engine, api, esi = reg, eng, a, e
	mu.Unlock()
	return nil
}

// Disable drops the registry; recording becomes a no-op again.
func Disable() {
	mu.Lock()
	Registry, engine, api, esi = nil, nil, nil, nil
	mu.Unlock()
}

// IsEnabled reports whether Init has run.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return Registry != nil
}

// Handler serves the registry in the prometheus text format. It returns 404
// while metrics are disabled.
func Handler() http.Handler {
	mu.RLock()
	reg := Registry
	mu.RUnlock()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func engineCollector() *EngineCollector {
	mu.RLock()
	defer mu.RUnlock()
	return engine
}

func apiCollector() *APICollector {
	mu.RLock()
	defer mu.RUnlock()
	return api
}

func esiCollector() *ESICollector {
	mu.RLock()
	defer mu.RUnlock()
	return esi
}
