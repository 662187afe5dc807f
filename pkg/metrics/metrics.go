// Package metrics defines the telemetry contract the bucket list engine
// calls into. Telemetry itself is an external collaborator (spec
// non-scope); the engine only ever depends on this interface.
package metrics

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Noop discards everything. Used where no Collector is wired.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string, float64)      {}
func (Noop) SetGauge(string, map[string]string, float64)        {}
func (Noop) ObserveHistogram(string, map[string]string, float64) {}
