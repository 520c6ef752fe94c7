// Package metrics implements the Execution Statistics readout (spec §6,
// "ExecutionStats") as a prometheus.Collector, so an embedding daemon can
// scrape one engine (or many) without the core depending on a scrape
// server of its own (grounded in moby-moby's and grafana-k6's own
// Collector implementations).
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wrtgo"

// ExecutionStats is the point-in-time readout named in spec §6.
type ExecutionStats struct {
	InstructionsExecuted uint64
	FuelConsumed         uint64
	PeakMemoryBytes      uint64
	FunctionCalls        uint64
	MaxCallDepth         uint32
	ExecutionTimeUs      uint64
}

// Recorder accumulates the counters behind ExecutionStats across one
// engine's lifetime. All updates are lock-free; Snapshot is a consistent
// read only in the sense that each field is individually atomic (matching
// spec 5's "no locks" discipline for the hot path).
type Recorder struct {
	label string

	instructionsExecuted atomic.Uint64
	fuelConsumed         atomic.Uint64
	peakMemoryBytes      atomic.Uint64
	functionCalls        atomic.Uint64
	maxCallDepth         atomic.Uint32
	executionTimeUs      atomic.Uint64

	instructionsDesc *prometheus.Desc
	fuelDesc         *prometheus.Desc
	peakMemoryDesc   *prometheus.Desc
	callsDesc        *prometheus.Desc
	depthDesc        *prometheus.Desc
	timeDesc         *prometheus.Desc
}

// NewRecorder constructs a Recorder; label identifies the engine instance
// in exported metric labels (e.g. the preset name).
func NewRecorder(label string) *Recorder {
	labels := []string{"engine"}
	return &Recorder{
		label: label,
		instructionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "instructions_executed_total"),
			"Instructions dispatched by the stackless engine", labels, nil),
		fuelDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fuel_consumed_total"),
			"Fuel units consumed", labels, nil),
		peakMemoryDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "peak_memory_bytes"),
			"Highest linear memory size observed, in bytes", labels, nil),
		callsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "function_calls_total"),
			"Function invocations dispatched", labels, nil),
		depthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "max_call_depth"),
			"Deepest frame stack observed", labels, nil),
		timeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "execution_time_microseconds_total"),
			"Cumulative wall-clock time spent executing", labels, nil),
	}
}

func (r *Recorder) AddInstructions(n uint64)      { r.instructionsExecuted.Add(n) }
func (r *Recorder) AddFuelConsumed(n uint64)      { r.fuelConsumed.Add(n) }
func (r *Recorder) AddFunctionCalls(n uint64)     { r.functionCalls.Add(n) }
func (r *Recorder) AddExecutionTimeUs(n uint64)   { r.executionTimeUs.Add(n) }

// ObservePeakMemory records cur as the new peak if it exceeds the
// previously recorded one.
func (r *Recorder) ObservePeakMemory(cur uint64) {
	for {
		prev := r.peakMemoryBytes.Load()
		if cur <= prev || r.peakMemoryBytes.CompareAndSwap(prev, cur) {
			return
		}
	}
}

// ObserveCallDepth records cur as the new max if it exceeds the previously
// recorded one.
func (r *Recorder) ObserveCallDepth(cur uint32) {
	for {
		prev := r.maxCallDepth.Load()
		if cur <= prev || r.maxCallDepth.CompareAndSwap(prev, cur) {
			return
		}
	}
}

// Snapshot returns the current readout (spec §6, "ExecutionStats").
func (r *Recorder) Snapshot() ExecutionStats {
	return ExecutionStats{
		InstructionsExecuted: r.instructionsExecuted.Load(),
		FuelConsumed:         r.fuelConsumed.Load(),
		PeakMemoryBytes:      r.peakMemoryBytes.Load(),
		FunctionCalls:        r.functionCalls.Load(),
		MaxCallDepth:         r.maxCallDepth.Load(),
		ExecutionTimeUs:      r.executionTimeUs.Load(),
	}
}

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.instructionsDesc
	ch <- r.fuelDesc
	ch <- r.peakMemoryDesc
	ch <- r.callsDesc
	ch <- r.depthDesc
	ch <- r.timeDesc
}

// Collect implements prometheus.Collector.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	s := r.Snapshot()
	ch <- prometheus.MustNewConstMetric(r.instructionsDesc, prometheus.CounterValue, float64(s.InstructionsExecuted), r.label)
	ch <- prometheus.MustNewConstMetric(r.fuelDesc, prometheus.CounterValue, float64(s.FuelConsumed), r.label)
	ch <- prometheus.MustNewConstMetric(r.peakMemoryDesc, prometheus.GaugeValue, float64(s.PeakMemoryBytes), r.label)
	ch <- prometheus.MustNewConstMetric(r.callsDesc, prometheus.CounterValue, float64(s.FunctionCalls), r.label)
	ch <- prometheus.MustNewConstMetric(r.depthDesc, prometheus.GaugeValue, float64(s.MaxCallDepth), r.label)
	ch <- prometheus.MustNewConstMetric(r.timeDesc, prometheus.CounterValue, float64(s.ExecutionTimeUs), r.label)
}
