package metrics

import (
	"github.com/core-tools/hsu-renice/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "renice"

// Recorder counts reconciliation outcomes on a private registry. Nothing is
// served over the network; when a textfile path is set the registry is dumped
// there for the node exporter textfile collector.
type Recorder struct {
	registry *prometheus.Registry
	textfile string

	ticks         prometheus.Counter
	scanFailures  prometheus.Counter
	candidates    prometheus.Counter
	matched       prometheus.Counter
	applyFailures *prometheus.CounterVec
	cgroupsLive   prometheus.Gauge
}

func NewRecorder(textfile string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Reconciliation passes started.",
		}),
		scanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Passes that ended early because the process table was unusable.",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Threads examined.",
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_total",
			Help:      "Threads whose executable matched a rule.",
		}),
		applyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Policy aspects that could not be applied, by aspect.",
		}, []string{"aspect"}),
		cgroupsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cgroups_live",
			Help:      "Cgroups currently owned by the daemon.",
		}),
	}

	r.registry.MustRegister(r.ticks, r.scanFailures, r.candidates, r.matched, r.applyFailures, r.cgroupsLive)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) TickStarted() {
	r.ticks.Inc()
}

func (r *Recorder) ScanFailed() {
	r.scanFailures.Inc()
}

func (r *Recorder) Candidates(n int) {
	r.candidates.Add(float64(n))
}

func (r *Recorder) Matched(n int) {
	r.matched.Add(float64(n))
}

func (r *Recorder) ApplyFailed(aspect string) {
	if aspect == "" {
		aspect = "unknown"
	}
	r.applyFailures.WithLabelValues(aspect).Inc()
}

func (r *Recorder) CgroupsLive(n int) {
	r.cgroupsLive.Set(float64(n))
}

// Flush writes the registry to the textfile, if one is configured.
func (r *Recorder) Flush() error {
	if r.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return errors.NewInternalError("failed to write metrics textfile", err).WithContext("path", r.textfile)
	}
	return nil
}
