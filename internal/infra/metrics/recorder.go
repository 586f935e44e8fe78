// Package metrics records phase outcomes and executor attempts with the
// Prometheus client and exports them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// Phase outcomes
const (
	OutcomeSuccess = output.OutcomeSuccess
	OutcomeFailure = output.OutcomeFailure
	OutcomeSkipped = output.OutcomeSkipped
)

// Recorder owns a private registry so that several recorders can coexist in tests.
type Recorder struct {
	registry      *prometheus.Registry
	phaseTotal    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	attempts      *prometheus.CounterVec
	textfile      string
}

// NewRecorder creates a recorder. When textfile is non-empty Flush writes the
// collected series there.
func NewRecorder(textfile string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		phaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asw_phase_total",
			Help: "Phase executions by outcome.",
		}, []string{"phase", "outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asw_phase_duration_seconds",
			Help:    "Wall clock duration of phase executions.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"phase"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asw_executor_attempts_total",
			Help: "Agent executor attempts by retry classification.",
		}, []string{"classification"}),
		textfile: textfile,
	}
	r.registry.MustRegister(r.phaseTotal, r.phaseDuration, r.attempts)
	return r
}

// ObservePhase counts one phase execution and its duration
func (r *Recorder) ObservePhase(phase, outcome string, d time.Duration) {
	r.phaseTotal.WithLabelValues(phase, outcome).Inc()
	r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveAttempt counts one executor attempt. Successful attempts are
// classified NONE.
func (r *Recorder) ObserveAttempt(c execution.RetryClassification) {
	if c == "" {
		c = execution.RetryNone
	}
	r.attempts.WithLabelValues(c.String()).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Flush writes all series to the textfile. No-op without a textfile.
func (r *Recorder) Flush() error {
	if r.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.textfile), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
