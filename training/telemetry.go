package training

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/npanj/spark/optimizer"
)

// PrometheusListener exports optimizer iterations as Prometheus metrics.
// Every series carries an "optimizer" label.
type PrometheusListener struct {
	iterations *prometheus.CounterVec
	loss       *prometheus.GaugeVec
	gradNorm   *prometheus.GaugeVec
	examples   *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusListener creates the collectors under namespace and registers
// them on reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusListener(namespace string, reg prometheus.Registerer) (*PrometheusListener, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"optimizer"}

	l := &PrometheusListener{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "iterations_total",
			Help:      "Completed optimizer iterations",
		}, labels),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "loss",
			Help:      "Regularized loss after the most recent iteration",
		}, labels),
		gradNorm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "gradient_norm",
			Help:      "L2 norm of the most recent gradient",
		}, labels),
		examples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "examples",
			Help:      "Records that contributed to the most recent gradient",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one optimizer iteration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, labels),
	}

	for _, c := range []prometheus.Collector{l.iterations, l.loss, l.gradNorm, l.examples, l.duration} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register training metrics")
		}
	}
	return l, nil
}

// OnIteration implements optimizer.Listener
func (l *PrometheusListener) OnIteration(e optimizer.IterationEvent) {
	name := e.Optimizer
	l.iterations.WithLabelValues(name).Inc()
	l.loss.WithLabelValues(name).Set(e.Loss)
	l.gradNorm.WithLabelValues(name).Set(e.GradNorm)
	l.examples.WithLabelValues(name).Set(float64(e.Examples))
	l.duration.WithLabelValues(name).Observe(e.Duration.Seconds())
}
