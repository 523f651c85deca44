package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// OpMetric tracks counts and latencies for one kind of operation, such as
// handling a channel event or encoding a payload.
//
// It registers three metric sets:
//   - a counter named name, labelled "result" plus the given labels. Start
//     increments it with result="all"; Failed and Dropped add
//     result="failed" and result="dropped", and End adds result="ok" when
//     neither was called.
//   - a histogram name+"_seconds" with the given labels, observed by End
//     unless the op was marked Failed or Dropped.
//   - a gauge name+"_pending" with the given labels.
//
// Suggested usage:
//
//	op := handlerOps.Start("request-tuple-mode")
//	defer op.End()
//	if err != nil {
//	    op.Failed()
//	}
type OpMetric struct {
	counters  *prometheus.CounterVec
	latencies *prometheus.HistogramVec
	pending   *prometheus.GaugeVec
}

// NewOpMetric returns a new op metric registered with reg.
func NewOpMetric(reg prometheus.Registerer, name string, labels ...string) *OpMetric {
	labelsWithResult := append([]string{"result"}, labels...)
	m := &OpMetric{
		counters:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelsWithResult),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name + "_seconds"}, labels),
		pending:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name + "_pending"}, labels),
	}
	reg.MustRegister(m.counters, m.latencies, m.pending)
	return m
}

// Start marks that a new operation has started and begins measuring latency.
func (m *OpMetric) Start(values ...string) *Op {
	op := &Op{opm: m, values: values}
	op.count("all")
	op.start = time.Now()
	m.pending.WithLabelValues(values...).Inc()
	return op
}

// Count returns the counter value for result and the given label values.
func (m *OpMetric) Count(result string, values ...string) uint64 {
	valuesWithResult := append([]string{result}, values...)
	var value dto.Metric
	if m.counters.WithLabelValues(valuesWithResult...).Write(&value) != nil {
		return 0
	}
	return uint64(value.GetCounter().GetValue())
}

// Op is one in-flight operation.
type Op struct {
	start   time.Time
	opm     *OpMetric
	values  []string
	settled bool
}

// Failed records that the operation returned an error.
func (op *Op) Failed() {
	op.Result("failed")
}

// Dropped records that the operation was rejected before running.
func (op *Op) Dropped() {
	op.Result("dropped")
}

// Result records an arbitrary result. Latency is no longer recorded.
func (op *Op) Result(result string) {
	op.settled = true
	op.count(result)
}

// End records result="ok" and the elapsed time since Start unless a result
// was already recorded.
func (op *Op) End() {
	if !op.settled {
		op.count("ok")
		op.opm.latencies.WithLabelValues(op.values...).Observe(time.Since(op.start).Seconds())
	}
	op.opm.pending.WithLabelValues(op.values...).Dec()
}

func (op *Op) count(result string) {
	valuesWithResult := append([]string{result}, op.values...)
	op.opm.counters.WithLabelValues(valuesWithResult...).Inc()
}
