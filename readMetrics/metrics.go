//Package readMetrics exports prometheus metrics about context construction and data reads
package readMetrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mwaSuite/obsErrors"
)

const namespace = "mwa"

//Metrics is safe for concurrent use. All methods are no-ops on a nil *Metrics
type Metrics struct {
	reads        *prometheus.CounterVec
	readSeconds  *prometheus.HistogramVec
	readBytes    *prometheus.CounterVec
	probedFiles  prometheus.Counter
	probeSeconds prometheus.Histogram
}

//New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Number of read calls by operation and outcome",
		}, []string{"op", "outcome"}),
		readSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Duration of successful read calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
		readBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Bytes delivered into caller buffers",
		}, []string{"op"}),
		probedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probed_files_total",
			Help:      "Number of data file headers probed while building contexts",
		}),
		probeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of probing all data file headers of a context",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.reads, m.readSeconds, m.readBytes, m.probedFiles, m.probeSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector : %v", err)
		}
	}
	return m, nil
}

//Outcome returns the label value used for the result err of a read
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch obsErrors.KindOf(err) {
	case obsErrors.KindNoData:
		return "no_data"
	case obsErrors.KindRange:
		return "range"
	case obsErrors.KindIO:
		return "io"
	default:
		return "error"
	}
}

//ObserveRead records a read of op that started at start, delivered bytes and returned err
func (m *Metrics) ObserveRead(op string, start time.Time, bytes int, err error) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(op, Outcome(err)).Inc()
	if err != nil {
		return
	}
	m.readSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.readBytes.WithLabelValues(op).Add(float64(bytes))
}

//ObserveProbe records that files headers were probed in d
func (m *Metrics) ObserveProbe(files int, d time.Duration) {
	if m == nil {
		return
	}
	m.probedFiles.Add(float64(files))
	m.probeSeconds.Observe(d.Seconds())
}
