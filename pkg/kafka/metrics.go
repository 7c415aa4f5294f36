package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce       sync.Once
	metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

	producedTotal   *prometheus.CounterVec
	produceLatency  *prometheus.HistogramVec
	consumedTotal   *prometheus.CounterVec
	handleLatency   *prometheus.HistogramVec
	deadLetterTotal *prometheus.CounterVec
)

// SetMetricsRegisterer must be called before the first producer or consumer is built.
func SetMetricsRegisterer(reg prometheus.Registerer) {
	if reg != nil {
		metricsRegisterer = reg
	}
}

func initMetrics() {
	metricsOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		producedTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "fixedtime_kafka_produced_total",
			Help: "Messages written to Kafka by topic and result",
		}, []string{"topic", "result"})
		produceLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fixedtime_kafka_produce_seconds",
			Help:    "Kafka write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumedTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "fixedtime_kafka_consumed_total",
			Help: "Messages handled by topic and result",
		}, []string{"topic", "result"})
		handleLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fixedtime_kafka_handle_seconds",
			Help:    "Handler latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		deadLetterTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "fixedtime_kafka_dead_letter_total",
			Help: "Messages routed to the dead letter topic",
		}, []string{"topic"})
	})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func observeProduce(topic string, n int, dur time.Duration, err error) {
	producedTotal.WithLabelValues(topic, resultLabel(err)).Add(float64(n))
	produceLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
