package metrics

import (
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "crypto_tracker"
)

type Metrics struct {
	Registry *prometheus.Registry

	AlertChecks          prometheus.Counter
	AlertsTriggered      prometheus.Counter
	TicksSkipped         prometheus.Counter
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	UpstreamRequests     *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	ActiveAlerts         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		AlertChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "checks_total",
			Help:      "The total number of alert evaluation cycles",
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "The total number of alerts transitioned to triggered",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Scheduler ticks skipped because the previous one was still running",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price_cache",
			Name:      "hits_total",
			Help:      "Price lookups served from the cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price_cache",
			Name:      "misses_total",
			Help:      "Price lookups that required an upstream request",
		}),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Upstream quote requests by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "sent_total",
				Help:      "Notifications delivered per sink and result",
			},
			[]string{"sink", "result"},
		),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "active",
			Help:      "Number of active alerts seen by the last check",
		}),
	}

	m.Registry.MustRegister(
		m.AlertChecks,
		m.AlertsTriggered,
		m.TicksSkipped,
		m.CacheHits,
		m.CacheMisses,
		m.UpstreamRequests,
		m.NotificationsSent,
		m.NotificationsDropped,
		m.ActiveAlerts,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Store persists counter values between restarts. Labelled series are keyed
// by their label set encoded as a query string, e.g. "result=ok&sink=log".
type Store interface {
	SaveMetric(name string, value float64) error
	GetMetric(name string) (float64, error)
	SaveMetricWithLabels(name, labels string, value float64) error
	GetMetricsWithLabels(name string) (map[string]float64, error)
}

func (m *Metrics) persisted() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"alert_checks":          m.AlertChecks,
		"alerts_triggered":      m.AlertsTriggered,
		"ticks_skipped":         m.TicksSkipped,
		"cache_hits":            m.CacheHits,
		"cache_misses":          m.CacheMisses,
		"notifications_dropped": m.NotificationsDropped,
	}
}

func (m *Metrics) persistedWithLabels() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"upstream_requests":  m.UpstreamRequests,
		"notifications_sent": m.NotificationsSent,
	}
}

// Load adds the persisted counter values to the fresh collectors.
func (m *Metrics) Load(s Store) {
	for name, counter := range m.persisted() {
		value, err := s.GetMetric(name)
		if err != nil {
			log.Errorf("Failed to load metric %s: %v", name, err)
			continue
		}
		counter.Add(value)
	}
	for name, vec := range m.persistedWithLabels() {
		loadLabelledMetric(s, name, vec)
	}
	log.Debug("Metrics loaded from database.")
}

func loadLabelledMetric(s Store, name string, vec *prometheus.CounterVec) {
	series, err := s.GetMetricsWithLabels(name)
	if err != nil {
		log.Errorf("Failed to load metric %s: %v", name, err)
		return
	}
	for encoded, value := range series {
		values, err := url.ParseQuery(encoded)
		if err != nil {
			log.Warnf("Skipping metric %s with malformed labels %q: %v", name, encoded, err)
			continue
		}
		labels := prometheus.Labels{}
		for k := range values {
			labels[k] = values.Get(k)
		}
		counter, err := vec.GetMetricWith(labels)
		if err != nil {
			log.Warnf("Skipping metric %s with labels %q: %v", name, encoded, err)
			continue
		}
		counter.Add(value)
	}
}

func (m *Metrics) Save(s Store) {
	for name, counter := range m.persisted() {
		if err := s.SaveMetric(name, Value(counter)); err != nil {
			log.Errorf("Failed to save metric %s: %v", name, err)
		}
	}
	for name, vec := range m.persistedWithLabels() {
		saveLabelledMetric(s, name, vec)
	}
	log.Debug("Metrics saved to database.")
}

func saveLabelledMetric(s Store, name string, vec *prometheus.CounterVec) {
	metricChan := make(chan prometheus.Metric, 1)
	go func() {
		vec.Collect(metricChan)
		close(metricChan)
	}()

	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Errorf("Failed to read metric %s: %v", name, err)
			continue
		}
		labels := url.Values{}
		for _, label := range metricProto.GetLabel() {
			labels.Set(label.GetName(), label.GetValue())
		}
		if err := s.SaveMetricWithLabels(name, labels.Encode(), metricProto.GetCounter().GetValue()); err != nil {
			log.Errorf("Failed to save metric %s{%s}: %v", name, labels.Encode(), err)
		}
	}
}

// Value reads the current value of a single-metric collector.
func Value(metric prometheus.Collector) float64 {
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Errorf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		return metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		return metricProto.Gauge.GetValue()
	}
	return 0
}
