package useragent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики софтфона для Prometheus
type Metrics struct {
	registrationAttempts *prometheus.CounterVec
	registrationState    prometheus.Gauge
	callsTotal           *prometheus.CounterVec
	callsActive          prometheus.Gauge
	callDuration         prometheus.Histogram
}

// NewMetrics регистрирует метрики софтфона. При nil используется
// отдельный реестр, чтобы несколько агентов не конфликтовали.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		registrationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softagent",
			Subsystem: "registration",
			Name:      "attempts_total",
			Help:      "Количество попыток регистрации по результату",
		}, []string{"result"}),

		registrationState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "softagent",
			Subsystem: "registration",
			Name:      "state",
			Help:      "Текущее состояние регистрации (числовой код)",
		}),

		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softagent",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Количество звонков по результату завершения",
		}, []string{"result"}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "softagent",
			Subsystem: "calls",
			Name:      "active",
			Help:      "Количество активных звонков",
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "softagent",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Длительность звонков от приглашения до завершения",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
