package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "home_secrets"

// Metrics records service outcomes in a dedicated Prometheus registry.
// It satisfies the observer interfaces of the secrets and googleoauth packages.
type Metrics struct {
	registry *prometheus.Registry

	secretLookups *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		secretLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_lookups_total",
			Help:      "Secret lookups by result.",
		}, []string{"result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "code_exchanges_total",
			Help:      "Authorization code exchanges by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "token_refreshes_total",
			Help:      "Refresh token grants by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
	}

	m.registry.MustRegister(
		m.secretLookups,
		m.exchanges,
		m.refreshes,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveSecretLookup(result string) {
	m.secretLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveExchange(result string) {
	m.exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

// InstrumentRoute counts requests served by next under the given route label.
func (m *Metrics) InstrumentRoute(route string) func(http.Handler) http.Handler {
	counter := m.requests.MustCurryWith(prometheus.Labels{"route": route})
	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(counter, next)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
