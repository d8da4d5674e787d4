package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bossim/venue/internal/fixml"
)

// Metrics holds the venue's Prometheus instruments. Each server owns
// its own registry so tests can run several venues in one process.
type Metrics struct {
	registry *prometheus.Registry

	OrdersTotal     prometheus.Counter
	ExecutionsTotal prometheus.Counter
	TicksTotal      prometheus.Counter
	RejectsTotal    prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "venue_orders_total",
			Help: "Total number of accepted order requests",
		}),
		ExecutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "venue_executions_total",
			Help: "Total number of simulated fills",
		}),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "venue_price_ticks_total",
			Help: "Total number of published price ticks",
		}),
		RejectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "venue_rejects_total",
			Help: "Total number of business message rejects sent",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "venue_active_sessions",
			Help: "Number of authenticated sessions",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnExecutionReport counts simulated fills. Satisfies the order
// manager's listener interface.
func (m *Metrics) OnExecutionReport(username string, rpt *fixml.ExecutionReport) {
	if rpt.ExecType == fixml.ExecTypeTransaction {
		m.ExecutionsTotal.Inc()
	}
}

// OnPriceUpdate counts published ticks. Satisfies the market data
// manager's price listener interface.
func (m *Metrics) OnPriceUpdate(symbol string, price float64) {
	m.TicksTotal.Inc()
}
