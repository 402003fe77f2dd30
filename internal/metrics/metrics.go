// Package metrics exposes Prometheus metrics for the trading core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	OrdersCanceled *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	RestingOrders  *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_placed_total",
			Help: "Orders accepted by the matching engine.",
		}, []string{"symbol", "side", "kind"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_rejected_total",
			Help: "Orders rejected before any mutation.",
		}, []string{"reason"}),
		OrdersCanceled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_canceled_total",
			Help: "Resident orders cancelled by their owner.",
		}, []string{"symbol"}),
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Executions produced by matching passes.",
		}, []string{"symbol"}),
		RestingOrders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_resting_orders",
			Help: "Orders currently resident in the book.",
		}, []string{"symbol"}),
	}
}

// Serve exposes /metrics on its own listener.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
