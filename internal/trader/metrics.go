package trader

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_price_ticks_total",
			Help: "Price ticks consumed, split by source (stream|poll)",
		},
		[]string{"source"},
	)

	mtxDroppedTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_dropped_ticks_total",
			Help: "Price ticks dropped because the monitor lagged",
		},
	)

	mtxSignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Stock pick signals received",
		},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders accepted by the broker, split by side and pricing",
		},
		[]string{"side", "type"},
	)

	mtxOrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_failures_total",
			Help: "Order attempts that failed or were rejected",
		},
		[]string{"side"},
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position closes split by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks,
		mtxDroppedTicks,
		mtxSignals,
		mtxOrders,
		mtxOrderFailures,
		mtxExitReasons,
	)
}
