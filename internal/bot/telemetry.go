// Package bot metrics, registered once at process start and served by the
// control plane at /metrics in Prometheus text exposition format.
//
// Series exposed:
//   - tradekar_decisions_total{signal}        strategy decisions (buy|sell|hold)
//   - tradekar_orders_total{mode,side}        orders placed (mode: paper|live)
//   - tradekar_order_failures_total{kind}     rejected/failed placements by error kind
//   - tradekar_equity_inr                     latest account equity snapshot
//   - tradekar_ticks_total                    supervisor ticks completed
//   - tradekar_tick_duration_seconds          full-tick latency histogram
//   - tradekar_activities_total{kind}         activities added to the ring
//   - tradekar_http_requests_total{method,status} control-plane traffic
package bot

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekar_decisions_total",
			Help: "Strategy decisions taken",
		},
		[]string{"signal"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekar_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode", "side"},
	)

	mtxOrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekar_order_failures_total",
			Help: "Order placements refused or failed, by error kind",
		},
		[]string{"kind"},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradekar_equity_inr",
			Help: "Account equity in INR",
		},
	)

	mtxTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekar_ticks_total",
			Help: "Supervisor ticks completed",
		},
	)

	mtxTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradekar_tick_duration_seconds",
			Help:    "Wall-clock duration of one full supervisor tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		},
	)

	mtxActivities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekar_activities_total",
			Help: "Activities added to the ring",
		},
		[]string{"kind"},
	)

	mtxHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekar_http_requests_total",
			Help: "Control-plane HTTP requests",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxOrders, mtxOrderFailures)
	prometheus.MustRegister(mtxEquity, mtxTicks, mtxTickDuration)
	prometheus.MustRegister(mtxActivities, mtxHTTPRequests)
}

// Setters, exported for the packages that own the corresponding events.

func CountDecision(signal string)  { mtxDecisions.WithLabelValues(signal).Inc() }
func CountOrder(mode, side string) { mtxOrders.WithLabelValues(mode, side).Inc() }
func CountOrderFailure(kind string) {
	mtxOrderFailures.WithLabelValues(kind).Inc()
}
func SetEquity(inr float64) { mtxEquity.Set(inr) }
func CountTick(seconds float64) {
	mtxTicks.Inc()
	mtxTickDuration.Observe(seconds)
}
func CountActivity(kind string) { mtxActivities.WithLabelValues(kind).Inc() }
func CountHTTP(method, status string) {
	mtxHTTPRequests.WithLabelValues(method, status).Inc()
}
