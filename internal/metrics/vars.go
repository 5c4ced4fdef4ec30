package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	NetEdge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prembot_net_edge_fraction",
		Help: "Latest cost-adjusted edge per asset and direction",
	}, []string{"asset", "direction"})

	ConversionRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prembot_krw_per_usdt",
		Help: "Settlement conversion rate from the reference pair",
	})

	ActiveSagas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prembot_active_sagas",
		Help: "Sagas currently in flight",
	})

	SagasTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prembot_sagas_total",
		Help: "Finished sagas by terminal state",
	}, []string{"state"})

	RealizedPnL = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prembot_realized_pnl_krw_total",
		Help: "Cumulative realized PnL in KRW (gains only; see losses)",
	})

	RealizedLoss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prembot_realized_loss_krw_total",
		Help: "Cumulative realized loss in KRW",
	})

	DailyVolume = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prembot_daily_volume_krw",
		Help: "Notional admitted today in KRW",
	})

	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prembot_admission_rejections_total",
		Help: "Opportunities rejected at admission",
	}, []string{"reason"})

	BookFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prembot_book_fetch_errors_total",
		Help: "Orderbook fetch failures per asset",
	}, []string{"asset"})

	Halted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prembot_halted",
		Help: "1 while the emergency stop-loss halt is engaged",
	})

	SagaDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prembot_saga_duration_seconds",
		Help:    "Wall time from saga start to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(
		NetEdge,
		ConversionRate,
		ActiveSagas,
		SagasTotal,
		RealizedPnL,
		RealizedLoss,
		DailyVolume,
		Rejections,
		BookFetchErrors,
		Halted,
		SagaDuration,
	)
}
