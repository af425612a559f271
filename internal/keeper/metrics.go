package keeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики бота ликвидаций
// ============================================================

// MonitoredTargets - позиции под наблюдением
var MonitoredTargets = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "keeper",
		Name:      "monitored_targets",
		Help:      "Number of positions monitored by the liquidation bot",
	},
)

// BatchItems - исходы элементов батча (liquidated, skipped, failed)
var BatchItems = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "keeper",
		Name:      "batch_items_total",
		Help:      "Liquidation batch items by outcome",
	},
	[]string{"outcome"},
)

// Batches - запуски батчей (ok, rejected, payout_failed)
var Batches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "keeper",
		Name:      "batches_total",
		Help:      "Liquidation batches by result",
	},
	[]string{"result"},
)

// RewardsPaid - вознаграждения, выплаченные кипером
var RewardsPaid = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "keeper",
		Name:      "rewards_paid_total",
		Help:      "Total liquidation rewards forwarded to keepers",
	},
)
