package insurance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики страхового фонда
// ============================================================

// Balance - текущий баланс фонда
var Balance = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "insurance",
		Name:      "balance",
		Help:      "Current insurance fund balance",
	},
)

// TotalContributions - сумма взносов с учётом возвратов
var TotalContributions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "insurance",
		Name:      "contributions",
		Help:      "Total contributions net of refunds",
	},
)

// Claims - переходы заявок по статусам
var Claims = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "insurance",
		Name:      "claims_total",
		Help:      "Insurance claims by resulting status",
	},
	[]string{"status"},
)

// ClaimPayouts - выплачено по заявкам
var ClaimPayouts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "insurance",
		Name:      "claim_payouts_total",
		Help:      "Total amount paid out on claims",
	},
)

// RewardsDistributed - выплачено вознаграждений участникам
var RewardsDistributed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "insurance",
		Name:      "rewards_distributed_total",
		Help:      "Total rewards distributed to contributors",
	},
)
