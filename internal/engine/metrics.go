package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// ============================================================
// Prometheus метрики движка
// ============================================================

// ============ Латентность ============

// OperationLatency - время выполнения изменяющих операций
var OperationLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "operation_latency_ms",
		Help:      "Latency of state-mutating engine operations in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"op", "result"},
)

// ============ Позиции ============

// PositionsOpened - открытые позиции
var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "positions_opened_total",
		Help:      "Total number of opened positions",
	},
	[]string{"symbol", "side"},
)

// PositionsClosed - закрытые позиции
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "positions_closed_total",
		Help:      "Total number of closed positions",
	},
	[]string{"symbol", "reason"}, // close, liquidation
)

// OpenInterest - открытый интерес по сторонам
var OpenInterest = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "open_interest",
		Help:      "Open interest per market and side",
	},
	[]string{"symbol", "side"},
)

// FundingRate - текущая ставка фандинга (bp)
var FundingRate = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "funding_rate_bps",
		Help:      "Current funding rate in basis points",
	},
	[]string{"symbol"},
)

// ============ Ликвидации ============

// Liquidations - выполненные ликвидации
var Liquidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "liquidation",
		Name:      "executed_total",
		Help:      "Executed liquidations",
	},
	[]string{"symbol", "kind"}, // partial, full
)

// LiquidationRewards - выплаченные награды ликвидаторам
var LiquidationRewards = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "liquidation",
		Name:      "rewards_total",
		Help:      "Total liquidation rewards paid",
	},
)

// LiquidationsThrottled - ликвидации, отклонённые circuit breaker'ом
var LiquidationsThrottled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "liquidation",
		Name:      "throttled_total",
		Help:      "Liquidations rejected by the per-market cascade limiter",
	},
	[]string{"symbol"},
)

// BadDebt - непокрытый дефицит полных ликвидаций
var BadDebt = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "liquidation",
		Name:      "bad_debt_total",
		Help:      "Deficit of full liquidations filed to the insurance fund",
	},
	[]string{"symbol"},
)

// ============ Безопасность ============

// ReentrancyBlocked - заблокированные повторные входы
var ReentrancyBlocked = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "engine",
		Name:      "reentrancy_blocked_total",
		Help:      "Reentrant calls rejected by the guard",
	},
	[]string{"op"},
)

// RiskTransitions - переходы статуса риска позиций
var RiskTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "risk",
		Name:      "status_transitions_total",
		Help:      "Position risk status transitions",
	},
	[]string{"from", "to"},
)

// ============ Helper функции ============

// RecordOperation записывает латентность операции
func RecordOperation(op string, err error, latencyMs float64) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationLatency.WithLabelValues(op, result).Observe(latencyMs)
}

// RecordOpenInterest обновляет gauge открытого интереса
func RecordOpenInterest(symbol string, long, short decimal.Decimal) {
	OpenInterest.WithLabelValues(symbol, "long").Set(long.InexactFloat64())
	OpenInterest.WithLabelValues(symbol, "short").Set(short.InexactFloat64())
}

// RecordLiquidation записывает ликвидацию и награду
func RecordLiquidation(symbol string, full bool, reward decimal.Decimal) {
	kind := "partial"
	if full {
		kind = "full"
	}
	Liquidations.WithLabelValues(symbol, kind).Inc()
	LiquidationRewards.Add(reward.InexactFloat64())
}

// RecordReentrancyBlocked записывает заблокированный повторный вход
func RecordReentrancyBlocked(op string) {
	ReentrancyBlocked.WithLabelValues(op).Inc()
}
