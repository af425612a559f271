package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// SourceFailures - отброшенные котировки по источникам и причинам
var SourceFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "oracle",
		Name:      "source_failures_total",
		Help:      "Price observations rejected by the aggregator",
	},
	[]string{"source", "reason"}, // error, invalid, stale, low_confidence, deviation
)

// AggregatedPrice - последняя принятая агрегированная цена
var AggregatedPrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "oracle",
		Name:      "aggregated_price",
		Help:      "Last accepted aggregated price per symbol",
	},
	[]string{"symbol"},
)

// RecordSourceFailure записывает отброшенную котировку
func RecordSourceFailure(source, reason string) {
	SourceFailures.WithLabelValues(source, reason).Inc()
}

// RecordAggregatedPrice обновляет gauge цены
func RecordAggregatedPrice(symbol string, price decimal.Decimal) {
	AggregatedPrice.WithLabelValues(symbol).Set(price.InexactFloat64())
}
