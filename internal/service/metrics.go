package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished - события, принятые в очередь журнала
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events accepted into the journal queue",
	}, []string{"type"})

	// EventsDropped - события, не поместившиеся ни в очередь, ни в резерв
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because both the journal queue and backlog were full",
	})

	// EventBacklog - события в резервном списке
	EventBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpetual",
		Subsystem: "events",
		Name:      "backlog",
		Help:      "Events spilled past the full journal queue",
	})

	// EventsPersistFailures - ошибки записи в журнал и зеркало позиций
	EventsPersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpetual",
		Subsystem: "events",
		Name:      "persist_failures_total",
		Help:      "Failed journal or mirror writes",
	}, []string{"target"})
)
