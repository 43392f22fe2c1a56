// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts completed control ticks by result.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridpilot",
		Name:      "ticks_total",
		Help:      "Completed control ticks by result (ok or error).",
	}, []string{"result"})

	// TickErrors counts tick failures by error kind.
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridpilot",
		Name:      "tick_errors_total",
		Help:      "Tick failures by error kind.",
	}, []string{"kind"})

	// ConsecutiveErrors tracks the current run of failed ticks.
	ConsecutiveErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridpilot",
		Name:      "consecutive_tick_errors",
		Help:      "Current run of consecutive failed ticks.",
	})

	// DecisionsTotal counts decisions by battery action.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridpilot",
		Name:      "decisions_total",
		Help:      "Decisions made by battery action.",
	}, []string{"action"})

	// ActionsApplied counts battery actions actually sent to the hub.
	ActionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridpilot",
		Name:      "actions_applied_total",
		Help:      "Battery actions applied to the hub by action.",
	}, []string{"action"})

	// LoadsShed tracks how many devices are currently shed.
	LoadsShed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridpilot",
		Name:      "loads_shed",
		Help:      "Devices currently shed by the load manager.",
	})

	// LastTickTimestamp is the unix time of the last completed tick.
	LastTickTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridpilot",
		Name:      "last_tick_timestamp_seconds",
		Help:      "Unix time of the last completed tick.",
	})

	// BatterySOC mirrors the last reported state of charge.
	BatterySOC = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridpilot",
		Name:      "battery_soc_percent",
		Help:      "Battery state of charge from the last telemetry read.",
	})

	// PricePercentile mirrors the last decision's price percentile.
	PricePercentile = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridpilot",
		Name:      "price_percentile",
		Help:      "Price percentile rank from the last decision.",
	})
)
