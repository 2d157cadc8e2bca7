package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "medreminder_"

	ResultHandled   = "handled"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

var (
	registerOnce sync.Once

	timerFires         *prometheus.CounterVec
	doseTransitions    *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	caregiverAlerts    *prometheus.CounterVec
	timersArmed        *prometheus.CounterVec
)

// Init creates the collectors and registers them with reg. Safe to call more than once.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		timerFires = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timer_fires_total",
				Help: "Fired timers by kind and handling result",
			},
			[]string{"kind", "result"},
		)
		doseTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dose_transitions_total",
				Help: "Dose status transitions by target status",
			},
			[]string{"status"},
		)
		sideEffectFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "side_effect_failures_total",
				Help: "Failed notification, speech, vibration and caregiver deliveries",
			},
			[]string{"effect"},
		)
		caregiverAlerts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "caregiver_alerts_total",
				Help: "Caregiver alerts raised for missed doses",
			},
			[]string{"critical"},
		)
		timersArmed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timers_armed_total",
				Help: "Timers armed by kind",
			},
			[]string{"kind"},
		)

		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(timerFires, doseTransitions, sideEffectFailures, caregiverAlerts, timersArmed)
	})
}

// ObserveTimerFire counts one delivered timer.
func ObserveTimerFire(kind, result string) {
	if result == "" {
		result = ResultHandled
	}
	if timerFires != nil {
		timerFires.WithLabelValues(kind, result).Inc()
	}
}

// IncTransition counts a persisted status change.
func IncTransition(status string) {
	if doseTransitions != nil {
		doseTransitions.WithLabelValues(status).Inc()
	}
}

// IncSideEffectFailure counts a side effect that returned an error.
func IncSideEffectFailure(effect string) {
	if effect == "" {
		effect = "unknown"
	}
	if sideEffectFailures != nil {
		sideEffectFailures.WithLabelValues(effect).Inc()
	}
}

func IncCaregiverAlert(critical bool) {
	label := "false"
	if critical {
		label = "true"
	}
	if caregiverAlerts != nil {
		caregiverAlerts.WithLabelValues(label).Inc()
	}
}

func IncTimerArmed(kind string) {
	if timersArmed != nil {
		timersArmed.WithLabelValues(kind).Inc()
	}
}
