package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_samples_total",
		Help: "Total location samples delivered while sharing was active.",
	})

	writeFailTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_write_fail_total",
		Help: "Best-effort persistence writes that failed, by target.",
	}, []string{"target", "op"})

	staleWriteDropTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stale_write_drop_total",
		Help: "Writes dropped because a newer write for the same key was already applied.",
	})

	rosterReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_roster_reload_total",
		Help: "Roster reloads grouped by the source that served them.",
	}, []string{"source"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_alerts_total",
		Help: "Emergency alert dispatch attempts grouped by outcome.",
	}, []string{"result"})
)
