package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cloud_display"

var (
	// Commands counts the read protocol commands by tag name.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "The number of read protocol commands.",
	}, []string{"tag"})

	// Units counts the media units sent by the encoder or played by the player.
	Units = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_total",
		Help:      "The number of processed media units.",
	}, []string{"kind"})

	Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_total",
		Help:      "The number of dropped media units.",
	}, []string{"kind"})

	Sessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "The number of started viewport sessions.",
	})

	Queued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "The number of packets waiting in a queue.",
	}, []string{"kind"})
)
