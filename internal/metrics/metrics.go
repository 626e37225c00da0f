package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueSize      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "battle_queue_size", Help: "players waiting for an opponent"})
	RoomsActive    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "battle_rooms_active", Help: "rooms currently registered"})
	MatchesTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "battle_matches_total", Help: "total rooms formed"})
	FramesRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "battle_frames_rejected_total", Help: "inbound frames dropped as malformed"})

	LinkerConnected  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "battle_linker_connected", Help: "1 while the linker connection is up"})
	LinkerDropped    = prometheus.NewCounter(prometheus.CounterOpts{Name: "battle_linker_dropped_total", Help: "forwards dropped while the linker was unreachable"})
	LinkerReconnects = prometheus.NewCounter(prometheus.CounterOpts{Name: "battle_linker_reconnects_total", Help: "linker reconnect attempts"})
	LinkerInstances  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "battle_linker_instances", Help: "instances attached to this linker host"})
)

func Init() {
	prometheus.MustRegister(QueueSize, RoomsActive, MatchesTotal, FramesRejected,
		LinkerConnected, LinkerDropped, LinkerReconnects, LinkerInstances)
}
