package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		channelPhase,
		channelQueuedMessages,
		channelReconnects,
		channelCircuitOpens,
		channelHeartbeatResets,
	)
}

var (
	channelPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_channel_phase",
			Help: "Outbound channel state (0=disconnected, 1=connecting, 2=connected).",
		},
	)

	channelQueuedMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_channel_queued_messages",
			Help: "Messages held in the offline queue.",
		},
	)

	channelReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_channel_reconnects_total",
			Help: "Reconnect attempts made by the outbound channel.",
		},
	)

	channelCircuitOpens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_channel_circuit_opens_total",
			Help: "Times the connect circuit breaker opened.",
		},
	)

	channelHeartbeatResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_channel_heartbeat_resets_total",
			Help: "Connections dropped by the heartbeat watchdog.",
		},
	)
)

func SetChannelPhase(phase int) { channelPhase.Set(float64(phase)) }
func SetChannelQueued(n int)    { channelQueuedMessages.Set(float64(n)) }
func IncChannelReconnect()      { channelReconnects.Inc() }
func IncChannelCircuitOpen()    { channelCircuitOpens.Inc() }
func IncChannelHeartbeatReset() { channelHeartbeatResets.Inc() }
