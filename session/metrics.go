package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors how sockstats/conniver export tcp_info fields as
// gauges (SPEC_FULL.md DOMAIN STACK): one struct of registered
// collectors, built against a caller-supplied *prometheus.Registry so a
// host process can merge it into its own metrics endpoint.
type Metrics struct {
	TxSegmentsTotal     prometheus.Counter
	RxNackTotal         prometheus.Counter
	RepairSegmentsTotal prometheus.Counter
	GRTTSeconds         prometheus.Gauge
	CCRateBps           prometheus.Gauge
	WatermarkStatus     *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics set, registering it against reg if
// reg is non-nil. Callers that don't care about metrics pass a nil
// registry and simply don't read the returned fields.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TxSegmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "norm_tx_segments_total",
			Help: "Total source and repair segments transmitted.",
		}),
		RxNackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "norm_rx_nack_total",
			Help: "Total NACK messages sent by this receiver.",
		}),
		RepairSegmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "norm_repair_segments_total",
			Help: "Total repair (retransmission/parity) segments transmitted.",
		}),
		GRTTSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "norm_grtt_seconds",
			Help: "Current smoothed group round-trip time estimate.",
		}),
		CCRateBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "norm_cc_rate_bps",
			Help: "Current congestion-controlled sending rate in bytes/sec.",
		}),
		WatermarkStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "norm_watermark_status",
			Help: "Per acking-node watermark status (0=invalid,1=pending,2=success,3=failure).",
		}, []string{"node_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.TxSegmentsTotal, m.RxNackTotal, m.RepairSegmentsTotal,
			m.GRTTSeconds, m.CCRateBps, m.WatermarkStatus)
	}
	return m
}
