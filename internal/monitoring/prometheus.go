package monitoring

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facecap"

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	received   *prom.CounterVec
	bytes      prom.Counter
	skipped    prom.Counter
	unmapped   prom.Gauge
	calibrated prom.Counter
	dropped    *prom.CounterVec
	queueDepth prom.Gauge
	connected  prom.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg. A nil
// reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	p := &PrometheusRecorder{
		received: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_total",
			Help:      "Datagrams read from the capture socket by outcome",
		}, []string{"outcome"}),
		bytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "datagram_bytes_total",
			Help:      "Bytes read from the capture socket",
		}),
		skipped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_fields_total",
			Help:      "Malformed message fields skipped by the decoder",
		}),
		unmapped: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "unmapped_targets",
			Help:      "Shape weights with no matching target on the bound face at the last tick",
		}),
		calibrated: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Calibrations applied",
		}),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages dropped by a non-blocking consumer",
		}, []string{"consumer"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting for the next animator tick",
		}),
		connected: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 once the running connection has accepted a message",
		}),
	}
	reg.MustRegister(p.received, p.bytes, p.skipped, p.unmapped, p.calibrated, p.dropped, p.queueDepth, p.connected)
	return p
}

func (p *PrometheusRecorder) DatagramReceived(n int) {
	p.received.WithLabelValues("received").Inc()
	p.bytes.Add(float64(n))
}

func (p *PrometheusRecorder) DatagramAccepted() { p.received.WithLabelValues("accepted").Inc() }
func (p *PrometheusRecorder) DatagramFiltered() { p.received.WithLabelValues("filtered").Inc() }
func (p *PrometheusRecorder) DatagramInvalid()  { p.received.WithLabelValues("invalid_utf8").Inc() }
func (p *PrometheusRecorder) ReadFault()        { p.received.WithLabelValues("read_fault").Inc() }

func (p *PrometheusRecorder) FieldsSkipped(n int) {
	if n > 0 {
		p.skipped.Add(float64(n))
	}
}

func (p *PrometheusRecorder) SetUnmappedTargets(n int) { p.unmapped.Set(float64(n)) }

func (p *PrometheusRecorder) Calibrated()      { p.calibrated.Inc() }
func (p *PrometheusRecorder) RelayDropped()    { p.dropped.WithLabelValues("relay").Inc() }
func (p *PrometheusRecorder) RecorderDropped() { p.dropped.WithLabelValues("recorder").Inc() }

func (p *PrometheusRecorder) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }

func (p *PrometheusRecorder) SetConnected(connected bool) {
	if connected {
		p.connected.Set(1)
		return
	}
	p.connected.Set(0)
}

// HTTPHandler serves the metrics gathered from g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
