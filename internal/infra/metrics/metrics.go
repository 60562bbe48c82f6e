// Package metrics exposes controller activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-control/internal/application"
	"smart-control/internal/domain"
)

type Recorder struct {
	commands       *prometheus.CounterVec
	writes         *prometheus.CounterVec
	captures       *prometheus.CounterVec
	deviceState    *prometheus.GaugeVec
	storeConnected prometheus.Gauge
}

var _ application.Metrics = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_control_commands_total",
			Help: "Voice commands processed, by outcome",
		}, []string{"outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_control_store_writes_total",
			Help: "Device state writes, by field and result",
		}, []string{"field", "result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_control_captures_total",
			Help: "Speech capture sessions, by status and error kind",
		}, []string{"status", "error_kind"}),
		deviceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smart_control_device_state",
			Help: "Store-confirmed device state (1=on, 0=off)",
		}, []string{"field"}),
		storeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smart_control_store_connected",
			Help: "1 while the device state store is reachable",
		}),
	}
}

func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.commands, r.writes, r.captures, r.deviceState, r.storeConnected}
}

// Registry returns a registry holding the recorder plus Go runtime and
// process collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(r.Collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveCommand(outcome domain.OutcomeKind) {
	r.commands.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) ObserveWrite(field domain.DeviceField, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.writes.WithLabelValues(string(field), result).Inc()
}

func (r *Recorder) ObserveCapture(status application.CaptureStatus, kind domain.CaptureErrorKind) {
	r.captures.WithLabelValues(string(status), string(kind)).Inc()
}

func (r *Recorder) SetState(field domain.DeviceField, value domain.State) {
	v := 0.0
	if value.On() {
		v = 1
	}
	r.deviceState.WithLabelValues(string(field)).Set(v)
}

func (r *Recorder) SetConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	r.storeConnected.Set(v)
}
