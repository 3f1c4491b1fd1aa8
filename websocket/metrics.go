package websocket

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the counters a host may want exported for a population of
// connections. All methods are nil-safe so a Conn built without Metrics
// pays no instrumentation cost. Register with NewMetrics against a
// prometheus.Registerer the host already owns; a nil registerer disables
// instrumentation the same way a nil *Metrics does.
type Metrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	bytesReceived     prometheus.Counter
}

// NewMetrics registers the websocket collectors against reg and returns a
// *Metrics ready to pass via Options.Metrics. A nil reg disables
// instrumentation and NewMetrics returns nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_opened_total",
			Help:      "WebSocket connections that completed the opening handshake.",
		}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_closed_total",
			Help:      "WebSocket connections terminated, labeled by close code.",
		}, []string{"code"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_received_total",
			Help:      "WebSocket frames received, labeled by opcode. A fragmented data message counts once, under its text or binary opcode; continuation frames are not counted.",
		}, []string{"opcode"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read off WebSocket transports.",
		}),
	}

	reg.MustRegister(m.connectionsOpened, m.connectionsClosed, m.framesReceived, m.bytesReceived)
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connectionsOpened.Inc()
	}
}

func (m *Metrics) connClosed(code CloseCode) {
	if m != nil {
		m.connectionsClosed.WithLabelValues(code.String()).Inc()
	}
}

func (m *Metrics) bytes(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) frameOpcode(opcode byte) {
	if m != nil {
		m.framesReceived.WithLabelValues(opcodeName(opcode)).Inc()
	}
}
