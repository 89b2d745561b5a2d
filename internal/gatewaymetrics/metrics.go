// Package gatewaymetrics exposes the Prometheus collectors the scheduler,
// Modbus driver, eKuiper app, and manager record against.
package gatewaymetrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers.
var Registry = prometheus.NewRegistry()

var (
	groupRTT = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "scheduler",
		Name:      "group_rtt_seconds",
		Help:      "Round-trip time of the most recent protocol turn for a (driver, group).",
	}, []string{"driver", "group"})

	groupSendBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "scheduler",
		Name:      "group_send_bytes_total",
		Help:      "Bytes sent while executing a group's read/write plan.",
	}, []string{"driver", "group"})

	groupRecvBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "scheduler",
		Name:      "group_recv_bytes_total",
		Help:      "Bytes received while executing a group's read/write plan.",
	}, []string{"driver", "group"})

	groupLastSendCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "scheduler",
		Name:      "group_last_send_count",
		Help:      "Number of commands issued on the group's most recent cycle.",
	}, []string{"driver", "group"})

	driverDisconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "driver",
		Name:      "disconnects_total",
		Help:      "Count of transport-level disconnections observed by a driver node.",
	}, []string{"driver"})

	slaveDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "modbus",
		Name:      "slave_degraded",
		Help:      "Whether a (driver, slave) is currently skipped due to degradation (1) or not (0).",
	}, []string{"driver", "slave"})

	appSendMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "app",
		Name:      "send_msgs_total",
		Help:      "Total trans-data frames sent by an app node.",
	}, []string{"app"})

	appSendBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "app",
		Name:      "send_bytes_total",
		Help:      "Total trans-data bytes sent by an app node.",
	}, []string{"app"})

	appSendMsgErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "app",
		Name:      "send_msg_errors_total",
		Help:      "Total trans-data send failures for an app node.",
	}, []string{"app"})

	appDisconnects60s = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "app",
		Name:      "disconnects_total",
		Help:      "Count of peer disconnections observed by an app node, bucketed by window.",
	}, []string{"app", "window"})

	busFanout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "bus",
		Name:      "fanout_total",
		Help:      "Bus send/recv operations grouped by endpoint and result.",
	}, []string{"endpoint", "result"})

	nodeStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "manager",
		Name:      "node_status",
		Help:      "One-hot node lifecycle status (init|ready|running|stopped).",
	}, []string{"node", "status"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "In-flight requests to the diagnostics HTTP listener.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total requests served by the diagnostics HTTP listener.",
	}, []string{"method", "path", "status"})
)

func init() {
	Registry.MustRegister(
		groupRTT, groupSendBytes, groupRecvBytes, groupLastSendCount,
		driverDisconnects, slaveDegraded,
		appSendMsgs, appSendBytes, appSendMsgErrors, appDisconnects60s,
		busFanout, nodeStatus,
		httpInFlight, httpRequests,
	)
}

// Handler exposes the registered collectors for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count and in-flight tracking.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), r.URL.Path, strconv.Itoa(rec.status)).Inc()
	})
}

// RecordGroupCycle records the outcome of one scheduler tick for (driver, group).
func RecordGroupCycle(driver, group string, rtt time.Duration, sendBytes, recvBytes, commandCount int) {
	groupRTT.WithLabelValues(driver, group).Set(rtt.Seconds())
	groupSendBytes.WithLabelValues(driver, group).Add(float64(sendBytes))
	groupRecvBytes.WithLabelValues(driver, group).Add(float64(recvBytes))
	groupLastSendCount.WithLabelValues(driver, group).Set(float64(commandCount))
}

// RecordDriverDisconnect increments the disconnect counter for a driver node.
func RecordDriverDisconnect(driver string) {
	driverDisconnects.WithLabelValues(driver).Inc()
}

// SetSlaveDegraded records whether a slave is currently skipped.
func SetSlaveDegraded(driver string, slaveID int, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	slaveDegraded.WithLabelValues(driver, strconv.Itoa(slaveID)).Set(v)
}

// RecordAppSend records one trans-data send attempt for an app node.
func RecordAppSend(app string, bytes int, err error) {
	if err != nil {
		appSendMsgErrors.WithLabelValues(app).Inc()
		return
	}
	appSendMsgs.WithLabelValues(app).Inc()
	appSendBytes.WithLabelValues(app).Add(float64(bytes))
}

// RecordAppDisconnect increments the windowed disconnect counters for an app node.
func RecordAppDisconnect(app string, window string) {
	appDisconnects60s.WithLabelValues(app, window).Inc()
}

// RecordBusFanout records one bus send/recv outcome for an endpoint.
func RecordBusFanout(endpoint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	busFanout.WithLabelValues(endpoint, result).Inc()
}

// SetNodeStatus publishes the one-hot node status gauge, clearing prior states.
func SetNodeStatus(node string, statuses []string, current string) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1.0
		}
		nodeStatus.WithLabelValues(node, s).Set(v)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
