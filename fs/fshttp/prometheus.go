package fshttp

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provide Transport HTTP level metrics.
type Metrics struct {
	StatusCode    *prometheus.CounterVec
	UploadedBytes *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance, the instance shall be assigned to
// DefaultMetrics before any processing takes place.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		StatusCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "status_code",
			Help:      "HTTP responses by host, method and status code.",
		}, []string{"host", "method", "code"}),
		UploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes accepted by object storage, by host.",
		}, []string{"host"}),
	}
}

// DefaultMetrics specifies metrics used for new Transports.
var DefaultMetrics = (*Metrics)(nil)

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.StatusCode,
		m.UploadedBytes,
	}
}

func (m *Metrics) onResponse(req *http.Request, resp *http.Response) {
	if m == nil {
		return
	}

	var statusCode = 0
	if resp != nil {
		statusCode = resp.StatusCode
	}

	m.StatusCode.WithLabelValues(req.URL.Host, req.Method, fmt.Sprint(statusCode)).Inc()
}

// AddUploaded records n bytes stored on host
func (m *Metrics) AddUploaded(host string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.UploadedBytes.WithLabelValues(host).Add(float64(n))
}

// MetricsFor returns the metrics of the Transport used by c or nil
func MetricsFor(c *http.Client) *Metrics {
	if c == nil {
		return nil
	}
	if t, ok := c.Transport.(*Transport); ok {
		return t.metrics
	}
	return nil
}
