package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend request metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`

	TransporterUploads int64 `json:"transporter_uploads"`
	TransporterBytes   int64 `json:"transporter_bytes"`
}

// MetricsCollector handles metrics collection for the S3 backend
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordLatency records one request. The average is an exponential moving
// average weighted 9:1 towards history.
func (mc *MetricsCollector) RecordLatency(duration time.Duration, isError bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	if isError {
		mc.metrics.Errors++
	}
	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

// RecordError records the most recent error
func (mc *MetricsCollector) RecordError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.LastError = err.Error()
	mc.metrics.LastErrorTime = time.Now()
}

func (mc *MetricsCollector) RecordHit() {
	mc.mu.Lock()
	mc.metrics.Hits++
	mc.mu.Unlock()
}

func (mc *MetricsCollector) RecordMiss() {
	mc.mu.Lock()
	mc.metrics.Misses++
	mc.mu.Unlock()
}

func (mc *MetricsCollector) RecordBytesUploaded(n int64) {
	mc.mu.Lock()
	mc.metrics.BytesUploaded += n
	mc.mu.Unlock()
}

func (mc *MetricsCollector) RecordBytesDownloaded(n int64) {
	mc.mu.Lock()
	mc.metrics.BytesDownloaded += n
	mc.mu.Unlock()
}

// RecordTransporterUpload records a payload sent through cargoship.
func (mc *MetricsCollector) RecordTransporterUpload(n int64) {
	mc.mu.Lock()
	mc.metrics.TransporterUploads++
	mc.metrics.TransporterBytes += n
	mc.metrics.BytesUploaded += n
	mc.mu.Unlock()
}

// GetMetrics returns a copy of the current metrics
func (mc *MetricsCollector) GetMetrics() BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}

// Reset resets all metrics to zero
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = BackendMetrics{}
}
