package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordRequest(t *testing.T) {
	tests := []struct {
		name       string
		tool       string
		duration   float64
		success    bool
		wantStatus string
	}{
		{
			name:       "successful request",
			tool:       "readMBeanAttribute",
			duration:   0.5,
			success:    true,
			wantStatus: "success",
		},
		{
			name:       "failed request",
			tool:       "readMBeanAttribute",
			duration:   1.0,
			success:    false,
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordRequest(tt.tool, tt.duration, tt.success)

			counter, err := RequestsTotal.GetMetricWithLabelValues(tt.tool, tt.wantStatus)
			if err != nil {
				t.Fatalf("failed to get metric: %v", err)
			}
			if getCounterValue(t, counter) < 1 {
				t.Error("expected counter to be incremented")
			}
		})
	}
}

func TestRecordBackendCall(t *testing.T) {
	tests := []struct {
		name        string
		requestType string
		duration    float64
		success     bool
		errorType   string
	}{
		{
			name:        "successful read",
			requestType: "read",
			duration:    0.1,
			success:     true,
		},
		{
			name:        "failed exec with remote error",
			requestType: "exec",
			duration:    0.5,
			success:     false,
			errorType:   "javax.management.InstanceNotFoundException",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordBackendCall(tt.requestType, tt.duration, tt.success, tt.errorType)

			counter, err := BackendRequestsTotal.GetMetricWithLabelValues(tt.requestType, statusLabel(tt.success))
			if err != nil {
				t.Fatalf("failed to get metric: %v", err)
			}
			if getCounterValue(t, counter) < 1 {
				t.Error("expected counter to be incremented")
			}

			if tt.errorType != "" {
				errCounter, err := BackendErrors.GetMetricWithLabelValues(tt.requestType, tt.errorType)
				if err != nil {
					t.Fatalf("failed to get error metric: %v", err)
				}
				if getCounterValue(t, errCounter) < 1 {
					t.Error("expected error counter to be incremented")
				}
			}
		})
	}
}

func TestRecordCacheAccess(t *testing.T) {
	initialHits := getCounterValue(t, CacheHits)
	initialMisses := getCounterValue(t, CacheMisses)

	RecordCacheAccess(true)
	if getCounterValue(t, CacheHits) != initialHits+1 {
		t.Error("expected cache hits to increment")
	}

	RecordCacheAccess(false)
	if getCounterValue(t, CacheMisses) != initialMisses+1 {
		t.Error("expected cache misses to increment")
	}
}

func TestSetCacheSize(t *testing.T) {
	SetCacheSize(100)
	if got := getGaugeValue(t, CacheSize); got != 100 {
		t.Errorf("expected cache size 100, got %v", got)
	}

	SetCacheSize(50)
	if got := getGaugeValue(t, CacheSize); got != 50 {
		t.Errorf("expected cache size 50, got %v", got)
	}
}

func TestRecordCatalogBuild(t *testing.T) {
	RecordCatalogBuild(0.2, true, 7, 3)
	if got := getGaugeValue(t, CatalogTools); got != 7 {
		t.Errorf("catalog tools = %v, want 7", got)
	}
	if got := getGaugeValue(t, CatalogResources); got != 3 {
		t.Errorf("catalog MBeans = %v, want 3", got)
	}

	// A failed build keeps the last published sizes.
	RecordCatalogBuild(0.1, false, 0, 0)
	if got := getGaugeValue(t, CatalogTools); got != 7 {
		t.Errorf("catalog tools after failure = %v, want 7", got)
	}
	counter, err := CatalogBuilds.GetMetricWithLabelValues("error")
	if err != nil {
		t.Fatal(err)
	}
	if getCounterValue(t, counter) < 1 {
		t.Error("expected failed build to be counted")
	}
}

func TestRecordClassifiedError(t *testing.T) {
	RecordClassifiedError(404, "NotFound")
	counter, err := ClassifiedErrors.GetMetricWithLabelValues("404", "NotFound")
	if err != nil {
		t.Fatal(err)
	}
	if getCounterValue(t, counter) < 1 {
		t.Error("expected classified error to be counted")
	}
}

func TestMetricsRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		RequestInFlight,
		CacheHits,
		CacheMisses,
		CacheSize,
		CacheEvictions,
		BackendLatency,
		BackendRequestsTotal,
		BackendErrors,
		BackendRetries,
		CircuitState,
		CatalogBuilds,
		CatalogBuildDuration,
		CatalogTools,
		CatalogResources,
		ClassifiedErrors,
		PanicsRecovered,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ContentSize,
	}

	for i, m := range metrics {
		if m == nil {
			t.Errorf("metric at index %d is nil", i)
		}
	}
}

func TestNamespace(t *testing.T) {
	if Namespace != "jolokia_mcp" {
		t.Errorf("expected namespace 'jolokia_mcp', got '%s'", Namespace)
	}
}

func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.Counter.GetValue()
}

func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.Gauge.GetValue()
}
