package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorDisabledDropsMetrics(t *testing.T) {
	c := NewCollector(false, "")
	c.Counter("x", 1, nil)
	c.Timer("y", time.Second, nil)
	assert.Empty(t, c.Pending())
}

func TestSpanRecordsAndLogs(t *testing.T) {
	InitGlobal(true, "")
	t.Cleanup(func() { InitGlobal(false, "") })

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	ctx := logger.WithContext(context.Background())

	ctx, span := StartSpan(ctx, "provision_step", map[string]string{"node": "i-1", "step": "swapoff"})
	zerolog.Ctx(ctx).Info().Msg("inside")
	span.End(errors.New("exit 1"))

	// span failures log at debug
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var inside map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	assert.Equal(t, "i-1", inside["node"])
	assert.Equal(t, "swapoff", inside["step"])
	assert.Equal(t, "provision_step", inside["span"])

	metrics := GetGlobal().Pending()
	require.Len(t, metrics, 2)
	assert.Equal(t, "kubeprovision_provision_step_duration", metrics[0].Name)
	assert.Equal(t, "error", metrics[0].Labels["status"])
	assert.Equal(t, Counter, metrics[1].Type)
}

func TestSpanFailureLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).Level(zerolog.DebugLevel).WithContext(context.Background())

	_, span := StartSpan(ctx, "provision_step", map[string]string{"step": "swapoff"})
	span.End(errors.New("exit 1"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var end map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &end))
	assert.Equal(t, "span failed", end["message"])
	assert.Equal(t, "debug", end["level"])
	assert.Equal(t, "exit 1", end["error"])
	assert.NotContains(t, buf.String(), `"level":"error"`)
}

func TestOTLPExport(t *testing.T) {
	var mu sync.Mutex
	var got otlpMetricsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewCollector(true, srv.URL)
	c.Counter("kubeprovision_fleet_nodes_failed", 2, map[string]string{"operation": "provision"})
	c.Gauge("kubeprovision_fleet_nodes", 5, nil)
	require.NoError(t, c.Shutdown())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got.ResourceMetrics, 1)
	ms := got.ResourceMetrics[0].ScopeMetrics[0].Metrics
	require.Len(t, ms, 2)
	require.NotNil(t, ms[0].Sum)
	assert.Equal(t, 2.0, ms[0].Sum.DataPoints[0].AsDouble)
	assert.Equal(t, temporalityDelta, ms[0].Sum.AggregationTemporality)
	assert.Equal(t, []otlpAttribute{{Key: "operation", Value: otlpValue{StringValue: "provision"}}}, ms[0].Sum.DataPoints[0].Attributes)
	require.NotNil(t, ms[1].Gauge)
	assert.Empty(t, c.Pending())
}

func TestOTLPExportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewOTLPExporter(srv.URL).Export(context.Background(), []Metric{{Name: "x", Type: Counter, Value: 1}})
	assert.Error(t, err)
}

func TestAttributesSorted(t *testing.T) {
	attrs := attributes(map[string]string{"step": "swapoff", "node": "i-1", "role": "master"})
	keys := make([]string, len(attrs))
	for i, a := range attrs {
		keys[i] = a.Key
	}
	assert.Equal(t, []string{"node", "role", "step"}, keys)
	assert.Nil(t, attributes(nil))
}

func TestRecordCopiesLabels(t *testing.T) {
	c := NewCollector(true, "")
	defer c.Shutdown()
	labels := map[string]string{"status": "ok"}
	c.Counter("x", 1, labels)
	labels["status"] = "error"
	assert.Equal(t, "ok", c.Pending()[0].Labels["status"])
}
