package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// ServiceVersion is reported as service.version on exported metrics.
var ServiceVersion = "dev"

const (
	serviceName = "kubeprovision"
	// each counter point is one increment, not a running total
	temporalityDelta = 1
)

// OTLPExporter posts metrics to an OTLP/HTTP collector using the JSON encoding.
type OTLPExporter struct {
	endpoint string
	client   *http.Client
}

func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{endpoint: endpoint, client: &http.Client{Timeout: 30 * time.Second}}
}

// Subset of the OTLP metrics JSON schema: sums and gauges of doubles.
type (
	otlpMetricsPayload struct {
		ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
	}
	otlpResourceMetrics struct {
		Resource     otlpResource       `json:"resource"`
		ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
	}
	otlpResource struct {
		Attributes []otlpAttribute `json:"attributes"`
	}
	otlpScopeMetrics struct {
		Scope   otlpScope    `json:"scope"`
		Metrics []otlpMetric `json:"metrics"`
	}
	otlpScope struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	otlpMetric struct {
		Name  string     `json:"name"`
		Unit  string     `json:"unit,omitempty"`
		Sum   *otlpSum   `json:"sum,omitempty"`
		Gauge *otlpGauge `json:"gauge,omitempty"`
	}
	otlpSum struct {
		DataPoints             []otlpPoint `json:"dataPoints"`
		AggregationTemporality int         `json:"aggregationTemporality"`
		IsMonotonic            bool        `json:"isMonotonic"`
	}
	otlpGauge struct {
		DataPoints []otlpPoint `json:"dataPoints"`
	}
	otlpPoint struct {
		Attributes   []otlpAttribute `json:"attributes,omitempty"`
		TimeUnixNano int64           `json:"timeUnixNano,string"`
		AsDouble     float64         `json:"asDouble"`
	}
	otlpAttribute struct {
		Key   string    `json:"key"`
		Value otlpValue `json:"value"`
	}
	otlpValue struct {
		StringValue string `json:"stringValue"`
	}
)

func (e *OTLPExporter) Export(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	body, err := json.Marshal(encodeOTLP(metrics))
	if err != nil {
		return fmt.Errorf("marshal otlp payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("otlp export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("otlp export: endpoint returned %s", resp.Status)
	}
	log.Debug().Str("endpoint", e.endpoint).Int("metrics", len(metrics)).Msg("metrics exported")
	return nil
}

func encodeOTLP(metrics []Metric) otlpMetricsPayload {
	out := make([]otlpMetric, 0, len(metrics))
	for _, m := range metrics {
		pt := []otlpPoint{{
			Attributes:   attributes(m.Labels),
			TimeUnixNano: m.Timestamp.UnixNano(),
			AsDouble:     m.Value,
		}}
		om := otlpMetric{Name: m.Name, Unit: m.Unit}
		if m.Type == Counter {
			om.Sum = &otlpSum{DataPoints: pt, AggregationTemporality: temporalityDelta, IsMonotonic: true}
		} else {
			om.Gauge = &otlpGauge{DataPoints: pt}
		}
		out = append(out, om)
	}
	resource := attributes(map[string]string{"service.name": serviceName, "service.version": ServiceVersion})
	return otlpMetricsPayload{ResourceMetrics: []otlpResourceMetrics{{
		Resource: otlpResource{Attributes: resource},
		ScopeMetrics: []otlpScopeMetrics{{
			Scope:   otlpScope{Name: serviceName + "/telemetry", Version: ServiceVersion},
			Metrics: out,
		}},
	}}}
}

// attributes renders labels sorted by key.
func attributes(labels map[string]string) []otlpAttribute {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]otlpAttribute, len(keys))
	for i, k := range keys {
		attrs[i] = otlpAttribute{Key: k, Value: otlpValue{StringValue: labels[k]}}
	}
	return attrs
}
