package telemetry

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind is the shape of a recorded metric.
type Kind string

const (
	Counter Kind = "counter"
	Gauge   Kind = "gauge"
	Timer   Kind = "timer"
)

const (
	flushThreshold = 100
	flushInterval  = 30 * time.Second
)

// Metric is one recorded data point.
type Metric struct {
	Name      string            `json:"name"`
	Type      Kind              `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers metrics and periodically hands them to an OTLP exporter,
// or to the debug log when no endpoint is configured. A disabled collector
// drops everything.
type Collector struct {
	enabled  bool
	exporter *OTLPExporter

	mu  sync.Mutex
	buf []Metric

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCollector(enabled bool, otlpEndpoint string) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		enabled: enabled,
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if otlpEndpoint != "" {
		c.exporter = NewOTLPExporter(otlpEndpoint)
	}
	if enabled {
		go c.loop()
	}
	return c
}

func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.record(Metric{Name: name, Type: Counter, Value: value, Labels: labels})
}

func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.record(Metric{Name: name, Type: Gauge, Value: value, Labels: labels})
}

// Timer records d in milliseconds.
func (c *Collector) Timer(name string, d time.Duration, labels map[string]string) {
	c.record(Metric{Name: name, Type: Timer, Value: float64(d.Milliseconds()), Labels: labels, Unit: "ms"})
}

func (c *Collector) record(m Metric) {
	if !c.enabled {
		return
	}
	m.Timestamp = time.Now()
	m.Labels = maps.Clone(m.Labels)

	c.mu.Lock()
	c.buf = append(c.buf, m)
	full := len(c.buf) >= flushThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns a copy of the metrics not yet flushed.
func (c *Collector) Pending() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Metric(nil), c.buf...)
}

// Flush empties the buffer into the exporter or the debug log.
func (c *Collector) Flush() error {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if c.exporter != nil {
		return c.exporter.Export(c.ctx, batch)
	}
	for _, m := range batch {
		log.Debug().
			Str("name", m.Name).
			Str("type", string(m.Type)).
			Float64("value", m.Value).
			Interface("labels", m.Labels).
			Msg("metric")
	}
	return nil
}

func (c *Collector) loop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if err := c.Flush(); err != nil {
			log.Debug().Err(err).Msg("telemetry flush")
		}
	}
}

// Shutdown flushes what is buffered and stops the background loop.
func (c *Collector) Shutdown() error {
	err := c.Flush()
	c.cancel()
	return err
}

var global atomic.Pointer[Collector]

func init() { global.Store(NewCollector(false, "")) }

// InitGlobal replaces the process-wide collector, shutting down the old one.
func InitGlobal(enabled bool, otlpEndpoint string) {
	if old := global.Swap(NewCollector(enabled, otlpEndpoint)); old != nil {
		_ = old.Shutdown()
	}
}

func GetGlobal() *Collector { return global.Load() }

// Shutdown flushes and stops the process-wide collector.
func Shutdown() error { return GetGlobal().Shutdown() }
