package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Span is a labeled, timed unit of work. Its fields are attached to the
// logger carried by the span's context, so every line logged beneath it
// (including remote command lines) is attributable to the span.
type Span struct {
	name      string
	labels    map[string]string
	startTime time.Time
	logger    zerolog.Logger
	collector *Collector
}

// StartSpan opens a span named name carrying labels and returns a context
// holding the span's logger.
func StartSpan(ctx context.Context, name string, labels map[string]string) (context.Context, *Span) {
	parent := zerolog.Ctx(ctx)
	if parent.GetLevel() == zerolog.Disabled {
		parent = &log.Logger
	}
	lc := parent.With().Str("span", name)
	for k, v := range labels {
		lc = lc.Str(k, v)
	}
	s := &Span{
		name:      name,
		labels:    labels,
		startTime: time.Now(),
		logger:    lc.Logger(),
		collector: GetGlobal(),
	}
	s.logger.Debug().Msg("span start")
	return s.logger.WithContext(ctx), s
}

// Logger returns the span's logger.
func (s *Span) Logger() *zerolog.Logger { return &s.logger }

// End closes the span, logging its outcome and recording its duration.
func (s *Span) End(err error) time.Duration {
	d := time.Since(s.startTime)
	labels := make(map[string]string, len(s.labels)+1)
	for k, v := range s.labels {
		labels[k] = v
	}
	if err != nil {
		labels["status"] = "error"
		s.logger.Debug().Err(err).Dur("duration", d).Msg("span failed")
	} else {
		labels["status"] = "ok"
		s.logger.Debug().Dur("duration", d).Msg("span end")
	}
	s.collector.Timer("kubeprovision_"+s.name+"_duration", d, labels)
	s.collector.Counter("kubeprovision_"+s.name+"_total", 1, labels)
	return d
}

// RecordFleetRun records the aggregate outcome of one fan-out operation.
func RecordFleetRun(operation string, nodes int, duration time.Duration, succeeded, failed int) {
	c := GetGlobal()
	labels := map[string]string{"operation": operation, "component": "fleet"}
	c.Timer("kubeprovision_fleet_duration", duration, labels)
	c.Gauge("kubeprovision_fleet_nodes", float64(nodes), labels)
	c.Counter("kubeprovision_fleet_nodes_succeeded", float64(succeeded), labels)
	c.Counter("kubeprovision_fleet_nodes_failed", float64(failed), labels)
}
