// Package logger provides a zap-based stats collector that logs metrics.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/tiercache/internal/stats"
)

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Collector implements stats.Collector by logging metrics via zap.
// Every observation is one log line at the configured level.
type Collector struct {
	logger *zap.Logger
	level  zapcore.Level
}

// New creates a new logger-based collector that logs at debug level.
// If logger is nil, a no-op logger is used.
func New(logger *zap.Logger) *Collector {
	return NewWithLevel(logger, zapcore.DebugLevel)
}

// NewWithLevel creates a collector that logs at the given level.
func NewWithLevel(logger *zap.Logger, level zapcore.Level) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger, level: level}
}

// IncCounter logs a counter increment.
func (c *Collector) IncCounter(name string, delta int64) {
	if ce := c.logger.Check(c.level, "counter"); ce != nil {
		ce.Write(zap.String("metric", name), zap.Int64("delta", delta))
	}
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	if ce := c.logger.Check(c.level, "gauge"); ce != nil {
		ce.Write(zap.String("metric", name), zap.Int64("value", value))
	}
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	if ce := c.logger.Check(c.level, "histogram"); ce != nil {
		ce.Write(zap.String("metric", name), zap.Float64("value", value))
	}
}
