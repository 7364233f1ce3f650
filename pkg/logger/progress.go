package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports row throughput while a statement is being read.
// Totals are usually unknown up front, so it logs every LogEvery rows or
// every LogInterval, whichever comes first.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	sinceLog    int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	logEvery    int64
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	LogEvery    int64
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}
	if config.LogEvery == 0 {
		config.LogEvery = 10000
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
		logEvery:    config.LogEvery,
	}

	tracker.logger.WithField("operation", config.Operation).Debug("Starting operation")
	return tracker
}

// Increment increments the progress counter by 1
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Add increments the progress counter by the given amount
func (p *ProgressTracker) Add(delta int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	p.sinceLog += delta
	now := time.Now()

	if p.sinceLog >= p.logEvery || now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
		p.sinceLog = 0
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(p.finalFields()).Debug("Operation completed")
}

// CompleteWithError logs final statistics along with the failure
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithError(err).WithFields(p.finalFields()).Warn("Operation completed with error")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	stats := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Duration:  duration,
		Rate:      rate(p.current, duration),
	}
	if p.total > 0 {
		stats.Percentage = float64(p.current) / float64(p.total) * 100
	}
	return stats
}

func (p *ProgressTracker) finalFields() Fields {
	duration := time.Since(p.startTime)
	return Fields{
		"operation": p.operation,
		"processed": p.current,
		"duration":  duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	}
}

func (p *ProgressTracker) logProgress(now time.Time) {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.current, duration)),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}

	p.logger.WithFields(fields).Info("Progress update")
}

func rate(n int64, d time.Duration) float64 {
	if d.Seconds() <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Rate, ps.Duration)
}

// OperationLogger provides structured logging for operations with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	return &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// WithFields adds multiple fields to the operation context
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	for k, v := range fields {
		ol.fields[k] = v
	}
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithFields(ol.fields).WithField("step", step).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.logger.WithFields(ol.fields).Warn(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	err := fn()
	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed successfully")
	}

	return err
}
