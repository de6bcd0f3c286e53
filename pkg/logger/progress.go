package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker follows a pipeline through a fixed list of named steps and
// records how long each one took.
type ProgressTracker struct {
	logger    Logger
	operation string
	steps     []string
	done      int
	timings   []StepTiming
	startTime time.Time
	stepStart time.Time
	onStep    func(ProgressStats)
	now       func() time.Time
	mutex     sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation string
	Steps     []string
	Logger    Logger
	// OnStep is called after every completed step, outside the tracker lock.
	OnStep func(ProgressStats)
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// StepTiming is the outcome of one pipeline step.
type StepTiming struct {
	Step     string        `json:"step"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Step       string        `json:"step"`
	Done       int           `json:"done"`
	Total      int           `json:"total"`
	Percentage float64       `json:"percentage"`
	Elapsed    time.Duration `json:"elapsed"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	start := config.Clock()
	tracker := &ProgressTracker{
		logger:    config.Logger.WithComponent("progress"),
		operation: config.Operation,
		steps:     config.Steps,
		startTime: start,
		stepStart: start,
		onStep:    config.OnStep,
		now:       config.Clock,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"steps":     len(config.Steps),
	}).Debug("Starting operation")

	return tracker
}

// Advance marks step as finished. rows is the size of whatever the step
// produced and only ends up in the log and the timings.
func (p *ProgressTracker) Advance(step string, rows int) {
	p.mutex.Lock()
	now := p.now()
	timing := StepTiming{Step: step, Rows: rows, Duration: now.Sub(p.stepStart)}
	p.timings = append(p.timings, timing)
	p.done++
	p.stepStart = now
	stats := p.statsLocked(step, now)
	callback := p.onStep
	p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation":  p.operation,
		"step":       step,
		"rows":       rows,
		"duration":   timing.Duration.String(),
		"percentage": fmt.Sprintf("%.0f%%", stats.Percentage),
	}).Debug("Step finished")

	if callback != nil {
		callback(stats)
	}
}

// Complete logs the total duration and returns the per-step timings.
func (p *ProgressTracker) Complete() []StepTiming {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"steps":     p.done,
		"duration":  p.now().Sub(p.startTime).String(),
	}).Info("Operation completed")

	out := make([]StepTiming, len(p.timings))
	copy(out, p.timings)
	return out
}

// CompleteWithError marks the operation as complete with error
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	failed := ""
	if p.done < len(p.steps) {
		failed = p.steps[p.done]
	}

	p.logger.WithError(err).WithFields(Fields{
		"operation":   p.operation,
		"failed_step": failed,
		"steps_done":  p.done,
		"duration":    p.now().Sub(p.startTime).String(),
	}).Error("Operation completed with error")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	last := ""
	if len(p.timings) > 0 {
		last = p.timings[len(p.timings)-1].Step
	}
	return p.statsLocked(last, p.now())
}

func (p *ProgressTracker) statsLocked(step string, now time.Time) ProgressStats {
	var percentage float64
	if len(p.steps) > 0 {
		percentage = float64(p.done) / float64(len(p.steps)) * 100
		if percentage > 100 {
			percentage = 100
		}
	}
	return ProgressStats{
		Operation:  p.operation,
		Step:       step,
		Done:       p.done,
		Total:      len(p.steps),
		Percentage: percentage,
		Elapsed:    now.Sub(p.startTime),
	}
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %s (%d/%d, %.0f%%) after %v",
			ps.Operation, ps.Step, ps.Done, ps.Total, ps.Percentage, ps.Elapsed)
	}
	return fmt.Sprintf("%s: %s after %v", ps.Operation, ps.Step, ps.Elapsed)
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

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}

	ol.logger.WithFields(ol.fields).Info("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) entry(extra Fields) Logger {
	fields := make(Fields, len(ol.fields)+len(extra))
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return ol.logger.WithFields(fields)
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.entry(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.entry(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).WithError(err).Error(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}

	ol.Success("Operation completed")
	return nil
}
