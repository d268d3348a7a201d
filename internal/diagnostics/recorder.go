// internal/diagnostics/recorder.go
// Package diagnostics provides stage-scoped execution tracking. Every
// logical operation of the engine (frame mapping, selector resolution,
// each field action) opens a stage, does its work, and closes the stage
// with an outcome. The recorder keeps the full stage history for the run
// and mirrors it to the structured log as it happens.
package diagnostics

import (
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StageInfo is the completed record of one stage.
type StageInfo struct {
	Name     string         `json:"name"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration_ns"`
	Details  map[string]any `json:"details,omitempty"`
}

// Report is the exportable summary of a whole run.
type Report struct {
	Generated time.Time   `json:"generated"`
	Total     int         `json:"total_stages"`
	Failed    int         `json:"failed_stages"`
	Stages    []StageInfo `json:"stages"`
}

// Recorder collects stage records. Safe for use from the engine's single
// logical thread; the mutex exists so a caller may snapshot a report while
// a run is in flight.
type Recorder struct {
	logger *zap.Logger

	mu     sync.Mutex
	stages []StageInfo
}

// NewRecorder returns a Recorder that mirrors stage events to the logger.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.Named("diagnostics")}
}

// Stage is an open stage. Close it exactly once with End.
type Stage struct {
	rec     *Recorder
	name    string
	started time.Time
	details map[string]any
	done    bool
}

// StageStart opens a named stage and logs it.
func (r *Recorder) StageStart(name string) *Stage {
	r.logger.Debug("Stage started", zap.String("stage", name))
	return &Stage{rec: r, name: name, started: time.Now()}
}

// Detail attaches a diagnostic key/value to the stage. Later calls with
// the same key overwrite.
func (s *Stage) Detail(key string, value any) *Stage {
	if s.details == nil {
		s.details = make(map[string]any)
	}
	s.details[key] = value
	return s
}

// End closes the stage with an outcome. A second End on the same stage is
// ignored so deferred closes cannot double-record.
func (s *Stage) End(success bool, err error) {
	if s == nil || s.done {
		return
	}
	s.done = true

	info := StageInfo{
		Name:     s.name,
		Success:  success,
		Started:  s.started,
		Duration: time.Since(s.started),
		Details:  s.details,
	}
	if err != nil {
		info.Error = err.Error()
	}

	s.rec.mu.Lock()
	s.rec.stages = append(s.rec.stages, info)
	s.rec.mu.Unlock()

	fields := []zap.Field{
		zap.String("stage", s.name),
		zap.Bool("success", success),
		zap.Duration("duration", info.Duration),
	}
	if len(s.details) > 0 {
		fields = append(fields, zap.Any("details", s.details))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		s.rec.logger.Warn("Stage finished", fields...)
		return
	}
	s.rec.logger.Debug("Stage finished", fields...)
}

// Stages returns a copy of all completed stage records so far.
func (r *Recorder) Stages() []StageInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageInfo, len(r.stages))
	copy(out, r.stages)
	return out
}

// Report builds the run summary from the stages recorded so far.
func (r *Recorder) Report() Report {
	stages := r.Stages()
	failed := 0
	for _, s := range stages {
		if !s.Success {
			failed++
		}
	}
	return Report{
		Generated: time.Now(),
		Total:     len(stages),
		Failed:    failed,
		Stages:    stages,
	}
}

// WriteReport serializes the report as indented JSON to the given path.
func (r *Recorder) WriteReport(path string) error {
	data, err := json.MarshalIndent(r.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize diagnostics report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write diagnostics report: %w", err)
	}
	return nil
}
