// Package budget tracks cumulative token/cost usage against the generation
// collaborator's context window, classifies risk, emits alerts when a
// threshold is newly crossed, and schedules optimization passes over the
// memory engine. It also detects likely external auto-compact events from
// idle gaps at startup.
package budget

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stellarlinkco/recall/internal/bus"
)

type Status string

const (
	StatusGood     Status = "GOOD"
	StatusOptimal  Status = "OPTIMAL"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "VERY LOW"
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY HIGH"
)

// Context-percentage thresholds for the status state machine.
const (
	optimalThreshold  = 60.0
	warningThreshold  = 75.0
	criticalThreshold = 85.0
)

func StatusFor(pct float64) Status {
	switch {
	case pct >= criticalThreshold:
		return StatusCritical
	case pct >= warningThreshold:
		return StatusWarning
	case pct >= optimalThreshold:
		return StatusOptimal
	default:
		return StatusGood
	}
}

func RiskFor(pct float64) RiskLevel {
	switch {
	case pct >= criticalThreshold:
		return RiskVeryHigh
	case pct >= warningThreshold:
		return RiskHigh
	case pct >= optimalThreshold:
		return RiskModerate
	case pct >= 40:
		return RiskLow
	default:
		return RiskVeryLow
	}
}

// Metrics is the monitor's externally visible snapshot. Token and cost
// counters only grow until an explicit reset.
type Metrics struct {
	InputTokens       int       `json:"inputTokens"`
	OutputTokens      int       `json:"outputTokens"`
	RequestCount      int       `json:"requestCount"`
	ContextPercentage float64   `json:"contextPercentage"`
	Cost              float64   `json:"cost"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	Status            Status    `json:"status"`
}

// Optimizer is the compaction hook scheduled on WARNING/CRITICAL alerts.
// The memory engine implements it.
type Optimizer interface {
	Optimize(trigger string) (bus.OptimizationReport, error)
}

type Options struct {
	ContextWindow   int
	InputCostPer1K  float64
	OutputCostPer1K float64
	AlertWindow     time.Duration
	OptimizeDelay   time.Duration
	IdleGapLow      time.Duration
	IdleGapHigh     time.Duration
	SessionPath     string
	RecoveryPath    string
	Optimizer       Optimizer
	Logger          *slog.Logger
}

// sessionState is the persisted session metadata; it survives restarts.
type sessionState struct {
	LastActivity time.Time `json:"lastActivity"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	RequestCount int       `json:"requestCount"`
	Cost         float64   `json:"cost"`
}

type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     sessionState
	status    Status
	lastAlert map[bus.Severity]time.Time
	pending   bool

	alerts  chan bus.Alert
	reports chan bus.OptimizationReport

	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 200000
	}
	if opts.AlertWindow <= 0 {
		opts.AlertWindow = 5 * time.Minute
	}
	if opts.OptimizeDelay <= 0 {
		opts.OptimizeDelay = 5 * time.Second
	}
	if opts.IdleGapLow <= 0 {
		opts.IdleGapLow = 5 * time.Minute
	}
	if opts.IdleGapHigh <= 0 {
		opts.IdleGapHigh = 180 * time.Minute
	}

	m := &Monitor{
		opts:      opts,
		logger:    opts.Logger.With("component", "budget"),
		status:    StatusGood,
		lastAlert: make(map[bus.Severity]time.Time),
		alerts:    make(chan bus.Alert, 16),
		reports:   make(chan bus.OptimizationReport, 4),
		now:       time.Now,
		schedule: func(d time.Duration, fn func()) {
			if d <= 0 {
				go fn()
				return
			}
			time.AfterFunc(d, fn)
		},
	}
	m.loadSession()
	m.status = StatusFor(m.percentageLocked())
	return m
}

// Alerts is the explicit delivery channel for threshold and auto-compact
// alerts. The channel is buffered; a slow consumer drops alerts rather than
// blocking usage recording.
func (m *Monitor) Alerts() <-chan bus.Alert {
	return m.alerts
}

// Reports delivers optimization pass summaries.
func (m *Monitor) Reports() <-chan bus.OptimizationReport {
	return m.reports
}

// Record consumes one usage event: counters and cost grow monotonically,
// the percentage and status are recomputed, session metadata is persisted,
// and a newly crossed threshold emits at most one alert per severity per
// de-duplication window.
func (m *Monitor) Record(ev bus.UsageEvent) Metrics {
	m.mu.Lock()

	m.state.InputTokens += ev.InputTokens
	m.state.OutputTokens += ev.OutputTokens
	m.state.RequestCount++
	m.state.Cost += float64(ev.InputTokens)/1000*m.opts.InputCostPer1K +
		float64(ev.OutputTokens)/1000*m.opts.OutputCostPer1K
	at := ev.Timestamp
	if at.IsZero() {
		at = m.now()
	}
	m.state.LastActivity = at.UTC()

	pct := m.percentageLocked()
	prev := m.status
	m.status = StatusFor(pct)
	metrics := m.metricsLocked(pct)

	var fire *bus.Alert
	if rank(m.status) > rank(prev) {
		if sev, urgent := severityFor(m.status); urgent {
			now := m.now()
			if now.Sub(m.lastAlert[sev]) >= m.opts.AlertWindow {
				m.lastAlert[sev] = now
				fire = &bus.Alert{
					Severity:   sev,
					Kind:       "context-threshold",
					Message:    fmt.Sprintf("context usage at %.1f%% (%s)", pct, m.status),
					Percentage: pct,
					Timestamp:  now,
				}
			}
			m.scheduleOptimizationLocked(sev)
		}
	}
	m.mu.Unlock()

	m.persistSession()
	if fire != nil {
		m.emit(*fire)
	}
	return metrics
}

// Snapshot returns the current metrics without recording usage.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked(m.percentageLocked())
}

// Reset zeroes all counters. Only an explicit user action calls this.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.state = sessionState{LastActivity: m.now().UTC()}
	m.status = StatusGood
	m.mu.Unlock()
	m.persistSession()
}

// DetectIdleGap compares now against the persisted last-activity timestamp.
// A gap strictly between the low and high thresholds is classified as a
// likely external auto-compact; a recovery marker is written and an alert
// emitted. Run this once at process start.
func (m *Monitor) DetectIdleGap() (time.Duration, bool) {
	m.mu.Lock()
	last := m.state.LastActivity
	m.mu.Unlock()

	if last.IsZero() {
		return 0, false
	}
	gap := m.now().UTC().Sub(last)
	if gap <= m.opts.IdleGapLow || gap >= m.opts.IdleGapHigh {
		return gap, false
	}

	m.logger.Warn("idle gap suggests external auto-compact", "gap", gap)
	marker := map[string]any{
		"detectedAt": m.now().UTC(),
		"idleGap":    gap.String(),
		"reason":     "idle gap between thresholds, context likely auto-compacted",
	}
	if data, err := json.MarshalIndent(marker, "", "  "); err == nil {
		if err := writeFileAtomic(m.opts.RecoveryPath, data); err != nil {
			m.logger.Warn("recovery marker write failed", "err", err)
		}
	}
	m.emit(bus.Alert{
		Severity:  bus.SeverityWarning,
		Kind:      "auto-compact",
		Message:   fmt.Sprintf("idle gap of %s suggests external history truncation", gap.Round(time.Second)),
		Timestamp: m.now(),
	})
	return gap, true
}

func (m *Monitor) percentageLocked() float64 {
	total := m.state.InputTokens + m.state.OutputTokens
	return float64(total) / float64(m.opts.ContextWindow) * 100
}

func (m *Monitor) metricsLocked(pct float64) Metrics {
	return Metrics{
		InputTokens:       m.state.InputTokens,
		OutputTokens:      m.state.OutputTokens,
		RequestCount:      m.state.RequestCount,
		ContextPercentage: pct,
		Cost:              m.state.Cost,
		RiskLevel:         RiskFor(pct),
		Status:            StatusFor(pct),
	}
}

// scheduleOptimizationLocked queues at most one optimization pass: WARNING
// waits out the delay, CRITICAL runs immediately. A pass already pending is
// not duplicated.
func (m *Monitor) scheduleOptimizationLocked(sev bus.Severity) {
	if m.opts.Optimizer == nil || m.pending {
		return
	}
	m.pending = true
	delay := m.opts.OptimizeDelay
	if sev == bus.SeverityCritical {
		delay = 0
	}
	trigger := sev.String()
	m.schedule(delay, func() { m.runOptimization(trigger) })
}

func (m *Monitor) runOptimization(trigger string) {
	report, err := m.opts.Optimizer.Optimize(trigger)
	m.mu.Lock()
	m.pending = false
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("optimization pass failed", "trigger", trigger, "err", err)
		return
	}
	m.logger.Info("optimization pass complete",
		"trigger", trigger,
		"archived", report.ArchivedRecords,
		"tokens_before", report.TokensBefore,
		"tokens_after", report.TokensAfter)
	select {
	case m.reports <- report:
	default:
	}
}

func (m *Monitor) emit(alert bus.Alert) {
	select {
	case m.alerts <- alert:
	default:
		m.logger.Warn("alert dropped, channel full", "kind", alert.Kind)
	}
}

func (m *Monitor) loadSession() {
	data, err := os.ReadFile(m.opts.SessionPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("session metadata unreadable, starting fresh", "err", err)
		}
		return
	}
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		m.logger.Warn("session metadata corrupt, starting fresh", "err", err)
		return
	}
	m.state = st
}

func (m *Monitor) persistSession() {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		m.logger.Warn("session metadata marshal failed", "err", err)
		return
	}
	if err := writeFileAtomic(m.opts.SessionPath, data); err != nil {
		// Degraded durability: keep serving from memory.
		m.logger.Warn("session metadata write failed", "err", err)
	}
}

func severityFor(status Status) (bus.Severity, bool) {
	switch status {
	case StatusWarning:
		return bus.SeverityWarning, true
	case StatusCritical:
		return bus.SeverityCritical, true
	default:
		return bus.SeverityInfo, false
	}
}

func rank(status Status) int {
	switch status {
	case StatusOptimal:
		return 1
	case StatusWarning:
		return 2
	case StatusCritical:
		return 3
	default:
		return 0
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
