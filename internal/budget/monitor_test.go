package budget

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/recall/internal/bus"
)

func newTestMonitor(t *testing.T, opts Options) *Monitor {
	t.Helper()
	dir := t.TempDir()
	if opts.SessionPath == "" {
		opts.SessionPath = filepath.Join(dir, "session.json")
	}
	if opts.RecoveryPath == "" {
		opts.RecoveryPath = filepath.Join(dir, "compact-recovery.json")
	}
	return New(opts)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want Status
	}{
		{0, StatusGood},
		{59.9, StatusGood},
		{60, StatusOptimal},
		{74.9, StatusOptimal},
		{75, StatusWarning},
		{84.9, StatusWarning},
		{85, StatusCritical},
		{120, StatusCritical},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.pct); got != tt.want {
			t.Errorf("StatusFor(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestRiskFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want RiskLevel
	}{
		{0, RiskVeryLow},
		{39.9, RiskVeryLow},
		{40, RiskLow},
		{60, RiskModerate},
		{75, RiskHigh},
		{85, RiskVeryHigh},
	}
	for _, tt := range tests {
		if got := RiskFor(tt.pct); got != tt.want {
			t.Errorf("RiskFor(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestRecordAccumulates(t *testing.T) {
	m := newTestMonitor(t, Options{
		ContextWindow:   1000,
		InputCostPer1K:  3.0,
		OutputCostPer1K: 15.0,
	})

	m.Record(bus.UsageEvent{InputTokens: 100, OutputTokens: 100})
	metrics := m.Record(bus.UsageEvent{InputTokens: 100, OutputTokens: 100})

	if metrics.InputTokens != 200 || metrics.OutputTokens != 200 {
		t.Errorf("tokens = %d/%d, want 200/200", metrics.InputTokens, metrics.OutputTokens)
	}
	if metrics.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", metrics.RequestCount)
	}
	if metrics.ContextPercentage != 40 {
		t.Errorf("ContextPercentage = %v, want 40", metrics.ContextPercentage)
	}
	// 200 in at $3/1k plus 200 out at $15/1k, per side.
	want := 0.2*3.0 + 0.2*15.0
	if metrics.Cost != want {
		t.Errorf("Cost = %v, want %v", metrics.Cost, want)
	}
	if metrics.Status != StatusGood || metrics.RiskLevel != RiskLow {
		t.Errorf("status/risk = %v/%v", metrics.Status, metrics.RiskLevel)
	}
}

func TestThresholdAlertFiresOncePerCrossing(t *testing.T) {
	m := newTestMonitor(t, Options{ContextWindow: 1000})
	now := time.Now()
	m.now = func() time.Time { return now }

	// 0% -> 76%: GOOD to WARNING.
	m.Record(bus.UsageEvent{InputTokens: 760})
	select {
	case alert := <-m.Alerts():
		if alert.Severity != bus.SeverityWarning {
			t.Errorf("Severity = %v, want warning", alert.Severity)
		}
		if alert.Kind != "context-threshold" {
			t.Errorf("Kind = %q", alert.Kind)
		}
	default:
		t.Fatal("no alert after crossing warning threshold")
	}

	// Still WARNING: no repeat alert.
	m.Record(bus.UsageEvent{InputTokens: 10})
	select {
	case alert := <-m.Alerts():
		t.Fatalf("unexpected alert without a new crossing: %+v", alert)
	default:
	}

	// WARNING -> CRITICAL is a new crossing at a higher severity.
	m.Record(bus.UsageEvent{InputTokens: 100})
	select {
	case alert := <-m.Alerts():
		if alert.Severity != bus.SeverityCritical {
			t.Errorf("Severity = %v, want critical", alert.Severity)
		}
	default:
		t.Fatal("no alert after crossing critical threshold")
	}
}

func TestAlertDeduplicationWindow(t *testing.T) {
	m := newTestMonitor(t, Options{ContextWindow: 1000, AlertWindow: 5 * time.Minute})
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Record(bus.UsageEvent{InputTokens: 760})
	<-m.Alerts()

	// Reset drops the status back; re-crossing inside the window stays
	// silent.
	m.Reset()
	m.Record(bus.UsageEvent{InputTokens: 760})
	select {
	case alert := <-m.Alerts():
		t.Fatalf("alert inside dedup window: %+v", alert)
	default:
	}

	// Past the window the same crossing alerts again.
	now = now.Add(6 * time.Minute)
	m.Reset()
	m.Record(bus.UsageEvent{InputTokens: 760})
	select {
	case <-m.Alerts():
	default:
		t.Fatal("no alert after dedup window elapsed")
	}
}

type fakeOptimizer struct {
	triggers []string
	report   bus.OptimizationReport
}

func (f *fakeOptimizer) Optimize(trigger string) (bus.OptimizationReport, error) {
	f.triggers = append(f.triggers, trigger)
	return f.report, nil
}

func TestWarningSchedulesDelayedOptimization(t *testing.T) {
	opt := &fakeOptimizer{report: bus.OptimizationReport{ArchivedRecords: 3}}
	m := newTestMonitor(t, Options{
		ContextWindow: 1000,
		OptimizeDelay: 5 * time.Second,
		Optimizer:     opt,
	})

	var scheduledDelay time.Duration
	var scheduledFn func()
	m.schedule = func(d time.Duration, fn func()) {
		scheduledDelay = d
		scheduledFn = fn
	}

	m.Record(bus.UsageEvent{InputTokens: 760})
	if scheduledFn == nil {
		t.Fatal("no optimization scheduled on warning")
	}
	if scheduledDelay != 5*time.Second {
		t.Errorf("delay = %v, want 5s", scheduledDelay)
	}

	scheduledFn()
	if len(opt.triggers) != 1 || opt.triggers[0] != "warning" {
		t.Errorf("triggers = %v, want [warning]", opt.triggers)
	}
	select {
	case report := <-m.Reports():
		if report.ArchivedRecords != 3 {
			t.Errorf("ArchivedRecords = %d, want 3", report.ArchivedRecords)
		}
	default:
		t.Fatal("no report delivered")
	}
}

func TestCriticalOptimizationRunsImmediately(t *testing.T) {
	opt := &fakeOptimizer{}
	m := newTestMonitor(t, Options{
		ContextWindow: 1000,
		OptimizeDelay: 5 * time.Second,
		Optimizer:     opt,
	})

	var scheduledDelay time.Duration = -1
	m.schedule = func(d time.Duration, fn func()) {
		scheduledDelay = d
		fn()
	}

	m.Record(bus.UsageEvent{InputTokens: 900})
	if scheduledDelay != 0 {
		t.Errorf("delay = %v, want 0 for critical", scheduledDelay)
	}
	if len(opt.triggers) != 1 || opt.triggers[0] != "critical" {
		t.Errorf("triggers = %v, want [critical]", opt.triggers)
	}
}

func TestPendingOptimizationIsNotDuplicated(t *testing.T) {
	opt := &fakeOptimizer{}
	m := newTestMonitor(t, Options{ContextWindow: 1000, Optimizer: opt})

	var scheduled []func()
	m.schedule = func(d time.Duration, fn func()) {
		scheduled = append(scheduled, fn)
	}

	// GOOD -> WARNING queues a pass; WARNING -> CRITICAL while one is
	// pending must not queue another.
	m.Record(bus.UsageEvent{InputTokens: 760})
	m.Record(bus.UsageEvent{InputTokens: 100})
	if len(scheduled) != 1 {
		t.Fatalf("scheduled %d passes, want 1", len(scheduled))
	}

	scheduled[0]()
	if len(opt.triggers) != 1 {
		t.Errorf("optimizer ran %d times, want 1", len(opt.triggers))
	}
}

func TestRecordUsesEventTimestampForActivity(t *testing.T) {
	m := newTestMonitor(t, Options{
		ContextWindow: 1000,
		IdleGapLow:    5 * time.Minute,
		IdleGapHigh:   180 * time.Minute,
	})
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Record(bus.UsageEvent{InputTokens: 10, Timestamp: now.Add(-30 * time.Minute)})
	if got := m.state.LastActivity; !got.Equal(now.Add(-30 * time.Minute).UTC()) {
		t.Errorf("LastActivity = %v, want event timestamp", got)
	}
	// The stamped activity time feeds the idle-gap check.
	if gap, detected := m.DetectIdleGap(); !detected {
		t.Errorf("gap from event timestamp not detected (gap %v)", gap)
	}

	// Without a timestamp the monitor falls back to its own clock.
	m.Record(bus.UsageEvent{InputTokens: 10})
	if got := m.state.LastActivity; !got.Equal(now.UTC()) {
		t.Errorf("LastActivity = %v, want clock time %v", got, now.UTC())
	}
}

func TestDetectIdleGap(t *testing.T) {
	recoveryPath := filepath.Join(t.TempDir(), "compact-recovery.json")
	m := newTestMonitor(t, Options{
		IdleGapLow:   5 * time.Minute,
		IdleGapHigh:  180 * time.Minute,
		RecoveryPath: recoveryPath,
	})
	now := time.Now()
	m.now = func() time.Time { return now }

	m.state.LastActivity = now.UTC().Add(-30 * time.Minute)
	gap, detected := m.DetectIdleGap()
	if !detected {
		t.Fatal("30m gap not detected")
	}
	if gap < 29*time.Minute || gap > 31*time.Minute {
		t.Errorf("gap = %v", gap)
	}
	if _, err := os.Stat(recoveryPath); err != nil {
		t.Errorf("recovery marker not written: %v", err)
	}
	select {
	case alert := <-m.Alerts():
		if alert.Kind != "auto-compact" {
			t.Errorf("Kind = %q, want auto-compact", alert.Kind)
		}
		if alert.Severity != bus.SeverityWarning {
			t.Errorf("Severity = %v, want warning", alert.Severity)
		}
	default:
		t.Fatal("no auto-compact alert")
	}
}

func TestDetectIdleGapBoundaries(t *testing.T) {
	m := newTestMonitor(t, Options{
		IdleGapLow:  5 * time.Minute,
		IdleGapHigh: 180 * time.Minute,
	})
	now := time.Now()
	m.now = func() time.Time { return now }

	tests := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"short pause", 2 * time.Minute, false},
		{"at low threshold", 5 * time.Minute, false},
		{"inside window", 90 * time.Minute, true},
		{"at high threshold", 180 * time.Minute, false},
		{"overnight", 10 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.state.LastActivity = now.UTC().Add(-tt.gap)
			if _, got := m.DetectIdleGap(); got != tt.want {
				t.Errorf("detected = %v, want %v", got, tt.want)
			}
		})
	}

	m.state.LastActivity = time.Time{}
	if _, got := m.DetectIdleGap(); got {
		t.Error("zero last activity should not detect a gap")
	}
}

func TestSessionPersistsAcrossRestart(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	m1 := New(Options{ContextWindow: 1000, SessionPath: sessionPath})
	m1.Record(bus.UsageEvent{InputTokens: 300, OutputTokens: 100})

	m2 := New(Options{ContextWindow: 1000, SessionPath: sessionPath})
	metrics := m2.Snapshot()
	if metrics.InputTokens != 300 || metrics.OutputTokens != 100 {
		t.Errorf("restored tokens = %d/%d, want 300/100", metrics.InputTokens, metrics.OutputTokens)
	}
	if metrics.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1", metrics.RequestCount)
	}
	if metrics.ContextPercentage != 40 {
		t.Errorf("ContextPercentage = %v, want 40", metrics.ContextPercentage)
	}
}

func TestReset(t *testing.T) {
	m := newTestMonitor(t, Options{ContextWindow: 1000})
	m.Record(bus.UsageEvent{InputTokens: 760})
	m.Reset()

	metrics := m.Snapshot()
	if metrics.InputTokens != 0 || metrics.OutputTokens != 0 || metrics.RequestCount != 0 {
		t.Errorf("counters not zeroed: %+v", metrics)
	}
	if metrics.Status != StatusGood {
		t.Errorf("Status = %v, want GOOD", metrics.Status)
	}
}

func TestCorruptSessionStartsFresh(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(sessionPath, []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	m := New(Options{ContextWindow: 1000, SessionPath: sessionPath})
	if metrics := m.Snapshot(); metrics.InputTokens != 0 {
		t.Errorf("InputTokens = %d, want 0", metrics.InputTokens)
	}
}
