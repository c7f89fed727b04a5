package bus

import "time"

// UsageEvent reports the token consumption of one completed assistant turn.
type UsageEvent struct {
	SessionID    string
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time // turn completion time; zero means "now"
}

// Severity labels an Alert. Higher values are more urgent.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is emitted by the budget monitor when a context threshold is newly
// crossed, or when an idle-gap check suggests an external auto-compact.
type Alert struct {
	Severity   Severity
	Kind       string // "context-threshold" or "auto-compact"
	Message    string
	Percentage float64
	Timestamp  time.Time
}

// OptimizationReport summarizes one optimization pass over the memory store.
type OptimizationReport struct {
	Trigger         string // severity that scheduled the pass
	ArchivedRecords int
	TokensBefore    int
	TokensAfter     int
	StartedAt       time.Time
	Duration        time.Duration
}
