package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultContextWindow    = 200000
	DefaultInputCostPer1K   = 0.003
	DefaultOutputCostPer1K  = 0.015
	DefaultMaxResults       = 5
	DefaultArtifactResults  = 2
	DefaultRecencyWindow    = "1h"
	DefaultFreshWindow      = "24h"
	DefaultRetentionDays    = 90
	DefaultAlertWindow      = "5m"
	DefaultOptimizeDelay    = "5s"
	DefaultIdleGapLow       = "5m"
	DefaultIdleGapHigh      = "180m"
	DefaultArchiveSchedule  = "0 0 3 * * *"
	DefaultSnapshotSchedule = "0 */10 * * * *"
)

type Config struct {
	DataDir    string           `json:"dataDir"`
	Classifier ClassifierConfig `json:"classifier"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Budget     BudgetConfig     `json:"budget"`
	Janitor    JanitorConfig    `json:"janitor"`
}

// ClassifierConfig points at an optional external rule-table file. When
// RulesPath is empty or the file is missing, compiled-in defaults apply.
type ClassifierConfig struct {
	RulesPath string `json:"rulesPath,omitempty"`
}

type RetrievalConfig struct {
	MaxResults      int    `json:"maxResults,omitempty"`
	ArtifactResults int    `json:"artifactResults,omitempty"`
	RecencyWindow   string `json:"recencyWindow,omitempty"`
	FreshWindow     string `json:"freshWindow,omitempty"`
}

type BudgetConfig struct {
	ContextWindow   int     `json:"contextWindow,omitempty"`
	InputCostPer1K  float64 `json:"inputCostPer1k,omitempty"`
	OutputCostPer1K float64 `json:"outputCostPer1k,omitempty"`
	AlertWindow     string  `json:"alertWindow,omitempty"`
	OptimizeDelay   string  `json:"optimizeDelay,omitempty"`
	IdleGapLow      string  `json:"idleGapLow,omitempty"`
	IdleGapHigh     string  `json:"idleGapHigh,omitempty"`
}

// JanitorConfig controls the background maintenance jobs (nightly archival,
// periodic index-snapshot flush). Schedules use robfig/cron six-field syntax.
type JanitorConfig struct {
	RetentionDays    int    `json:"retentionDays,omitempty"`
	ArchiveSchedule  string `json:"archiveSchedule,omitempty"`
	SnapshotSchedule string `json:"snapshotSchedule,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".recall"),
		Retrieval: RetrievalConfig{
			MaxResults:      DefaultMaxResults,
			ArtifactResults: DefaultArtifactResults,
			RecencyWindow:   DefaultRecencyWindow,
			FreshWindow:     DefaultFreshWindow,
		},
		Budget: BudgetConfig{
			ContextWindow:   DefaultContextWindow,
			InputCostPer1K:  DefaultInputCostPer1K,
			OutputCostPer1K: DefaultOutputCostPer1K,
			AlertWindow:     DefaultAlertWindow,
			OptimizeDelay:   DefaultOptimizeDelay,
			IdleGapLow:      DefaultIdleGapLow,
			IdleGapHigh:     DefaultIdleGapHigh,
		},
		Janitor: JanitorConfig{
			RetentionDays:    DefaultRetentionDays,
			ArchiveSchedule:  DefaultArchiveSchedule,
			SnapshotSchedule: DefaultSnapshotSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".recall")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if dir := os.Getenv("RECALL_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if rules := os.Getenv("RECALL_RULES_PATH"); rules != "" {
		cfg.Classifier.RulesPath = rules
	}
	if window := os.Getenv("RECALL_CONTEXT_WINDOW"); window != "" {
		if parsed, err := strconv.Atoi(window); err == nil && parsed > 0 {
			cfg.Budget.ContextWindow = parsed
		}
	}
	if days := os.Getenv("RECALL_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Janitor.RetentionDays = parsed
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultConfig().DataDir
	}
	if cfg.Retrieval.MaxResults <= 0 {
		cfg.Retrieval.MaxResults = DefaultMaxResults
	}
	if cfg.Retrieval.ArtifactResults <= 0 {
		cfg.Retrieval.ArtifactResults = DefaultArtifactResults
	}
	if cfg.Retrieval.RecencyWindow == "" {
		cfg.Retrieval.RecencyWindow = DefaultRecencyWindow
	}
	if cfg.Retrieval.FreshWindow == "" {
		cfg.Retrieval.FreshWindow = DefaultFreshWindow
	}
	if cfg.Budget.ContextWindow <= 0 {
		cfg.Budget.ContextWindow = DefaultContextWindow
	}
	if cfg.Budget.InputCostPer1K <= 0 {
		cfg.Budget.InputCostPer1K = DefaultInputCostPer1K
	}
	if cfg.Budget.OutputCostPer1K <= 0 {
		cfg.Budget.OutputCostPer1K = DefaultOutputCostPer1K
	}
	if cfg.Budget.AlertWindow == "" {
		cfg.Budget.AlertWindow = DefaultAlertWindow
	}
	if cfg.Budget.OptimizeDelay == "" {
		cfg.Budget.OptimizeDelay = DefaultOptimizeDelay
	}
	if cfg.Budget.IdleGapLow == "" {
		cfg.Budget.IdleGapLow = DefaultIdleGapLow
	}
	if cfg.Budget.IdleGapHigh == "" {
		cfg.Budget.IdleGapHigh = DefaultIdleGapHigh
	}
	if cfg.Janitor.RetentionDays <= 0 {
		cfg.Janitor.RetentionDays = DefaultRetentionDays
	}
	if cfg.Janitor.ArchiveSchedule == "" {
		cfg.Janitor.ArchiveSchedule = DefaultArchiveSchedule
	}
	if cfg.Janitor.SnapshotSchedule == "" {
		cfg.Janitor.SnapshotSchedule = DefaultSnapshotSchedule
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// Duration parses a duration field, falling back to def when the field is
// empty or malformed. Config durations are tuning knobs; a typo should not
// prevent startup.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DBPath returns the conversation log location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "conversations.db")
}

// SnapshotPath returns the index snapshot location under the data dir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "index.json")
}

// StoreDir returns the tiered store root under the data dir.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// SessionPath returns the budget session metadata location.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// RecoveryPath returns the auto-compact recovery marker location.
func (c *Config) RecoveryPath() string {
	return filepath.Join(c.DataDir, "compact-recovery.json")
}
