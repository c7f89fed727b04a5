package memory

import (
	"fmt"
	"log/slog"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/recall/internal/config"
)

// Janitor runs the background maintenance jobs: a nightly archival pass over
// the conversation log and a periodic index-snapshot flush.
type Janitor struct {
	engine *Engine
	logger *slog.Logger
	cron   *rcron.Cron
}

func NewJanitor(engine *Engine, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		engine: engine,
		logger: logger.With("component", "janitor"),
	}
}

func (j *Janitor) Start(cfg config.JanitorConfig) error {
	j.cron = rcron.New(rcron.WithSeconds())

	if _, err := j.cron.AddFunc(cfg.ArchiveSchedule, func() {
		if _, err := j.engine.Optimize("scheduled"); err != nil {
			j.logger.Warn("scheduled archival failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register archive schedule %q: %w", cfg.ArchiveSchedule, err)
	}

	if _, err := j.cron.AddFunc(cfg.SnapshotSchedule, func() {
		if err := j.engine.SaveSnapshot(); err != nil {
			j.logger.Warn("scheduled snapshot flush failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register snapshot schedule %q: %w", cfg.SnapshotSchedule, err)
	}

	j.cron.Start()
	j.logger.Info("maintenance jobs scheduled",
		"archive", cfg.ArchiveSchedule, "snapshot", cfg.SnapshotSchedule)
	return nil
}

func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}
