package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/recall/internal/budget"
	"github.com/stellarlinkco/recall/internal/bus"
	"github.com/stellarlinkco/recall/internal/classify"
	"github.com/stellarlinkco/recall/internal/config"
	"github.com/stellarlinkco/recall/internal/memory"
	"github.com/stellarlinkco/recall/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "recall - conversation memory and context-assembly engine",
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Record a completed assistant turn and its token usage",
	RunE:  runTurn,
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Assemble the memory context block for a message",
	RunE:  runContext,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored conversations",
	RunE:  runSearch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show usage, risk, and store statistics",
	RunE:  runStatus,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run maintenance jobs and stream alerts until interrupted",
	RunE:  runServe,
}

var (
	messageFlag  string
	responseFlag string
	sessionFlag  string
	inputTokens  int
	outputTokens int
	queryFlag    string
	limitFlag    int
)

func init() {
	turnCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "User message")
	turnCmd.Flags().StringVarP(&responseFlag, "response", "r", "", "Assistant response")
	turnCmd.Flags().StringVarP(&sessionFlag, "session", "s", "default", "Session id")
	turnCmd.Flags().IntVar(&inputTokens, "input-tokens", 0, "Input tokens consumed")
	turnCmd.Flags().IntVar(&outputTokens, "output-tokens", 0, "Output tokens consumed")
	contextCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "New user message")
	searchCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Search query")
	searchCmd.Flags().IntVarP(&limitFlag, "limit", "n", 5, "Max results")
	rootCmd.AddCommand(onboardCmd, turnCmd, contextCmd, searchCmd, statusCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *memory.Engine
	tiers   *store.Store
	monitor *budget.Monitor
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	rules := classify.DefaultRules()
	if cfg.Classifier.RulesPath != "" {
		loaded, err := classify.LoadRules(cfg.Classifier.RulesPath)
		if err != nil {
			logger.Warn("rules file ignored, using defaults", "path", cfg.Classifier.RulesPath, "err", err)
		} else {
			rules = loaded
		}
	}
	classifier, err := classify.New(rules)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	engine, err := memory.NewEngine(memory.Options{
		DBPath:       cfg.DBPath(),
		SnapshotPath: cfg.SnapshotPath(),
		Classifier:   classifier,
		Retrieval:    cfg.Retrieval,
		Retention:    time.Duration(cfg.Janitor.RetentionDays) * 24 * time.Hour,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory engine: %w", err)
	}

	tiers, err := store.New(cfg.StoreDir(), logger)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("open tiered store: %w", err)
	}

	monitor := budget.New(budget.Options{
		ContextWindow:   cfg.Budget.ContextWindow,
		InputCostPer1K:  cfg.Budget.InputCostPer1K,
		OutputCostPer1K: cfg.Budget.OutputCostPer1K,
		AlertWindow:     config.Duration(cfg.Budget.AlertWindow, 0),
		OptimizeDelay:   config.Duration(cfg.Budget.OptimizeDelay, 0),
		IdleGapLow:      config.Duration(cfg.Budget.IdleGapLow, 0),
		IdleGapHigh:     config.Duration(cfg.Budget.IdleGapHigh, 0),
		SessionPath:     cfg.SessionPath(),
		RecoveryPath:    cfg.RecoveryPath(),
		Optimizer:       engine,
		Logger:          logger,
	})
	if gap, detected := monitor.DetectIdleGap(); detected {
		fmt.Fprintf(os.Stderr, "note: %s idle gap detected; external history may have been auto-compacted\n", gap)
	}

	return &app{cfg: cfg, logger: logger, engine: engine, tiers: tiers, monitor: monitor}, nil
}

func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("engine close failed", "err", err)
	}
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := store.New(cfg.StoreDir(), nil); err != nil {
		return err
	}
	fmt.Printf("Data directory ready: %s\n", cfg.DataDir)
	return nil
}

func runTurn(cmd *cobra.Command, args []string) error {
	if messageFlag == "" || responseFlag == "" {
		return fmt.Errorf("both --message and --response are required")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.engine.StoreResponse(messageFlag, responseFlag, sessionFlag)
	if err != nil {
		return fmt.Errorf("store turn: %w", err)
	}
	metrics := a.monitor.Record(bus.UsageEvent{
		SessionID:    sessionFlag,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    time.Now().UTC(),
	})
	fmt.Printf("Stored conversation %d (session %s)\n", id, sessionFlag)
	fmt.Printf("Context: %.1f%% used, status %s, risk %s\n",
		metrics.ContextPercentage, metrics.Status, metrics.RiskLevel)
	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	if messageFlag == "" {
		return fmt.Errorf("--message is required")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result := a.engine.BuildContext(messageFlag)
	fmt.Printf("Summary: %s\n", result.Summary)
	if result.ContextText != "" {
		fmt.Println()
		fmt.Print(result.ContextText)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if queryFlag == "" {
		return fmt.Errorf("--query is required")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	records := a.engine.SearchMemory(queryFlag, limitFlag)
	if len(records) == 0 {
		fmt.Println("No matching conversations.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("#%d [%s | %s] %s\n",
			rec.ID, rec.ContentType, rec.Timestamp.Format("2006-01-02 15:04"), truncate(rec.UserMessage, 70))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	metrics := a.monitor.Snapshot()
	fmt.Printf("Context: %.1f%% of %d tokens\n", metrics.ContextPercentage, a.cfg.Budget.ContextWindow)
	fmt.Printf("Status: %s (risk %s)\n", metrics.Status, metrics.RiskLevel)
	fmt.Printf("Tokens: %d in / %d out over %d turns\n",
		metrics.InputTokens, metrics.OutputTokens, metrics.RequestCount)
	fmt.Printf("Cost: $%.4f\n", metrics.Cost)

	es := a.engine.Stats()
	fmt.Printf("Conversations: %d across %d sessions\n", es.Conversations, es.Sessions)

	stats, err := a.tiers.Stats()
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	fmt.Printf("Store: %d entries, %d bytes\n", stats.Total.Files, stats.Total.Size)
	for _, tier := range store.Tiers {
		ts := stats.Tiers[tier]
		fmt.Printf("  %-10s %d entries, %d bytes\n", tier, ts.Files, ts.Size)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	janitor := memory.NewJanitor(a.engine, a.logger)
	if err := janitor.Start(a.cfg.Janitor); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("recall serving (ctrl-c to stop)")
	for {
		select {
		case alert := <-a.monitor.Alerts():
			fmt.Printf("[%s] %s: %s\n", alert.Severity, alert.Kind, alert.Message)
		case report := <-a.monitor.Reports():
			fmt.Printf("[optimize] archived %d records, est. tokens %d -> %d\n",
				report.ArchivedRecords, report.TokensBefore, report.TokensAfter)
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
