package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"starforge/internal/config"
	"starforge/internal/ledger"
	"starforge/internal/llm"
	"starforge/internal/pipeline"
	"starforge/internal/usage"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Run flags
	stageName      string
	resume         bool
	roleFilter     string
	questionFilter string
	industryFilter string

	// Clean flags
	cleanStage  string
	cleanAll    bool
	removeFiles bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "starforge",
	Short: "starforge - staged interview answer generation pipeline",
	Long: `starforge generates interview training content in three stages:

  1. subprompts:    expand each role/question/industry into answer blueprints
  2. answers:       expand each blueprint into a full STAR answer
  3. conversations: rework each answer into an interview dialogue

Progress is tracked in a SQLite ledger so interrupted runs pick up where
they left off instead of regenerating finished work.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes pipeline stages
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one or all pipeline stages",
	Long: `Runs the requested stages in pipeline order. Each unit of work is
checked against the ledger first: completed units are skipped, so re-running
after an interruption only generates what is missing.

Examples:
  starforge run --stage all
  starforge run --stage subprompts --role "Test Data Manager"
  starforge run --stage answers --resume`,
	RunE: runPipeline,
}

// statusCmd shows ledger progress
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage progress from the ledger",
	RunE:  showStatus,
}

// cleanCmd resets pipeline state
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Reset ledger state, optionally removing generated files",
	Long: `Deletes ledger rows for a stage (or all stages with --all) so the
next run regenerates them. With --remove-files the stage's output directory
is deleted as well.

Examples:
  starforge clean --stage conversations
  starforge clean --all --remove-files`,
	RunE: runClean,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	runCmd.Flags().StringVar(&stageName, "stage", "all", "Stage to run: all, subprompts, answers, conversations")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Retry failed units still under the attempt cap")
	runCmd.Flags().StringVar(&roleFilter, "role", "", "Only process matching roles (substring)")
	runCmd.Flags().StringVar(&questionFilter, "question", "", "Only process matching question ids (substring)")
	runCmd.Flags().StringVar(&industryFilter, "industry", "", "Only process matching industries (substring)")

	cleanCmd.Flags().StringVar(&cleanStage, "stage", "", "Stage to reset: subprompts, answers, conversations")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Reset every stage")
	cleanCmd.Flags().BoolVar(&removeFiles, "remove-files", false, "Also delete the generated output files")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseStages resolves a --stage argument to pipeline order.
func parseStages(name string) ([]ledger.Stage, error) {
	switch name {
	case "all":
		return ledger.Stages, nil
	case "subprompts", "sub_prompt":
		return []ledger.Stage{ledger.StageSubPrompt}, nil
	case "answers", "star_answer":
		return []ledger.Stage{ledger.StageStarAnswer}, nil
	case "conversations", "conversation":
		return []ledger.Stage{ledger.StageConversation}, nil
	default:
		return nil, fmt.Errorf("unknown stage: %s (valid: all, subprompts, answers, conversations)", name)
	}
}

// parseCleanStages resolves clean's flags. Unlike run, clean takes "all"
// only through the --all flag, so --stage is restricted to single stages.
func parseCleanStages(stage string, all bool) ([]ledger.Stage, error) {
	if all {
		return ledger.Stages, nil
	}
	switch stage {
	case "":
		return nil, fmt.Errorf("specify --stage or --all")
	case "all":
		return nil, fmt.Errorf("--stage takes a single stage, use --all to reset every stage")
	}
	return parseStages(stage)
}

// runPipeline wires the ledger, providers and runner together and executes
// the requested stages.
func runPipeline(cmd *cobra.Command, args []string) error {
	stages, err := parseStages(stageName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, finishing current unit")
		cancel()
	}()

	led, err := ledger.Open(cfg.StateDBPath(), logger)
	if err != nil {
		return err
	}
	defer led.Close()

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	tracker, err := usage.NewTracker(cfg.UsageFilePath(), runID)
	if err != nil {
		return err
	}

	logger.Info("starting pipeline run",
		zap.String("run_id", runID),
		zap.String("stage", stageName),
		zap.Bool("resume", resume))

	runner := pipeline.NewRunner(cfg, led, dispatcher, tracker, pipeline.Options{
		Filters: pipeline.Filters{
			Role:     roleFilter,
			Question: questionFilter,
			Industry: industryFilter,
		},
		Resume: resume,
	}, logger)

	runErr := runner.Run(ctx, stages)

	if err := tracker.Save(); err != nil {
		logger.Warn("failed to save usage data", zap.Error(err))
	}
	printSummaries(led, stages)

	return runErr
}

// buildDispatcher creates the provider clients from configuration. A
// fallback provider without a key is dropped with a warning rather than
// failing the run.
func buildDispatcher(cfg *config.Config) (*llm.Dispatcher, error) {
	primary, err := buildClient(cfg, cfg.LLM.PrimaryProvider)
	if err != nil {
		return nil, err
	}

	var fallback llm.Client
	if name := cfg.LLM.FallbackProvider; name != "" && name != cfg.LLM.PrimaryProvider {
		if cfg.Provider(name).APIKey == "" {
			logger.Warn("fallback provider has no API key, disabling fallback",
				zap.String("provider", name))
		} else {
			fallback, err = buildClient(cfg, name)
			if err != nil {
				return nil, err
			}
		}
	}

	return llm.NewDispatcher(primary, fallback, llm.DispatcherOptions{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.GetRetryDelay(),
	}, logger), nil
}

func buildClient(cfg *config.Config, provider string) (llm.Client, error) {
	pc := cfg.Provider(provider)
	return llm.NewClient(provider, llm.ClientConfig{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   pc.Model,
		Timeout: cfg.GetRequestTimeout(),
	})
}

// showStatus prints the ledger summary for every stage.
func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	led, err := ledger.Open(cfg.StateDBPath(), logger)
	if err != nil {
		return err
	}
	defer led.Close()

	printSummaries(led, ledger.Stages)
	return nil
}

func printSummaries(led *ledger.Ledger, stages []ledger.Stage) {
	for _, stage := range stages {
		summary, err := led.GetSummary(stage)
		if err != nil {
			fmt.Printf("%s: failed to read summary: %v\n", stage, err)
			continue
		}
		fmt.Printf("%s: %d total", stage, summary.Total)
		for _, status := range ledger.Statuses {
			if n := summary.Counts[status]; n > 0 {
				fmt.Printf(", %d %s", n, status)
			}
		}
		fmt.Println()
	}
}

// runClean resets ledger rows and optionally deletes output files.
func runClean(cmd *cobra.Command, args []string) error {
	stages, err := parseCleanStages(cleanStage, cleanAll)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	led, err := ledger.Open(cfg.StateDBPath(), logger)
	if err != nil {
		return err
	}
	defer led.Close()

	outputDirs := map[ledger.Stage]string{
		ledger.StageSubPrompt:    cfg.SubPromptsPath(),
		ledger.StageStarAnswer:   cfg.AnswersPath(),
		ledger.StageConversation: cfg.ConversationsPath(),
	}

	for _, stage := range stages {
		removed, err := led.ResetStage(stage)
		if err != nil {
			return fmt.Errorf("failed to reset %s: %w", stage, err)
		}
		fmt.Printf("%s: removed %d ledger entries\n", stage, removed)

		if removeFiles {
			dir := outputDirs[stage]
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("failed to remove %s: %w", dir, err)
			}
			fmt.Printf("%s: removed output directory %s\n", stage, dir)
		}
	}
	return nil
}
