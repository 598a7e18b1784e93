// Package pipeline drives the three generation stages against the ledger.
//
// Each stage walks its unit of work through the same lifecycle: derive a
// deterministic id, skip it when already complete, mark it in progress,
// generate, write artifacts, and record the outcome. Individual unit
// failures never abort a stage; they are recorded and reported in the
// stage summary.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"starforge/internal/config"
	"starforge/internal/ledger"
	"starforge/internal/llm"
	"starforge/internal/usage"
)

// Generator issues one generation request, returning nil when every
// configured provider is exhausted.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerationRequest) *llm.GenerationResult
}

// Filters narrows a run to matching roles, questions and industries.
// Matching is case-insensitive substring; empty fields match everything.
type Filters struct {
	Role     string
	Question string
	Industry string
}

// MatchRole reports whether a role name or slug passes the filter.
func (f Filters) MatchRole(name, slug string) bool {
	return matchFilter(f.Role, name, slug)
}

// MatchQuestion reports whether a question id passes the filter.
func (f Filters) MatchQuestion(id string) bool {
	return matchFilter(f.Question, id)
}

// MatchIndustry reports whether an industry name or slug passes the filter.
func (f Filters) MatchIndustry(name, slug string) bool {
	return matchFilter(f.Industry, name, slug)
}

func matchFilter(filter string, candidates ...string) bool {
	if filter == "" {
		return true
	}
	filter = strings.ToLower(filter)
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), filter) {
			return true
		}
	}
	return false
}

// Stats summarizes one stage run.
type Stats struct {
	Total     int
	Processed int
	Failed    int
	Skipped   int
}

// Attempted returns the number of units that actually ran.
func (s Stats) Attempted() int {
	return s.Processed + s.Failed
}

// Runner executes pipeline stages.
type Runner struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	gen     Generator
	usage   *usage.Tracker
	logger  *zap.Logger
	filters Filters
	resume  bool

	// Injectable for tests.
	sleep   func(time.Duration)
	randInt func(int) int
	now     func() time.Time
}

// Options configures a Runner beyond its collaborators.
type Options struct {
	Filters Filters
	// Resume skips failed units that already reached the attempt cap
	// instead of retrying them forever.
	Resume bool
}

// NewRunner creates a stage runner. usage may be nil to disable tracking.
func NewRunner(cfg *config.Config, led *ledger.Ledger, gen Generator, tracker *usage.Tracker, opts Options, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		ledger:  led,
		gen:     gen,
		usage:   tracker,
		logger:  logger,
		filters: opts.Filters,
		resume:  opts.Resume,
		sleep:   time.Sleep,
		randInt: rand.Intn,
		now:     time.Now,
	}
}

// Run executes the requested stages in pipeline order. A stage that fails
// outright stops the run, since later stages depend on its output.
func (r *Runner) Run(ctx context.Context, stages []ledger.Stage) error {
	for _, stage := range stages {
		var stats *Stats
		var err error

		switch stage {
		case ledger.StageSubPrompt:
			stats, err = r.RunSubPrompts(ctx)
		case ledger.StageStarAnswer:
			stats, err = r.RunStarAnswers(ctx)
		case ledger.StageConversation:
			stats, err = r.RunConversations(ctx)
		default:
			return fmt.Errorf("unknown stage: %s", stage)
		}

		if stats != nil {
			r.logger.Info("stage finished",
				zap.String("stage", string(stage)),
				zap.Int("total", stats.Total),
				zap.Int("processed", stats.Processed),
				zap.Int("failed", stats.Failed),
				zap.Int("skipped", stats.Skipped))
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}

type unitOutcome int

const (
	unitProcessed unitOutcome = iota
	unitFailed
	unitSkipped
	unitAborted
)

// runUnit walks one unit of work through the ledger lifecycle. fn does the
// actual generation and returns the output path it wrote.
//
// A cancelled context aborts before the unit is registered, so an
// interrupted run leaves every untouched unit absent from the ledger and a
// later run picks them up as new work.
func (r *Runner) runUnit(ctx context.Context, id string, stage ledger.Stage, stats *Stats, fn func() (string, error)) (unitOutcome, string) {
	if err := ctx.Err(); err != nil {
		r.logger.Warn("run cancelled, stopping stage",
			zap.String("id", id),
			zap.Error(err))
		return unitAborted, ""
	}

	stats.Total++

	status, known, err := r.ledger.GetStatus(id)
	if err != nil {
		r.logger.Error("failed to read ledger status", zap.String("id", id), zap.Error(err))
		stats.Failed++
		return unitFailed, ""
	}

	if known && status == ledger.StatusComplete {
		path, _, err := r.ledger.GetOutputPath(id)
		if err != nil {
			r.logger.Error("failed to read output path", zap.String("id", id), zap.Error(err))
		}
		r.logger.Debug("already complete, skipping", zap.String("id", id))
		stats.Skipped++
		return unitSkipped, path
	}

	// Failed units are only retried in resume mode, and only while under
	// the attempt cap.
	if known && status == ledger.StatusFailed {
		if !r.resume {
			r.logger.Debug("previously failed, skipping (run with --resume to retry)",
				zap.String("id", id))
			stats.Skipped++
			return unitSkipped, ""
		}
		attempts, err := r.ledger.GetAttempts(id)
		if err == nil && attempts >= r.cfg.Pipeline.MaxAttempts {
			r.logger.Warn("attempt cap reached, skipping",
				zap.String("id", id),
				zap.Int("attempts", attempts))
			stats.Skipped++
			return unitSkipped, ""
		}
	}

	if err := r.ledger.UpsertPending(id, stage); err != nil {
		r.logger.Error("failed to register work item", zap.String("id", id), zap.Error(err))
		stats.Failed++
		return unitFailed, ""
	}
	if err := r.ledger.MarkInProgress(id); err != nil {
		r.logger.Error("failed to mark in progress", zap.String("id", id), zap.Error(err))
		stats.Failed++
		return unitFailed, ""
	}

	path, err := fn()
	if err != nil {
		r.logger.Error("unit failed", zap.String("id", id), zap.Error(err))
		if lerr := r.ledger.MarkFailed(id, err.Error()); lerr != nil {
			r.logger.Error("failed to record failure", zap.String("id", id), zap.Error(lerr))
		}
		stats.Failed++
		return unitFailed, ""
	}

	if err := r.ledger.MarkComplete(id, path); err != nil {
		r.logger.Error("failed to record completion", zap.String("id", id), zap.Error(err))
		stats.Failed++
		return unitFailed, ""
	}
	stats.Processed++
	return unitProcessed, path
}

// stageError converts a stage's stats into its overall verdict: a stage
// fails only when it attempted work and none of it succeeded.
func stageError(stage ledger.Stage, stats *Stats) error {
	if stats.Attempted() >= 1 && stats.Processed == 0 {
		return fmt.Errorf("all %d attempted units failed", stats.Failed)
	}
	return nil
}

// generate dispatches one request and records its token usage.
func (r *Runner) generate(ctx context.Context, stage ledger.Stage, req llm.GenerationRequest) (*llm.GenerationResult, error) {
	result := r.gen.Generate(ctx, req)
	if result == nil {
		return nil, fmt.Errorf("no response from any provider")
	}
	if r.usage != nil && result.Usage != nil {
		r.usage.Track(result.Provider, result.Model, string(stage), result.Usage.Input, result.Usage.Output)
	}
	return result, nil
}

// pause applies the inter-item delay between generation calls.
func (r *Runner) pause() {
	if delay := r.cfg.GetAPIDelay(); delay > 0 {
		r.sleep(delay)
	}
}
