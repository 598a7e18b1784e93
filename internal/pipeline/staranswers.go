package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"starforge/internal/artifact"
	"starforge/internal/ledger"
	"starforge/internal/llm"
	"starforge/internal/prompt"
)

// RunStarAnswers executes stage 2: for every completed subprompt set, expand
// each blueprint into a full STAR answer, written as JSON with a markdown
// twin.
func (r *Runner) RunStarAnswers(ctx context.Context) (*Stats, error) {
	template, err := prompt.LoadTemplate(r.cfg.Prompts.StarAnswerTemplate)
	if err != nil {
		return nil, err
	}

	completed, err := r.ledger.QueryCompleted(ledger.StageSubPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed subprompt sets: %w", err)
	}

	stats := &Stats{}

	for _, item := range completed {
		if _, err := os.Stat(item.OutputPath); err != nil {
			r.logger.Warn("completed subprompt set missing on disk, skipping",
				zap.String("id", item.ID),
				zap.String("path", item.OutputPath))
			continue
		}

		set, err := artifact.LoadSubPromptSet(item.OutputPath)
		if err != nil {
			r.logger.Error("failed to load subprompt set",
				zap.String("id", item.ID), zap.Error(err))
			continue
		}
		if !r.matchMeta(set.Meta) {
			continue
		}

		for _, sub := range set.SubPrompts {
			sub := sub
			meta := set.Meta
			id := fmt.Sprintf("%s_%s_%s_%d_star", meta.RoleID, meta.QuestionID, meta.IndustryID, sub.PromptNumber)
			outcome, _ := r.runUnit(ctx, id, ledger.StageStarAnswer, stats, func() (string, error) {
				return r.generateStarAnswer(ctx, template, meta, sub)
			})
			if outcome == unitAborted {
				return stats, ctx.Err()
			}
			if outcome != unitSkipped {
				r.pause()
			}
		}
	}

	return stats, stageError(ledger.StageStarAnswer, stats)
}

func (r *Runner) matchMeta(meta artifact.Meta) bool {
	return r.filters.MatchRole(meta.Role, meta.RoleID) &&
		r.filters.MatchQuestion(meta.QuestionID) &&
		r.filters.MatchIndustry(meta.Industry, meta.IndustryID)
}

func (r *Runner) generateStarAnswer(ctx context.Context, template string, meta artifact.Meta, sub artifact.SubPrompt) (string, error) {
	built, err := prompt.Substitute(template, map[string]string{
		"ROLE":                      meta.Role,
		"INDUSTRY":                  meta.Industry,
		"INTERVIEW_QUESTION":        sub.CoreInterviewQuestion,
		"LLM_INSTRUCTIONS":          sub.LLMInstructions,
		"SKILL_FOCUS":               sub.SkillFocus,
		"SOFT_SKILL_HIGHLIGHT":      sub.SoftSkillHighlight,
		"SCENARIO_THEME":            sub.ScenarioThemeHint,
		"FINAL_OUTPUT_INSTRUCTIONS": sub.FinalOutputInstructions,
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("generating STAR answer",
		zap.String("role", meta.Role),
		zap.String("question", meta.QuestionID),
		zap.String("industry", meta.Industry),
		zap.Int("prompt_number", sub.PromptNumber))

	result, err := r.generate(ctx, ledger.StageStarAnswer, llm.GenerationRequest{
		Prompt:      built,
		MaxTokens:   r.cfg.Pipeline.AnswerMaxTokens,
		Temperature: r.cfg.Pipeline.Temperature,
	})
	if err != nil {
		return "", err
	}

	answerMeta := meta
	answerMeta.PromptID = sub.PromptID
	answerMeta.PromptNumber = sub.PromptNumber
	answerMeta.Provider = result.Provider
	answerMeta.Model = result.Model
	answerMeta.GeneratedAt = r.now().UTC()

	answer := artifact.StarAnswer{
		Meta:   answerMeta,
		Answer: result.Text,
	}

	filename := artifact.StarAnswerFilename(meta.RoleID, meta.QuestionID, meta.IndustryID, sub.PromptNumber)
	path := filepath.Join(r.cfg.AnswersPath(), filename)
	if err := artifact.SaveJSON(path, answer); err != nil {
		return "", err
	}

	mdPath := filepath.Join(r.cfg.AnswersPath(), artifact.MarkdownTwin(filename))
	if err := artifact.SaveMarkdown(mdPath, result.Text); err != nil {
		r.logger.Warn("failed to write markdown twin", zap.String("path", mdPath), zap.Error(err))
	}
	return path, nil
}
