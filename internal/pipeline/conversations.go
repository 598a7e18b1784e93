package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"starforge/internal/artifact"
	"starforge/internal/ledger"
	"starforge/internal/llm"
	"starforge/internal/prompt"
)

// RunConversations executes stage 3: rework every completed STAR answer
// into an interview dialogue, filed under a role/industry directory tree.
func (r *Runner) RunConversations(ctx context.Context) (*Stats, error) {
	template, err := prompt.LoadTemplate(r.cfg.Prompts.ConversationTemplate)
	if err != nil {
		return nil, err
	}

	completed, err := r.ledger.QueryCompleted(ledger.StageStarAnswer)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed STAR answers: %w", err)
	}

	stats := &Stats{}

	for _, item := range completed {
		// A missing or unreadable upstream artifact fails this unit, not
		// the stage.
		star, loadErr := artifact.LoadStarAnswer(item.OutputPath)
		if loadErr == nil && !r.matchMeta(star.Meta) {
			continue
		}

		starFilename := filepath.Base(item.OutputPath)
		id := strings.TrimSuffix(starFilename, ".json") + "_conv"

		outcome, _ := r.runUnit(ctx, id, ledger.StageConversation, stats, func() (string, error) {
			if loadErr != nil {
				return "", fmt.Errorf("failed to load upstream STAR answer: %w", loadErr)
			}
			return r.generateConversation(ctx, template, star, starFilename)
		})
		if outcome == unitAborted {
			return stats, ctx.Err()
		}
		if outcome != unitSkipped {
			r.pause()
		}
	}

	return stats, stageError(ledger.StageConversation, stats)
}

func (r *Runner) generateConversation(ctx context.Context, template string, star *artifact.StarAnswer, starFilename string) (string, error) {
	built, err := prompt.Substitute(template, map[string]string{
		"ROLE":               star.Meta.Role,
		"INDUSTRY":           star.Meta.Industry,
		"INTERVIEW_QUESTION": star.Meta.Question,
		"STAR_ANSWER":        star.Answer,
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("generating conversation",
		zap.String("role", star.Meta.Role),
		zap.String("industry", star.Meta.Industry),
		zap.Int("prompt_number", star.Meta.PromptNumber))

	result, err := r.generate(ctx, ledger.StageConversation, llm.GenerationRequest{
		Prompt:      built,
		MaxTokens:   r.cfg.Pipeline.ConversationMaxTokens,
		Temperature: r.cfg.Pipeline.Temperature,
	})
	if err != nil {
		return "", err
	}

	dialogue := artifact.ParseDialogue(result.Text)

	meta := star.Meta
	meta.Provider = result.Provider
	meta.Model = result.Model
	meta.GeneratedAt = r.now().UTC()

	conv := artifact.Conversation{
		Meta:     meta,
		Dialogue: dialogue,
	}

	// Conversations nest under role and industry for easier browsing.
	roleDir := strings.ToLower(firstWord(meta.Role))
	industryDir := strings.ToLower(strings.NewReplacer(" ", "_", "/", "_").Replace(meta.Industry))
	filename := artifact.ConversationFilename(starFilename)
	path := filepath.Join(r.cfg.ConversationsPath(), roleDir, industryDir, filename)

	if err := artifact.SaveJSON(path, conv); err != nil {
		return "", err
	}

	mdPath := filepath.Join(filepath.Dir(path), artifact.MarkdownTwin(filename))
	if err := artifact.SaveMarkdown(mdPath, dialogue.FullConversation); err != nil {
		r.logger.Warn("failed to write markdown twin", zap.String("path", mdPath), zap.Error(err))
	}
	return path, nil
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
