package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"starforge/internal/artifact"
	"starforge/internal/config"
	"starforge/internal/ledger"
	"starforge/internal/llm"
	"starforge/internal/prompt"
)

// RunSubPrompts executes stage 1: for every role, question and assigned
// industry, generate a set of answer blueprints and persist them as one
// artifact per unit.
func (r *Runner) RunSubPrompts(ctx context.Context) (*Stats, error) {
	template, err := prompt.LoadTemplate(r.cfg.Prompts.SubPromptTemplate)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}

	for _, role := range r.cfg.Roles {
		if !r.filters.MatchRole(role.Name, role.Slug()) {
			continue
		}
		skills := prompt.LoadRoleSkills(role.SkillsFile, role.Name)

		for qIdx, question := range role.Questions {
			if !r.filters.MatchQuestion(question.ID) {
				continue
			}

			for _, industry := range r.industriesFor(qIdx) {
				if !r.filters.MatchIndustry(industry.Name, industry.Slug()) {
					continue
				}

				id := fmt.Sprintf("%s_%s_%s", role.Slug(), question.ID, industry.Slug())
				outcome, _ := r.runUnit(ctx, id, ledger.StageSubPrompt, stats, func() (string, error) {
					return r.generateSubPromptSet(ctx, template, skills, role, question, industry)
				})
				if outcome == unitAborted {
					return stats, ctx.Err()
				}
				if outcome != unitSkipped {
					r.pause()
				}
			}
		}
	}

	return stats, stageError(ledger.StageSubPrompt, stats)
}

// industriesFor selects the industries a question is generated against,
// according to the configured distribution mode.
func (r *Runner) industriesFor(questionIndex int) []config.IndustryConfig {
	industries := r.cfg.Industries
	switch r.cfg.Pipeline.IndustryDistribution {
	case "balanced":
		return industries
	case "random":
		i := r.randInt(len(industries))
		return industries[i : i+1]
	default: // cycle
		i := questionIndex % len(industries)
		return industries[i : i+1]
	}
}

func (r *Runner) generateSubPromptSet(ctx context.Context, template, skills string, role config.RoleConfig, question config.QuestionConfig, industry config.IndustryConfig) (string, error) {
	built, err := prompt.Substitute(template, map[string]string{
		"ROLE":               role.DisplayName(),
		"ROLE_SKILLS":        skills,
		"INTERVIEW_QUESTION": question.Text,
		"QUESTION_ID":        question.ID,
		"INDUSTRY":           industry.Name,
		"NUM_PROMPTS":        strconv.Itoa(r.cfg.Pipeline.AnswersPerQuestion),
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("generating subprompts",
		zap.String("role", role.Name),
		zap.String("question", question.ID),
		zap.String("industry", industry.Name))

	result, err := r.generate(ctx, ledger.StageSubPrompt, llm.GenerationRequest{
		Prompt:      built,
		MaxTokens:   r.cfg.Pipeline.SubPromptMaxTokens,
		Temperature: r.cfg.Pipeline.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return "", err
	}

	prompts, err := artifact.ParseSubPrompts(result.Text)
	if err != nil {
		return "", err
	}

	set := artifact.SubPromptSet{
		Meta: artifact.Meta{
			RoleID:      role.Slug(),
			Role:        role.Name,
			QuestionID:  question.ID,
			Question:    question.Text,
			IndustryID:  industry.Slug(),
			Industry:    industry.Name,
			Provider:    result.Provider,
			Model:       result.Model,
			GeneratedAt: r.now().UTC(),
		},
		SubPrompts: prompts,
	}

	path := filepath.Join(r.cfg.SubPromptsPath(),
		artifact.SubPromptSetFilename(role.Slug(), question.ID, industry.Slug()))
	if err := artifact.SaveJSON(path, set); err != nil {
		return "", err
	}
	return path, nil
}
