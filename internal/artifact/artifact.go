// Package artifact defines the JSON documents each stage reads and writes,
// plus the parsing helpers that turn raw model output into them.
//
// Every artifact carries a Meta block so downstream stages resolve role,
// question and industry from structured fields rather than filenames.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Meta identifies the role, question and industry an artifact belongs to,
// and records which provider produced it.
type Meta struct {
	RoleID       string    `json:"role_id"`
	Role         string    `json:"role"`
	QuestionID   string    `json:"question_id"`
	Question     string    `json:"question"`
	IndustryID   string    `json:"industry_id"`
	Industry     string    `json:"industry"`
	PromptID     string    `json:"prompt_id,omitempty"`
	PromptNumber int       `json:"prompt_number,omitempty"`
	Provider     string    `json:"llm_provider"`
	Model        string    `json:"llm_model,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// SubPrompt is one generated answer blueprint from stage 1.
type SubPrompt struct {
	PromptID                string `json:"prompt_id"`
	PromptNumber            int    `json:"prompt_number"`
	TotalPrompts            int    `json:"total_prompts"`
	CoreInterviewQuestion   string `json:"core_interview_question"`
	LLMInstructions         string `json:"llm_instructions"`
	SkillFocus              string `json:"skill_focus"`
	SoftSkillHighlight      string `json:"soft_skill_highlight"`
	ScenarioThemeHint       string `json:"scenario_theme_hint"`
	FinalOutputInstructions string `json:"final_output_instructions"`
}

// Validate checks that every required field is populated.
func (p SubPrompt) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("prompt_id", p.PromptID)
	check("core_interview_question", p.CoreInterviewQuestion)
	check("llm_instructions", p.LLMInstructions)
	check("skill_focus", p.SkillFocus)
	check("soft_skill_highlight", p.SoftSkillHighlight)
	check("scenario_theme_hint", p.ScenarioThemeHint)
	check("final_output_instructions", p.FinalOutputInstructions)
	if p.PromptNumber <= 0 {
		missing = append(missing, "prompt_number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("subprompt missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SubPromptSet is the stage 1 artifact for one role/question/industry unit.
type SubPromptSet struct {
	Meta       Meta        `json:"metadata"`
	SubPrompts []SubPrompt `json:"subprompts"`
}

// StarAnswer is the stage 2 artifact for one subprompt.
type StarAnswer struct {
	Meta   Meta   `json:"metadata"`
	Answer string `json:"answer"`
}

// Dialogue holds the parsed turns of a stage 3 conversation. The raw text
// is always preserved in FullConversation even when turn parsing comes up
// empty.
type Dialogue struct {
	InterviewerQuestion string `json:"interviewer_question"`
	CandidateAnswer     string `json:"candidate_answer"`
	FollowUpQuestion    string `json:"follow_up_question"`
	FollowUpAnswer      string `json:"follow_up_answer"`
	FullConversation    string `json:"full_conversation"`
}

// Conversation is the stage 3 artifact.
type Conversation struct {
	Meta     Meta     `json:"metadata"`
	Dialogue Dialogue `json:"dialogue"`
}

// SaveJSON writes v as indented JSON, creating parent directories.
func SaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SaveMarkdown writes the raw text twin of a JSON artifact for direct
// reading, creating parent directories.
func SaveMarkdown(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadSubPromptSet reads a stage 1 artifact.
func LoadSubPromptSet(path string) (*SubPromptSet, error) {
	var set SubPromptSet
	if err := loadJSON(path, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadStarAnswer reads a stage 2 artifact.
func LoadStarAnswer(path string) (*StarAnswer, error) {
	var answer StarAnswer
	if err := loadJSON(path, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// LoadConversation reads a stage 3 artifact.
func LoadConversation(path string) (*Conversation, error) {
	var conv Conversation
	if err := loadJSON(path, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
