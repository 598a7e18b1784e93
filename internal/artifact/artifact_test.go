package artifact

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSubPrompt(n int) SubPrompt {
	return SubPrompt{
		PromptID:                "tdm_q1_fin_1",
		PromptNumber:            n,
		TotalPrompts:            3,
		CoreInterviewQuestion:   "Tell me about a time you improved data quality.",
		LLMInstructions:         "Write a first-person STAR answer.",
		SkillFocus:              "data governance",
		SoftSkillHighlight:      "stakeholder communication",
		ScenarioThemeHint:       "regulatory audit preparation",
		FinalOutputInstructions: "Use Situation, Task, Action, Result headings.",
	}
}

func TestSubPromptValidate(t *testing.T) {
	assert.NoError(t, validSubPrompt(1).Validate())

	p := validSubPrompt(1)
	p.SkillFocus = ""
	p.ScenarioThemeHint = "  "
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skill_focus")
	assert.Contains(t, err.Error(), "scenario_theme_hint")

	p = validSubPrompt(0)
	err = p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt_number")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	set := SubPromptSet{
		Meta: Meta{
			RoleID:      "tdm",
			Role:        "Test Data Manager",
			QuestionID:  "q1",
			IndustryID:  "fin",
			Industry:    "Finance",
			Provider:    "gemini",
			GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		SubPrompts: []SubPrompt{validSubPrompt(1), validSubPrompt(2)},
	}

	path := filepath.Join(dir, "nested", SubPromptSetFilename("tdm", "q1", "fin"))
	require.NoError(t, SaveJSON(path, set))

	loaded, err := LoadSubPromptSet(path)
	require.NoError(t, err)
	if diff := cmp.Diff(set, *loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadSubPromptSet(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = LoadStarAnswer(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestExtractJSONArray(t *testing.T) {
	text := "Here are your prompts:\n```json\n[{\"a\": 1}]\n```\nEnjoy!"
	raw, err := ExtractJSONArray(text)
	require.NoError(t, err)
	assert.Equal(t, `[{"a": 1}]`, raw)

	_, err = ExtractJSONArray("no array here")
	assert.Error(t, err)

	_, err = ExtractJSONArray("] backwards [")
	assert.Error(t, err)
}

func TestParseSubPrompts(t *testing.T) {
	text := `Sure! [
		{
			"prompt_id": "tdm_q1_fin_1",
			"prompt_number": 1,
			"total_prompts": 1,
			"core_interview_question": "Tell me about a challenge.",
			"llm_instructions": "Write a STAR answer.",
			"skill_focus": "test data provisioning",
			"soft_skill_highlight": "negotiation",
			"scenario_theme_hint": "legacy system migration",
			"final_output_instructions": "400-600 words."
		}
	]`
	prompts, err := ParseSubPrompts(text)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "tdm_q1_fin_1", prompts[0].PromptID)

	_, err = ParseSubPrompts("[]")
	assert.Error(t, err, "empty array is a failed unit")

	_, err = ParseSubPrompts(`[{"prompt_id": "x"}]`)
	assert.Error(t, err, "missing required fields")
}

func TestParseDialogue(t *testing.T) {
	text := `Interviewer: Can you walk me through a data quality challenge?

Candidate: Certainly. In my last role we discovered
drift between staging and production datasets.

Interviewer: How did you prevent it recurring?

Candidate: We added automated reconciliation checks.`

	d := ParseDialogue(text)
	assert.Equal(t, "Can you walk me through a data quality challenge?", d.InterviewerQuestion)
	assert.Equal(t, "Certainly. In my last role we discovered\ndrift between staging and production datasets.", d.CandidateAnswer)
	assert.Equal(t, "How did you prevent it recurring?", d.FollowUpQuestion)
	assert.Equal(t, "We added automated reconciliation checks.", d.FollowUpAnswer)
	assert.Equal(t, text, d.FullConversation)
}

func TestParseDialogueUnstructured(t *testing.T) {
	text := "The model ignored the format entirely."
	d := ParseDialogue(text)
	assert.Empty(t, d.InterviewerQuestion)
	assert.Empty(t, d.CandidateAnswer)
	assert.Equal(t, text, d.FullConversation)
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "tdm_q1_fin_subprompts.json", SubPromptSetFilename("tdm", "q1", "fin"))
	assert.Equal(t, "tdm_q1_fin_2_star.json", StarAnswerFilename("tdm", "q1", "fin", 2))
	assert.Equal(t, "tdm_q1_fin_2_star_conversation.json", ConversationFilename("tdm_q1_fin_2_star.json"))
	assert.Equal(t, "tdm_q1_fin_2_star.md", MarkdownTwin("tdm_q1_fin_2_star.json"))
}
