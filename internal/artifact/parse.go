package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONArray pulls the JSON array out of raw model output, tolerating
// surrounding prose or markdown fences. The array spans the first '[' to the
// last ']'.
func ExtractJSONArray(text string) (string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("no JSON array found in response")
	}
	return text[start : end+1], nil
}

// ParseSubPrompts decodes the stage 1 response into subprompts, validating
// each entry's required fields.
func ParseSubPrompts(text string) ([]SubPrompt, error) {
	raw, err := ExtractJSONArray(text)
	if err != nil {
		return nil, err
	}

	var prompts []SubPrompt
	if err := json.Unmarshal([]byte(raw), &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse subprompt array: %w", err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("response contained an empty subprompt array")
	}

	for i, p := range prompts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("subprompt %d: %w", i+1, err)
		}
	}
	return prompts, nil
}

// ParseDialogue splits a conversational response into interviewer and
// candidate turns. Lines beginning with "Interviewer:" or "Candidate:" open
// a turn; the first pair fills the main question and answer, the second pair
// the follow-ups. Unparseable text still yields a Dialogue carrying the full
// response.
func ParseDialogue(text string) Dialogue {
	d := Dialogue{FullConversation: text}

	var speaker string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		turn := strings.Join(current, "\n")
		switch speaker {
		case "Interviewer":
			if d.InterviewerQuestion == "" {
				d.InterviewerQuestion = turn
			} else if d.FollowUpQuestion == "" {
				d.FollowUpQuestion = turn
			}
		case "Candidate":
			if d.CandidateAnswer == "" {
				d.CandidateAnswer = turn
			} else if d.FollowUpAnswer == "" {
				d.FollowUpAnswer = turn
			}
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Interviewer:"):
			flush()
			speaker = "Interviewer"
			current = []string{strings.TrimSpace(strings.TrimPrefix(line, "Interviewer:"))}
		case strings.HasPrefix(line, "Candidate:"):
			flush()
			speaker = "Candidate"
			current = []string{strings.TrimSpace(strings.TrimPrefix(line, "Candidate:"))}
		default:
			if speaker != "" {
				current = append(current, line)
			}
		}
	}
	flush()

	return d
}
