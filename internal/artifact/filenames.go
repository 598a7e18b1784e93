package artifact

import (
	"fmt"
	"strings"
)

// SubPromptSetFilename names a stage 1 artifact.
func SubPromptSetFilename(roleID, questionID, industryID string) string {
	return fmt.Sprintf("%s_%s_%s_subprompts.json", roleID, questionID, industryID)
}

// StarAnswerFilename names a stage 2 artifact for one subprompt.
func StarAnswerFilename(roleID, questionID, industryID string, promptNumber int) string {
	return fmt.Sprintf("%s_%s_%s_%d_star.json", roleID, questionID, industryID, promptNumber)
}

// ConversationFilename names a stage 3 artifact derived from a stage 2 one.
func ConversationFilename(starFilename string) string {
	base := strings.TrimSuffix(starFilename, ".json")
	return base + "_conversation.json"
}

// MarkdownTwin swaps an artifact's .json extension for .md.
func MarkdownTwin(jsonFilename string) string {
	return strings.TrimSuffix(jsonFilename, ".json") + ".md"
}
