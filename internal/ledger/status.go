package ledger

import "fmt"

// Stage identifies one of the three pipeline phases.
type Stage string

const (
	StageSubPrompt    Stage = "sub_prompt"
	StageStarAnswer   Stage = "star_answer"
	StageConversation Stage = "conversation"
)

// Stages lists all pipeline stages in execution order.
var Stages = []Stage{StageSubPrompt, StageStarAnswer, StageConversation}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageSubPrompt, StageStarAnswer, StageConversation:
		return true
	}
	return false
}

func (s Stage) String() string { return string(s) }

// Status is the processing state of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Statuses lists every status a work item can hold.
var Statuses = []Status{StatusPending, StatusInProgress, StatusComplete, StatusFailed, StatusSkipped}

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusInProgress, StatusComplete, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

func (st Status) String() string { return string(st) }

// ParseStatus converts a stored string back into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status: %q", s)
	}
	return st, nil
}
