package domain

import (
	"fmt"
	"strings"
)

// ValidateMessages checks an incoming conversation before the chain runs.
// The last message must be a non-empty user question.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("validate: %w", ErrEmptyQuestion)
	}
	for _, m := range messages {
		if !ValidRoles[m.Role] {
			return NewValidationError("role", string(m.Role), ErrInvalidRole)
		}
	}
	last := messages[len(messages)-1]
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("validate: %w", ErrEmptyQuestion)
	}
	return nil
}

// FormatHistory renders prior turns the way the condense and answer prompts
// expect: "Human:" and "Assistant:" lines, other roles verbatim.
func FormatHistory(messages []Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleUser:
			lines[i] = "Human: " + m.Content
		case RoleAssistant:
			lines[i] = "Assistant: " + m.Content
		default:
			lines[i] = string(m.Role) + ": " + m.Content
		}
	}
	return strings.Join(lines, "\n")
}
