package analyze

import (
	"fmt"
	"strings"

	"github.com/harun/iris/pkg/session"
)

const (
	// DefaultUserTurn is recorded as the user's turn when no question was asked
	DefaultUserTurn = "Analyze this image"

	historyHeader = "IMPORTANT CONVERSATION HISTORY (Reference this to answer user questions):"

	describeInstruction = "Describe what you see in this image in a concise, professional manner."
	questionInstruction = "Use both the image AND the conversation history below to answer the question. " +
		"If information was provided in earlier messages, use that information in your answer."
	questionClosing = "Please respond concisely but completely."
)

// Mode is the kind of prompt sent to the provider
type Mode string

const (
	ModeDescribe Mode = "describe"
	ModeQuestion Mode = "question"
)

func modeFor(question string) Mode {
	if question != "" {
		return ModeQuestion
	}
	return ModeDescribe
}

// renderHistory formats turns as a numbered context block. When limit is
// positive only the most recent limit turns are kept; numbering still
// reflects each turn's position in the full conversation. No turns renders
// as the empty string.
func renderHistory(turns []session.Turn, limit int) string {
	offset := 0
	if limit > 0 && len(turns) > limit {
		offset = len(turns) - limit
	}
	if len(turns)-offset == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(historyHeader)
	b.WriteString("\n")
	for i, t := range turns[offset:] {
		fmt.Fprintf(&b, "[%d] %s: %s\n", offset+i+1, t.Role, t.Content)
	}
	return b.String()
}

// composePrompt builds the text sent alongside the image
func composePrompt(question, history string) string {
	if question == "" {
		return describeInstruction + history
	}
	return fmt.Sprintf("Question about this image: %s\n\n%s%s\n\n%s",
		question, questionInstruction, history, questionClosing)
}
