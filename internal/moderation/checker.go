package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/crtlab/crtchat/internal/llm/provider"
)

// Task carries the answer key material for the reasoning tasks a session
// may ask about. The moderation check must never let one of these answers
// through as a final answer.
type Task struct {
	ForbiddenAnswers []string
}

// Checker decides whether a candidate reply discloses a final answer.
// The detection algorithm is deliberately pluggable.
type Checker interface {
	// Leaks reports whether reply discloses a final answer for the task.
	Leaks(ctx context.Context, reply string, task Task) (bool, error)
}

// PatternChecker matches forbidden answers as standalone tokens.
type PatternChecker struct{}

// Leaks reports whether any forbidden answer appears as a whole word or
// standalone number in the reply. "420" does not leak "42"; "$42 total"
// does.
func (PatternChecker) Leaks(_ context.Context, reply string, task Task) (bool, error) {
	for _, answer := range task.ForbiddenAnswers {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(answer) + `\b`)
		if err != nil {
			return false, fmt.Errorf("compile answer pattern %q: %w", answer, err)
		}
		if re.MatchString(reply) {
			return true, nil
		}
	}
	return false, nil
}

// classifierPrompt asks a secondary model for a one-word verdict.
const classifierPrompt = `You review chat replies for a research study. The assistant must give hints, never final answers. Reply with exactly one word: LEAK if the text below states a final numeric or definitive answer to the participant's task, or OK otherwise.`

// ClassifierChecker asks a secondary LLM whether the reply states a final
// answer. Used when answer keys are too open-ended for pattern matching.
type ClassifierChecker struct {
	LLM   provider.Provider
	Model string
}

// Leaks submits the reply to the classifier model. Any provider error is
// returned to the caller, which fails closed.
func (c *ClassifierChecker) Leaks(ctx context.Context, reply string, task Task) (bool, error) {
	prompt := classifierPrompt
	if len(task.ForbiddenAnswers) > 0 {
		prompt += "\nKnown final answers: " + strings.Join(task.ForbiddenAnswers, ", ")
	}

	resp, err := c.LLM.Complete(ctx, provider.Request{
		Model: c.Model,
		Messages: []provider.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: reply},
		},
		MaxTokens: 5,
	})
	if err != nil {
		return false, fmt.Errorf("classifier call: %w", err)
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "LEAK"), nil
}
