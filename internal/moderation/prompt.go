// Package moderation builds prompts for the study assistant and enforces
// that its replies are hints, never solutions.
package moderation

import (
	"github.com/crtlab/crtchat/internal/llm/provider"
	"github.com/crtlab/crtchat/internal/session"
)

// estimateTokens approximates token count. 1 token ~= 4 characters for
// English; close enough for a truncation budget.
func estimateTokens(text string) int {
	return len(text) / 4
}

// PromptBuilder assembles the provider request from arm configuration and
// turn history.
type PromptBuilder struct {
	// HistoryBudget is the approximate token budget for history turns.
	// When exceeded, whole turns are dropped oldest-first; a turn is
	// never cut mid-content, so role alternation stays valid.
	HistoryBudget int
}

// Build produces the ordered message list: system prompt (with the arm's
// context document appended for the long arm), truncated history, then the
// latest user message.
func (b *PromptBuilder) Build(cfg session.ArmConfig, history []session.Turn, userMsg string) []provider.Message {
	system := cfg.SystemPrompt
	if cfg.Arm == session.ArmLong && cfg.ContextDocument != "" {
		system = system + "\n\n" + cfg.ContextDocument
	}

	kept := b.truncate(history, userMsg)

	messages := make([]provider.Message, 0, len(kept)+2)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	for _, turn := range kept {
		messages = append(messages, provider.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, provider.Message{Role: "user", Content: userMsg})

	return messages
}

// truncate drops whole turns from the oldest end until the history plus
// the new user message fits the budget. The latest user message is always
// sent even if it alone exceeds the budget.
func (b *PromptBuilder) truncate(history []session.Turn, userMsg string) []session.Turn {
	if b.HistoryBudget <= 0 {
		return history
	}

	budget := b.HistoryBudget - estimateTokens(userMsg)
	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := estimateTokens(history[i].Content)
		if total+t > budget {
			break
		}
		total += t
		cut = i
	}

	return history[cut:]
}
