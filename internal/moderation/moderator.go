package moderation

import (
	"context"
	"log"

	"github.com/crtlab/crtchat/internal/llm/provider"
)

// Outcome is the moderation verdict for a reply.
type Outcome string

const (
	// OutcomePass means the raw reply was clean and returned unchanged.
	OutcomePass Outcome = "pass"
	// OutcomeRewrite means the reply leaked and a resubmission was clean.
	OutcomeRewrite Outcome = "rewrite"
	// OutcomeFallback means retries were exhausted and the static safe
	// hint was returned instead.
	OutcomeFallback Outcome = "fallback"
)

// Result is a moderated reply. Reply is always safe to forward.
type Result struct {
	Outcome Outcome
	Reply   string
	Rounds  int // rewrite rounds consumed
}

// withholdInstruction is appended when resubmitting a leaking reply.
const withholdInstruction = `Your previous reply revealed a final answer. Rewrite it: do not state any final answer or result. Respond only with a hint that nudges the participant's own reasoning.`

// Moderator checks candidate replies and rewrites or replaces ones that
// disclose answers. A reply never reaches the participant unchecked: every
// path ends in a clean reply or the fallback hint.
type Moderator struct {
	llm           provider.Provider
	checker       Checker
	builder       *PromptBuilder
	rewriteRounds int
	fallbackHint  string
	model         string
	temperature   float32
	maxTokens     int
}

// Options configures a Moderator.
type Options struct {
	Checker       Checker
	HistoryBudget int
	RewriteRounds int // default 1
	FallbackHint  string
	Model         string
	Temperature   float32
	MaxTokens     int
}

// NewModerator creates a moderator that uses llm for rewrite rounds.
func NewModerator(llm provider.Provider, opts Options) *Moderator {
	checker := opts.Checker
	if checker == nil {
		checker = PatternChecker{}
	}
	rounds := opts.RewriteRounds
	if rounds <= 0 {
		rounds = 1
	}
	return &Moderator{
		llm:           llm,
		checker:       checker,
		builder:       &PromptBuilder{HistoryBudget: opts.HistoryBudget},
		rewriteRounds: rounds,
		fallbackHint:  opts.FallbackHint,
		model:         opts.Model,
		temperature:   opts.Temperature,
		maxTokens:     opts.MaxTokens,
	}
}

// Builder returns the prompt builder used for the primary LLM call.
func (m *Moderator) Builder() *PromptBuilder {
	return m.builder
}

// Moderate inspects raw and returns a reply that is safe to forward.
// prompt is the message list that produced raw; it is reused for rewrite
// rounds with the withhold instruction appended.
//
// A checker failure is treated as a leak (fail closed), never as a pass.
func (m *Moderator) Moderate(ctx context.Context, raw string, prompt []provider.Message, task Task) Result {
	if !m.leaks(ctx, raw, task) {
		return Result{Outcome: OutcomePass, Reply: raw}
	}

	for round := 1; round <= m.rewriteRounds; round++ {
		rewritten, err := m.rewrite(ctx, prompt)
		if err != nil {
			log.Printf("moderation: rewrite round %d failed: %v", round, err)
			break
		}
		if !m.leaks(ctx, rewritten, task) {
			return Result{Outcome: OutcomeRewrite, Reply: rewritten, Rounds: round}
		}
	}

	return Result{Outcome: OutcomeFallback, Reply: m.fallbackHint, Rounds: m.rewriteRounds}
}

// leaks wraps the checker, failing closed on checker errors.
func (m *Moderator) leaks(ctx context.Context, reply string, task Task) bool {
	leaked, err := m.checker.Leaks(ctx, reply, task)
	if err != nil {
		log.Printf("moderation: checker error, failing closed: %v", err)
		return true
	}
	return leaked
}

// rewrite resubmits the prompt with the withhold instruction.
func (m *Moderator) rewrite(ctx context.Context, prompt []provider.Message) (string, error) {
	resub := make([]provider.Message, 0, len(prompt)+1)
	resub = append(resub, prompt...)
	resub = append(resub, provider.Message{Role: "system", Content: withholdInstruction})

	resp, err := m.llm.Complete(ctx, provider.Request{
		Model:       m.model,
		Messages:    resub,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
