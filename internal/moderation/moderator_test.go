package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crtlab/crtchat/internal/llm/provider"
)

// fakeLLM returns queued replies in order.
type fakeLLM struct {
	replies []string
	err     error
	calls   int
	lastReq provider.Request
}

func (f *fakeLLM) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &provider.Response{Content: reply}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type errChecker struct{}

func (errChecker) Leaks(context.Context, string, Task) (bool, error) {
	return false, errors.New("checker unavailable")
}

var crtTask = Task{ForbiddenAnswers: []string{"42", "30"}}

func TestPatternChecker(t *testing.T) {
	tests := []struct {
		reply string
		leak  bool
	}{
		{"The answer is 42.", true},
		{"I think it's $30 total.", true},
		{"it is 42", true},
		{"That would be 420 dollars.", false},
		{"Try re-reading the problem statement.", false},
		{"Consider what the difference implies.", false},
	}

	for _, tt := range tests {
		got, err := PatternChecker{}.Leaks(context.Background(), tt.reply, crtTask)
		require.NoError(t, err)
		assert.Equal(t, tt.leak, got, "reply %q", tt.reply)
	}
}

func TestPatternChecker_SkipsEmptyAnswers(t *testing.T) {
	got, err := PatternChecker{}.Leaks(context.Background(), "anything", Task{ForbiddenAnswers: []string{"", "  "}})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestModerate_Pass(t *testing.T) {
	llm := &fakeLLM{}
	m := NewModerator(llm, Options{FallbackHint: "safe hint"})

	res := m.Moderate(context.Background(), "Check the relationship between the two prices.", nil, crtTask)

	assert.Equal(t, OutcomePass, res.Outcome)
	assert.Equal(t, "Check the relationship between the two prices.", res.Reply)
	assert.Zero(t, llm.calls, "pass must not call the LLM")
}

func TestModerate_RewriteSucceeds(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Think about what the $300 difference implies."}}
	m := NewModerator(llm, Options{FallbackHint: "safe hint"})

	prompt := []provider.Message{{Role: "user", Content: "what is it?"}}
	res := m.Moderate(context.Background(), "The answer is 30.", prompt, crtTask)

	assert.Equal(t, OutcomeRewrite, res.Outcome)
	assert.Equal(t, "Think about what the $300 difference implies.", res.Reply)
	assert.Equal(t, 1, res.Rounds)

	// Resubmission carries the withhold instruction after the original prompt.
	last := llm.lastReq.Messages[len(llm.lastReq.Messages)-1]
	assert.Equal(t, "system", last.Role)
	assert.Contains(t, last.Content, "do not state any final answer")
}

func TestModerate_FallbackAfterExhaustedRounds(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Fine, it's 30.", "Still 30."}}
	m := NewModerator(llm, Options{RewriteRounds: 2, FallbackHint: "safe hint"})

	res := m.Moderate(context.Background(), "The answer is 30.", nil, crtTask)

	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, "safe hint", res.Reply)
	assert.Equal(t, 2, llm.calls)
}

func TestModerate_LLMErrorDuringRewriteFallsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream down")}
	m := NewModerator(llm, Options{FallbackHint: "safe hint"})

	res := m.Moderate(context.Background(), "The answer is 42.", nil, crtTask)

	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, "safe hint", res.Reply)
}

func TestModerate_CheckerErrorFailsClosed(t *testing.T) {
	llm := &fakeLLM{replies: []string{"rewritten"}}
	m := NewModerator(llm, Options{Checker: errChecker{}, FallbackHint: "safe hint"})

	res := m.Moderate(context.Background(), "totally innocent reply", nil, crtTask)

	// Checker errors on the raw reply and every rewrite: never PASS.
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, "safe hint", res.Reply)
}

func TestModerate_NeverPassesForbiddenAnswer(t *testing.T) {
	llm := &fakeLLM{replies: []string{"It is 42, trust me."}}
	m := NewModerator(llm, Options{FallbackHint: "safe hint"})

	res := m.Moderate(context.Background(), "It is 42.", nil, crtTask)

	assert.NotEqual(t, OutcomePass, res.Outcome)
	assert.NotContains(t, res.Reply, "42")
}

func TestClassifierChecker(t *testing.T) {
	tests := []struct {
		verdict string
		leak    bool
	}{
		{"LEAK", true},
		{"leak", true},
		{" LEAK\n", true},
		{"OK", false},
		{"ok, nothing revealed", false},
	}

	for _, tt := range tests {
		llm := &fakeLLM{replies: []string{tt.verdict}}
		c := &ClassifierChecker{LLM: llm}

		got, err := c.Leaks(context.Background(), "some reply", crtTask)
		require.NoError(t, err)
		assert.Equal(t, tt.leak, got, "verdict %q", tt.verdict)
	}
}

func TestClassifierChecker_ErrorPropagates(t *testing.T) {
	c := &ClassifierChecker{LLM: &fakeLLM{err: errors.New("down")}}

	_, err := c.Leaks(context.Background(), "some reply", crtTask)
	assert.Error(t, err)
}
