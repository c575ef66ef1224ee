package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crtlab/crtchat/internal/session"
)

func turns(contents ...string) []session.Turn {
	ts := make([]session.Turn, len(contents))
	for i, c := range contents {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		ts[i] = session.Turn{SessionID: "123456789012345", Seq: i, Role: role, Content: c}
	}
	return ts
}

func TestBuild_ShortArm(t *testing.T) {
	b := &PromptBuilder{}
	cfg := session.ArmConfig{Arm: session.ArmShort, SystemPrompt: "Give hints only.", ContextDocument: "ignored for short"}

	msgs := b.Build(cfg, turns("hello", "hi there"), "is it 30?")

	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Give hints only.", msgs[0].Content)
	assert.NotContains(t, msgs[0].Content, "ignored for short")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "is it 30?", msgs[3].Content)
}

func TestBuild_LongArmAppendsContextDocument(t *testing.T) {
	b := &PromptBuilder{}
	cfg := session.ArmConfig{Arm: session.ArmLong, SystemPrompt: "Give hints only.", ContextDocument: "CRT task sheet"}

	msgs := b.Build(cfg, nil, "hello")

	assert.Contains(t, msgs[0].Content, "Give hints only.")
	assert.Contains(t, msgs[0].Content, "CRT task sheet")
}

func TestBuild_TruncatesWholeTurnsOldestFirst(t *testing.T) {
	long := strings.Repeat("x", 400) // ~100 tokens per turn
	history := turns(long, long, long, long, long, long)

	b := &PromptBuilder{HistoryBudget: 250}
	msgs := b.Build(session.ArmConfig{Arm: session.ArmShort, SystemPrompt: "s"}, history, "q")

	// system + kept history + user message; oldest turns dropped whole.
	kept := len(msgs) - 2
	assert.Less(t, kept, len(history))
	assert.Positive(t, kept)

	// The kept turns are the newest ones, in order.
	assert.Equal(t, string(history[len(history)-1].Role), msgs[len(msgs)-2].Role)
}

func TestBuild_NoBudgetKeepsEverything(t *testing.T) {
	history := turns("a", "b", "c", "d")
	b := &PromptBuilder{}

	msgs := b.Build(session.ArmConfig{Arm: session.ArmShort, SystemPrompt: "s"}, history, "q")
	assert.Len(t, msgs, len(history)+2)
}

func TestBuild_OversizedUserMessageStillSent(t *testing.T) {
	b := &PromptBuilder{HistoryBudget: 10}
	huge := strings.Repeat("y", 1000)

	msgs := b.Build(session.ArmConfig{Arm: session.ArmShort, SystemPrompt: "s"}, turns("old"), huge)

	assert.Equal(t, huge, msgs[len(msgs)-1].Content)
}
