// File: internal/brain/prompts_test.go
package brain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

func TestBuildSystemPromptOrdering(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	ctx := WorkspaceContext{
		Soul:     "be helpful",
		Identity: "you are a phone agent",
		Tools:    "adb only",
		Skills:   []Skill{{Name: "email", Content: "how to triage email"}},
	}
	got := b.BuildSystemPrompt(ctx)

	soulIdx := strings.Index(got, "--- SOUL.md ---")
	identIdx := strings.Index(got, "--- IDENTITY.md ---")
	toolsIdx := strings.Index(got, "--- TOOLS.md ---")
	skillIdx := strings.Index(got, "--- SKILL: email ---")

	assert.True(t, soulIdx >= 0 && soulIdx < identIdx && identIdx < toolsIdx && toolsIdx < skillIdx,
		"sections must keep their canonical order")
	assert.NotContains(t, got, "AGENTS.md", "empty sections are omitted")
	assert.NotContains(t, got, "VISION INSTRUCTIONS", "vision block only when enabled")
}

func TestBuildSystemPromptVision(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig().Brain
	cfg.VisionEnabled = true
	b := New(cfg, zaptest.NewLogger(t))

	got := b.BuildSystemPrompt(WorkspaceContext{Soul: "x"})
	assert.Contains(t, got, "--- VISION INSTRUCTIONS ---")
}

func TestBuildTickPrompt(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	got := b.BuildTickPrompt(
		WorkspaceContext{Goals: "inbox zero", Memory: "user prefers dark mode"},
		"No new notifications.",
		"[1] Button \"Send\" @(950,2100)",
		[]string{"reply to Alice"},
		"2026-08-29 12:00",
	)

	assert.True(t, strings.HasPrefix(got, "Current time: 2026-08-29 12:00\n"))
	assert.Contains(t, got, "--- Active Goals ---\ninbox zero")
	assert.Contains(t, got, "--- Long-term Memory ---\nuser prefers dark mode")
	assert.Contains(t, got, "--- New Notifications ---\nNo new notifications.")
	assert.Contains(t, got, "--- Screen State ---\n[1] Button")
	assert.Contains(t, got, "--- User Commands ---\n- reply to Alice")
	assert.Contains(t, got, "HEARTBEAT_OK if nothing needs attention")
}

func TestBuildTickPromptOmitsEmptySections(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	got := b.BuildTickPrompt(WorkspaceContext{}, "none", "empty screen", nil, "now")

	assert.NotContains(t, got, "Active Goals")
	assert.NotContains(t, got, "Long-term Memory")
	assert.NotContains(t, got, "User Commands")
}

func TestBuildChatPrompt(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	got := b.BuildChatPrompt(WorkspaceContext{Memory: "m", Goals: "g"}, "hello agent")
	assert.Contains(t, got, "--- Long-term Memory ---\nm")
	assert.Contains(t, got, "--- Goals ---\ng")
	assert.True(t, strings.HasSuffix(got, "User message: hello agent"))
}
