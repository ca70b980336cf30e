// File: internal/brain/prompts.go
package brain

import (
	"fmt"
	"strings"
)

// Skill is a named capability document injected into the system prompt.
type Skill struct {
	Name    string
	Content string
}

// WorkspaceContext carries the workspace documents that shape the model's
// behavior. Empty sections are omitted from the prompt.
type WorkspaceContext struct {
	Soul      string
	Identity  string
	Agents    string
	Tools     string
	User      string
	Heartbeat string
	// Bootstrap is only set on a first run with a fresh workspace.
	Bootstrap string
	Skills    []Skill

	Goals  string
	Memory string
}

const visionInstructions = `--- VISION INSTRUCTIONS ---
When a screenshot is attached to the screen state:
1. LOOK at the screenshot to identify exact positions of UI elements
2. Use the VISIBLE coordinates from the screenshot for all tap actions
3. The screen resolution is provided in the screen state - use it to estimate x,y coordinates
4. DO NOT guess coordinates from memory - always derive them from the screenshot
5. If the screenshot shows a different screen than expected, adjust your plan
6. When the UI Tree has @(x,y) coordinates, USE THOSE - they are exact
7. Cross-reference the screenshot with the UI Tree for best accuracy
8. For elements without UI Tree coordinates, estimate from their visual position in the screenshot

`

// BuildSystemPrompt assembles the workspace documents in their canonical
// order.
func (b *Brain) BuildSystemPrompt(ctx WorkspaceContext) string {
	var p strings.Builder

	section := func(header, content string) {
		if content != "" {
			fmt.Fprintf(&p, "--- %s ---\n%s\n\n", header, content)
		}
	}

	section("SOUL.md", ctx.Soul)
	section("IDENTITY.md", ctx.Identity)
	section("AGENTS.md", ctx.Agents)
	section("TOOLS.md", ctx.Tools)
	section("USER.md", ctx.User)
	section("HEARTBEAT.md", ctx.Heartbeat)
	section("BOOTSTRAP.md (FIRST RUN)", ctx.Bootstrap)
	for _, skill := range ctx.Skills {
		section("SKILL: "+skill.Name, skill.Content)
	}

	if b.cfg.VisionEnabled {
		p.WriteString(visionInstructions)
	}
	return p.String()
}

// BuildTickPrompt renders the user prompt for one heartbeat tick.
func (b *Brain) BuildTickPrompt(ctx WorkspaceContext, notifications, screenState string, userCommands []string, now string) string {
	var p strings.Builder

	fmt.Fprintf(&p, "Current time: %s\n\n", now)
	if ctx.Goals != "" {
		fmt.Fprintf(&p, "--- Active Goals ---\n%s\n\n", ctx.Goals)
	}
	if ctx.Memory != "" {
		fmt.Fprintf(&p, "--- Long-term Memory ---\n%s\n\n", ctx.Memory)
	}
	fmt.Fprintf(&p, "--- New Notifications ---\n%s\n\n", notifications)
	fmt.Fprintf(&p, "--- Screen State ---\n%s\n\n", screenState)

	if len(userCommands) > 0 {
		p.WriteString("--- User Commands ---\n")
		for _, cmd := range userCommands {
			fmt.Fprintf(&p, "- %s\n", cmd)
		}
		p.WriteByte('\n')
	}

	p.WriteString("Evaluate the heartbeat checklist. Respond with your JSON action plan, " +
		"or HEARTBEAT_OK if nothing needs attention.")
	return p.String()
}

// BuildChatPrompt renders a direct user message outside the heartbeat cycle.
func (b *Brain) BuildChatPrompt(ctx WorkspaceContext, userMessage string) string {
	return fmt.Sprintf("--- Long-term Memory ---\n%s\n\n--- Goals ---\n%s\n\nUser message: %s",
		ctx.Memory, ctx.Goals, userMessage)
}
