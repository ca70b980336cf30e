// File: internal/perception/format.go
package perception

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// FormatForPrompt renders an observation as the compact element listing the
// model receives, e.g.
//
//	App: com.example.mail
//	Screen: 1080x2400
//	Elements: 12 shown / 45 total (9 interactive)
//
//	[1] Button "Send" @(950,2100) clickable id:send_btn
//	[2] EditText @(540,2100) editable clickable desc:"Compose"
func FormatForPrompt(obs schemas.ScreenObservation) string {
	var b strings.Builder
	b.Grow(4096)

	if obs.ForegroundApp != "" {
		fmt.Fprintf(&b, "App: %s\n", obs.ForegroundApp)
	}
	if obs.Resolution != nil {
		fmt.Fprintf(&b, "Screen: %dx%d\n", obs.Resolution.Width, obs.Resolution.Height)
	}
	fmt.Fprintf(&b, "Elements: %d shown / %d total (%d interactive)\n",
		len(obs.Elements), obs.TotalFound, obs.InteractiveCount)
	if obs.NeedsVisionFallback {
		b.WriteString("Warning: sparse accessibility tree - screenshot included for context\n")
	}
	b.WriteByte('\n')

	for _, e := range obs.Elements {
		b.WriteString(formatElement(e))
		b.WriteByte('\n')
	}
	return b.String()
}

// formatElement renders one element line. Only flags that change what the
// model should do are included.
func formatElement(e schemas.UIElement) string {
	parts := make([]string, 0, 8)
	parts = append(parts, fmt.Sprintf("[%d] %s", e.Index, e.ClassShort))

	if e.Text != "" {
		parts = append(parts, fmt.Sprintf("%q", truncate(e.Text, 80)))
	}
	parts = append(parts, fmt.Sprintf("@(%d,%d)", e.CenterX, e.CenterY))

	var flags []string
	if e.Clickable {
		flags = append(flags, "clickable")
	}
	if e.LongClickable {
		flags = append(flags, "long-clickable")
	}
	if e.Editable {
		flags = append(flags, "editable")
	}
	if e.Scrollable {
		flags = append(flags, "scrollable")
	}
	if e.Checked != nil {
		if *e.Checked {
			flags = append(flags, "checked")
		} else {
			flags = append(flags, "unchecked")
		}
	}
	if e.Selected {
		flags = append(flags, "selected")
	}
	if !e.Enabled {
		flags = append(flags, "disabled")
	}
	if len(flags) > 0 {
		parts = append(parts, strings.Join(flags, " "))
	}

	if e.Text == "" && e.Label != "" {
		parts = append(parts, fmt.Sprintf("desc:%q", truncate(e.Label, 60)))
	}

	// Generic resource ids carry no signal worth the tokens.
	switch e.ResourceIDShort {
	case "", "content", "text", "title":
	default:
		parts = append(parts, "id:"+e.ResourceIDShort)
	}

	return strings.Join(parts, " ")
}

// truncate shortens s to at most max runes so a multi-byte character is
// never split mid-sequence.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
