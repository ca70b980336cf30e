// File: internal/brain/parse_test.go
package brain

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

func newTestBrain(t *testing.T) *Brain {
	t.Helper()
	cfg := config.NewDefaultConfig().Brain
	return New(cfg, zaptest.NewLogger(t))
}

func TestParseHeartbeat(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	tests := []string{
		"HEARTBEAT_OK",
		"  HEARTBEAT_OK  ",
		"Everything looks fine. HEARTBEAT_OK",
		`{"reflection": "HEARTBEAT_OK"}`,
	}
	for _, raw := range tests {
		resp := b.Parse(raw)
		assert.True(t, resp.IsHeartbeat(), "input %q", raw)
		assert.Empty(t, resp.Actions)
	}
}

func TestParseCleanJSON(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := `{"actions":[{"type":"tap","params":{"x":540,"y":1200},"classification":"GREEN","reason":"open inbox"}],"reflection":"tapping the inbox"}`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "tap", resp.Actions[0].Type)
	x, y, ok := resp.Actions[0].Coordinates()
	require.True(t, ok)
	assert.Equal(t, 540, x)
	assert.Equal(t, 1200, y)
	assert.Equal(t, "tapping the inbox", resp.Reflection)
}

func TestParseFencedJSON(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := "Here is my plan:\n```json\n{\"actions\":[{\"type\":\"home\"}]}\n```\nDone."
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "home", resp.Actions[0].Type)
}

func TestParseBareFence(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := "```\n{\"actions\":[{\"type\":\"back\"}]}\n```"
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "back", resp.Actions[0].Type)
}

func TestParseConversationalWrapper(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := `Sure! I'll tap the button. {"actions":[{"type":"tap","x":100,"y":200}]} Let me know how it goes.`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	x, y, ok := resp.Actions[0].Coordinates()
	require.True(t, ok)
	assert.Equal(t, 100, x)
	assert.Equal(t, 200, y)
}

func TestParseSmartPunctuation(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := "{ \"actions\": [{\"type\": \"type_text\", \"text\": \"it’s here\"}],}"
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "it's here", resp.Actions[0].TargetText())
}

func TestParseTrailingCommas(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := `{"actions":[{"type":"wait",},],"reflection":"pausing",}`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "wait", resp.Actions[0].Type)
	assert.Equal(t, "pausing", resp.Reflection)
}

func TestParseTruncatedResponse(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	// Cut off mid string value, as when the token budget runs out.
	raw := `{"actions":[{"type":"tap","params":{"x":10,"y":20}}],"reflection":"I am going to`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "tap", resp.Actions[0].Type)
}

func TestParsePartialActionSalvage(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	// Second object is mangled beyond repair; the first survives.
	raw := `{"actions":[{"type":"launch_app","app":"com.example.mail"},{"type": tap  "x"::}`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "launch_app", resp.Actions[0].Type)
	assert.Equal(t, "com.example.mail", resp.Actions[0].TargetPackage())
	assert.Equal(t, "(partial response recovered)", resp.Reflection)
}

func TestParseGarbageFallsBackToReflection(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := "I could not decide what to do this tick, sorry."
	resp := b.Parse(raw)

	assert.Empty(t, resp.Actions)
	assert.Equal(t, raw, resp.Reflection)
}

func TestParseReflectionCapped(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := strings.Repeat("words ", 200)
	resp := b.Parse(raw)

	assert.Len(t, []rune(resp.Reflection), 500)
}

func TestParseWrongTypedFields(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	// reflection as an object instead of a string must not sink the actions.
	raw := `{"actions":[{"type":"back"}],"reflection":{"thought":"deep"}}`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "back", resp.Actions[0].Type)
	assert.Empty(t, resp.Reflection)
}

func TestParseBracesInsideStrings(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	raw := `{"actions":[{"type":"type_text","text":"use {braces} and }"}],"reflection":"ok"}`
	resp := b.Parse(raw)

	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "use {braces} and }", resp.Actions[0].TargetText())
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()
	b := newTestBrain(t)

	inputs := []string{
		`{"actions":[{"type":"tap","params":{"x":1,"y":2}}],"reflection":"r","message":"m","memory_write":"w"}`,
		"```json\n{\"actions\":[{\"type\":\"home\"}]}\n```",
		`{"actions":[{"type":"tap","x":10,"y":20}],"reflection":"cut`,
		"total garbage",
		"HEARTBEAT_OK",
	}
	for _, raw := range inputs {
		first := b.Parse(raw)
		second := b.Parse(raw)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Parse not deterministic for %q (-first +second):\n%s", raw, diff)
		}
	}
}

func TestRepairTruncatedJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"closes braces", `{"a":{"b":1`, `{"a":{"b":1}}`},
		{"closes brackets", `{"a":[1,2`, `{"a":[1,2]}`},
		{"drops dangling string", `{"a":1,"b":"unfinished`, `{"a":1}`},
		{"drops trailing comma", `{"a":1,`, `{"a":1}`},
		{"no brace passthrough", "plain text", "plain text"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, repairTruncatedJSON(tc.in))
		})
	}
}

func TestExtractJSONSkipsStringBraces(t *testing.T) {
	t.Parallel()

	text := `{"msg":"a } inside"} trailing`
	got, ok := extractJSON(text)
	require.True(t, ok)
	assert.Equal(t, `{"msg":"a } inside"}`, got)
}

func TestExtractPartialActionsIgnoresNonActionObjects(t *testing.T) {
	t.Parallel()

	s := `{"plan":{"type":"fake"},"actions":[{"type":"tap","x":1,"y":2},{"type":"home"}`
	actions := extractPartialActions(s)

	require.Len(t, actions, 2)
	assert.Equal(t, "tap", actions[0].Type)
	assert.Equal(t, "home", actions[1].Type)
}

func TestNormalizeClassificationDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, schemas.ClassGreen, schemas.NormalizeClassification(""))
	assert.Equal(t, schemas.ClassRed, schemas.NormalizeClassification(" red "))
}
