// File: internal/perception/sanitizer_test.go
package perception

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(attrs string) string {
	return "<node " + attrs + "/>"
}

func clickableNode(text string, bounds string) string {
	return node(fmt.Sprintf(`text="%s" resource-id="" class="android.widget.Button" package="com.example.app" content-desc="" clickable="true" enabled="true" bounds="%s"`, text, bounds))
}

func TestSanitizeEmptyTree(t *testing.T) {
	t.Parallel()

	obs := Sanitize("", DefaultMaxElements, DefaultFallbackThreshold)

	assert.Empty(t, obs.Elements)
	assert.Zero(t, obs.TotalFound)
	assert.True(t, obs.NeedsVisionFallback, "a blank tree must request vision fallback")
}

func TestSanitizeBasicExtraction(t *testing.T) {
	t.Parallel()

	raw := `<?xml version='1.0' encoding='UTF-8'?><hierarchy rotation="0">` +
		node(`text="Search" resource-id="com.example:id/search" class="android.widget.EditText" package="com.example.app" clickable="true" enabled="true" bounds="[40,100][1040,200]"`) +
		node(`text="" resource-id="" class="android.widget.FrameLayout" package="com.example.app" clickable="false" enabled="true" bounds="[0,0][1080,1920]"`) +
		clickableNode("Submit", "[40,300][1040,420]") +
		`</hierarchy>`

	obs := Sanitize(raw, DefaultMaxElements, DefaultFallbackThreshold)

	require.Len(t, obs.Elements, 2, "the bare container should be filtered out")
	assert.Equal(t, "com.example.app", obs.ForegroundApp)

	// Reading order: the search field sits above the button.
	first := obs.Elements[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "Search", first.Text)
	assert.Equal(t, "EditText", first.ClassShort)
	assert.Equal(t, 540, first.CenterX)
	assert.Equal(t, 150, first.CenterY)
	assert.True(t, first.Editable)

	assert.Equal(t, 2, obs.Elements[1].Index)
	assert.Equal(t, "Submit", obs.Elements[1].Text)
}

func TestSanitizeCapsAndReindexes(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(clickableNode(fmt.Sprintf("Item %d", i), fmt.Sprintf("[0,%d][1080,%d]", i*100, i*100+90)))
	}

	obs := Sanitize(sb.String(), 5, DefaultFallbackThreshold)

	require.Len(t, obs.Elements, 5)
	assert.Equal(t, 20, obs.TotalFound)
	for i, e := range obs.Elements {
		assert.Equal(t, i+1, e.Index, "indices must be 1-based and contiguous")
		if i > 0 {
			prev := obs.Elements[i-1]
			ordered := prev.CenterY < e.CenterY ||
				(prev.CenterY == e.CenterY && prev.CenterX <= e.CenterX)
			assert.True(t, ordered, "elements must come back in reading order")
		}
	}
}

func TestSanitizeVisionFallbackThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		interactive int
		threshold   int
		wantFall    bool
	}{
		{"below threshold", 2, 5, true},
		{"at threshold", 5, 5, false},
		{"above threshold", 8, 5, false},
		{"zero interactive", 0, 1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var sb strings.Builder
			for i := 0; i < tc.interactive; i++ {
				sb.WriteString(clickableNode(fmt.Sprintf("N%d", i), fmt.Sprintf("[0,%d][500,%d]", i*100, i*100+80)))
			}
			obs := Sanitize(sb.String(), DefaultMaxElements, tc.threshold)
			assert.Equal(t, tc.wantFall, obs.NeedsVisionFallback)
			assert.Equal(t, tc.interactive, obs.InteractiveCount)
		})
	}
}

func TestSanitizeScoringPrefersInputs(t *testing.T) {
	t.Parallel()

	// With a cap of 1, the highest scoring element wins; an editable input
	// outranks a plain clickable view.
	raw := node(`text="" resource-id="com.example:id/field" class="android.widget.EditText" package="com.example.app" clickable="true" enabled="true" bounds="[0,500][1080,600]"`) +
		node(`text="" resource-id="com.example:id/row" class="android.view.View" package="com.example.app" clickable="true" enabled="true" bounds="[0,0][1080,100]"`)

	obs := Sanitize(raw, 1, DefaultFallbackThreshold)

	require.Len(t, obs.Elements, 1)
	assert.Equal(t, "EditText", obs.Elements[0].ClassShort)
}

func TestSanitizeDropsZeroArea(t *testing.T) {
	t.Parallel()

	raw := clickableNode("Ghost", "[100,100][100,100]") +
		clickableNode("Real", "[0,0][500,100]")

	obs := Sanitize(raw, DefaultMaxElements, 1)

	require.Len(t, obs.Elements, 1)
	assert.Equal(t, "Real", obs.Elements[0].Text)
}

func TestSanitizeForegroundMajority(t *testing.T) {
	t.Parallel()

	raw := clickableNode("A", "[0,0][100,100]") +
		strings.ReplaceAll(clickableNode("B", "[0,200][100,300]"), "com.example.app", "com.other.app") +
		strings.ReplaceAll(clickableNode("C", "[0,400][100,500]"), "com.example.app", "com.other.app")

	obs := Sanitize(raw, DefaultMaxElements, 1)

	assert.Equal(t, "com.other.app", obs.ForegroundApp)
}

func TestSanitizeEntityDecoding(t *testing.T) {
	t.Parallel()

	raw := node(`text="Tom &amp; Jerry &lt;3" resource-id="" class="android.widget.TextView" package="com.example.app" clickable="true" enabled="true" bounds="[0,0][500,100]"`)

	obs := Sanitize(raw, DefaultMaxElements, 1)

	require.Len(t, obs.Elements, 1)
	assert.Equal(t, "Tom & Jerry <3", obs.Elements[0].Text)
}

func TestParseBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want [4]int
		ok   bool
	}{
		{"[0,0][1080,1920]", [4]int{0, 0, 1080, 1920}, true},
		{"[40,100][1040,200]", [4]int{40, 100, 1040, 200}, true},
		{"", [4]int{}, false},
		{"[1,2][3]", [4]int{}, false},
		{"garbage", [4]int{}, false},
	}

	for _, tc := range tests {
		got, ok := parseBounds(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}

func TestParseVisionMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, VisionOff, ParseVisionMode("off"))
	assert.Equal(t, VisionAlways, ParseVisionMode("ALWAYS"))
	assert.Equal(t, VisionFallback, ParseVisionMode("fallback"))
	assert.Equal(t, VisionFallback, ParseVisionMode("anything else"))
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()

	raw := clickableNode("Stable", "[0,0][500,100]")
	a := Sanitize(raw, DefaultMaxElements, 1)
	b := Sanitize(raw, DefaultMaxElements, 1)
	c := Sanitize(clickableNode("Changed", "[0,0][500,100]"), DefaultMaxElements, 1)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
