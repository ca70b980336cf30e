// File: internal/perception/sanitizer.go

// Package perception turns raw device UI snapshots into small, ranked,
// indexed observations the model can act on. A malformed or missing
// snapshot is never an error here; it degrades to an empty observation
// with the vision-fallback flag set.
package perception

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// DefaultMaxElements caps how many elements one observation carries.
const DefaultMaxElements = 50

// DefaultFallbackThreshold is the minimum interactive element count below
// which the tree is considered too sparse to act on (WebView, Flutter and
// game surfaces often expose no accessibility metadata).
const DefaultFallbackThreshold = 5

// VisionMode controls when screenshots accompany the accessibility tree.
type VisionMode int

const (
	// VisionOff never captures screenshots.
	VisionOff VisionMode = iota
	// VisionFallback captures a screenshot only when the tree is sparse.
	VisionFallback
	// VisionAlways captures a screenshot on every pass.
	VisionAlways
)

// ParseVisionMode maps a config string onto a VisionMode. Unknown values
// fall back to VisionFallback.
func ParseVisionMode(s string) VisionMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "disabled":
		return VisionOff
	case "always", "on", "enabled":
		return VisionAlways
	default:
		return VisionFallback
	}
}

func (m VisionMode) String() string {
	switch m {
	case VisionOff:
		return "off"
	case VisionAlways:
		return "always"
	default:
		return "fallback"
	}
}

// Sanitize parses a raw accessibility tree dump into a ScreenObservation:
// extract node records, drop useless ones, score, rank, cap, then re-sort
// the survivors into reading order and assign 1-based indices.
//
// maxElements <= 0 selects DefaultMaxElements; fallbackThreshold <= 0
// selects DefaultFallbackThreshold.
func Sanitize(raw string, maxElements, fallbackThreshold int) schemas.ScreenObservation {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	if fallbackThreshold <= 0 {
		fallbackThreshold = DefaultFallbackThreshold
	}

	obs := schemas.ScreenObservation{Timestamp: time.Now()}

	elements, packageCounts := scanNodes(raw)

	interactive := 0
	for _, e := range elements {
		if e.Interactive() {
			interactive++
		}
	}
	obs.InteractiveCount = interactive
	obs.TotalFound = len(elements)

	for i := range elements {
		elements[i].Score = scoreElement(elements[i])
	}

	// Rank by relevance, keep the best, then restore reading order so the
	// indices the model sees follow the visual layout.
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].Score > elements[j].Score
	})
	if len(elements) > maxElements {
		elements = elements[:maxElements]
	}
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].CenterY != elements[j].CenterY {
			return elements[i].CenterY < elements[j].CenterY
		}
		return elements[i].CenterX < elements[j].CenterX
	})
	for i := range elements {
		elements[i].Index = i + 1
	}
	obs.Elements = elements

	// Foreground app: majority vote over node package names.
	best, bestCount := "", 0
	for pkg, n := range packageCounts {
		if n > bestCount {
			best, bestCount = pkg, n
		}
	}
	obs.ForegroundApp = best

	obs.NeedsVisionFallback = interactive < fallbackThreshold
	return obs
}

// scanNodes walks the dump looking for node-like records. The uiautomator
// format puts every attribute on the opening tag, so a full XML parse is
// unnecessary and would choke on the truncated dumps some devices emit.
func scanNodes(raw string) ([]schemas.UIElement, map[string]int) {
	var elements []schemas.UIElement
	packageCounts := make(map[string]int)

	pos := 0
	for {
		start := strings.Index(raw[pos:], "<node ")
		if start < 0 {
			break
		}
		start += pos
		end := strings.Index(raw[start:], ">")
		if end < 0 {
			break
		}
		end += start
		tag := raw[start : end+1]
		pos = end + 1

		elem, ok := parseNodeTag(tag)
		if !ok {
			continue
		}
		if elem.Package != "" {
			packageCounts[elem.Package]++
		}
		if usefulElement(elem) {
			elements = append(elements, elem)
		}
	}
	return elements, packageCounts
}

// usefulElement keeps records that carry information or afford interaction.
// Everything else is layout scaffolding.
func usefulElement(e schemas.UIElement) bool {
	if e.Clickable || e.Editable || e.LongClickable || e.Scrollable || e.Checkable || e.Focused {
		return true
	}
	return e.Text != "" || e.Label != "" || e.ResourceID != ""
}

// scoreElement computes the relevance weight used for ranking.
func scoreElement(e schemas.UIElement) float64 {
	var score float64

	if e.Clickable {
		score += 10
	}
	if e.Editable {
		score += 12
	}
	if e.LongClickable {
		score += 5
	}
	if e.Focusable || e.Focused {
		score += 3
	}
	if e.Scrollable {
		score += 4
	}
	if e.Checkable {
		score += 6
	}

	if e.Text != "" {
		score += 3
		score += math.Min(float64(len(e.Text)), 100) * 0.02
	}
	if e.Label != "" {
		score += 3
	}
	if e.ResourceID != "" {
		score += 1
	}

	area := float64(e.Area())
	if area > 100 {
		score += math.Min(math.Log(area)*0.5, 5)
	}
	if area < 10 {
		score -= 10
	}
	if e.Bounds[0] < -10 || e.Bounds[1] < -10 {
		score -= 20
	}

	class := strings.ToLower(e.ClassShort)
	if !e.Clickable && !e.Editable {
		switch class {
		case "framelayout", "linearlayout", "relativelayout", "constraintlayout", "view":
			score -= 15
		}
	}
	switch class {
	case "button", "imagebutton":
		score += 3
	case "edittext":
		score += 4
	case "checkbox", "switch", "radiobutton", "togglebutton":
		score += 3
	case "searchview":
		score += 5
	}

	if !e.Enabled {
		score -= 5
	}
	return score
}

// parseNodeTag extracts one UIElement from a single node tag. Records with
// missing or zero-area bounds are rejected here, before scoring.
func parseNodeTag(tag string) (schemas.UIElement, bool) {
	bounds, ok := parseBounds(attr(tag, "bounds"))
	if !ok {
		return schemas.UIElement{}, false
	}
	if bounds[2] <= bounds[0] || bounds[3] <= bounds[1] {
		return schemas.UIElement{}, false
	}

	class := attr(tag, "class")
	classShort := class
	if i := strings.LastIndex(class, "."); i >= 0 {
		classShort = class[i+1:]
	}
	resourceID := attr(tag, "resource-id")
	resourceIDShort := resourceID
	if i := strings.LastIndex(resourceID, "/"); i >= 0 {
		resourceIDShort = resourceID[i+1:]
	}

	classLower := strings.ToLower(class)
	password := boolAttr(tag, "password")
	editable := password ||
		strings.Contains(classLower, "edittext") ||
		strings.Contains(classLower, "searchview") ||
		strings.Contains(classLower, "autocompletetextview")

	e := schemas.UIElement{
		Class:           class,
		ClassShort:      classShort,
		Text:            attr(tag, "text"),
		Label:           attr(tag, "content-desc"),
		ResourceID:      resourceID,
		ResourceIDShort: resourceIDShort,
		Package:         attr(tag, "package"),
		Bounds:          bounds,
		CenterX:         (bounds[0] + bounds[2]) / 2,
		CenterY:         (bounds[1] + bounds[3]) / 2,
		Clickable:       boolAttr(tag, "clickable"),
		LongClickable:   boolAttr(tag, "long-clickable"),
		Focusable:       boolAttr(tag, "focusable"),
		Focused:         boolAttr(tag, "focused"),
		Scrollable:      boolAttr(tag, "scrollable"),
		Checkable:       boolAttr(tag, "checkable"),
		Selected:        boolAttr(tag, "selected"),
		Enabled:         boolAttr(tag, "enabled"),
		Editable:        editable,
	}
	if e.Checkable {
		checked := boolAttr(tag, "checked")
		e.Checked = &checked
	}
	return e, true
}

// parseBounds reads the "[left,top][right,bottom]" form. Any four integers
// in order are accepted; devices are not consistent about whitespace.
func parseBounds(s string) ([4]int, bool) {
	var nums []int
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		if n, err := strconv.Atoi(current.String()); err == nil {
			nums = append(nums, n)
		}
		current.Reset()
	}
	for _, ch := range s {
		if (ch >= '0' && ch <= '9') || ch == '-' {
			current.WriteRune(ch)
		} else {
			flush()
		}
	}
	flush()

	if len(nums) < 4 {
		return [4]int{}, false
	}
	return [4]int{nums[0], nums[1], nums[2], nums[3]}, true
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#10;", "\n",
	"&#13;", "\r",
)

// attr extracts a quoted attribute value from a tag, decoding the basic XML
// entities uiautomator emits.
func attr(tag, name string) string {
	pattern := name + `="`
	start := strings.Index(tag, pattern)
	if start < 0 {
		return ""
	}
	start += len(pattern)
	end := strings.Index(tag[start:], `"`)
	if end < 0 {
		return ""
	}
	return entityReplacer.Replace(tag[start : start+end])
}

func boolAttr(tag, name string) bool {
	return attr(tag, name) == "true"
}
