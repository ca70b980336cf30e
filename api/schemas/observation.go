package schemas

import (
	"fmt"
	"hash/fnv"
	"time"
)

// -- UI Elements --

// UIElement is one interactive or informative node extracted from a device
// accessibility snapshot. Instances are created fresh on every perception
// pass and never mutated afterwards.
type UIElement struct {
	// Index is 1-based and assigned after ranking, in reading order. It is
	// stable within a single observation only and must never be reused
	// across observations.
	Index int `json:"index"`

	Class      string `json:"class"`
	ClassShort string `json:"class_short"`
	Text       string `json:"text,omitempty"`
	Label      string `json:"label,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	// ResourceIDShort is the part after the last "/", e.g. "send_btn".
	ResourceIDShort string `json:"resource_id_short,omitempty"`
	Package         string `json:"package,omitempty"`

	// Bounds is [left, top, right, bottom] in device pixels. Zero-area
	// elements are discarded before scoring, so right > left and
	// bottom > top always hold here.
	Bounds  [4]int `json:"bounds"`
	CenterX int    `json:"center_x"`
	CenterY int    `json:"center_y"`

	Clickable     bool  `json:"clickable,omitempty"`
	LongClickable bool  `json:"long_clickable,omitempty"`
	Editable      bool  `json:"editable,omitempty"`
	Focusable     bool  `json:"focusable,omitempty"`
	Focused       bool  `json:"focused,omitempty"`
	Scrollable    bool  `json:"scrollable,omitempty"`
	Checkable     bool  `json:"checkable,omitempty"`
	Checked       *bool `json:"checked,omitempty"`
	Selected      bool  `json:"selected,omitempty"`
	Enabled       bool  `json:"enabled"`

	// Score is the relevance ranking weight computed by the sanitizer.
	Score float64 `json:"score"`
}

// Interactive reports whether the element carries any interaction flag.
func (e UIElement) Interactive() bool {
	return e.Clickable || e.Editable || e.LongClickable || e.Scrollable ||
		e.Focusable || e.Checkable
}

// Area returns the bounding-box area in square pixels.
func (e UIElement) Area() int {
	w := e.Bounds[2] - e.Bounds[0]
	h := e.Bounds[3] - e.Bounds[1]
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// Resolution is the device screen size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// -- Screen Observations --

// ScreenObservation is the immutable result of one perception pass. It is
// replaced wholesale each tick; there are no partial updates.
type ScreenObservation struct {
	// Elements is ranked by relevance, capped, then re-sorted into reading
	// order with 1-based indices.
	Elements []UIElement `json:"elements"`
	// TotalFound is the pre-cap count of useful elements.
	TotalFound int `json:"total_found"`
	// InteractiveCount is how many elements carried interaction flags
	// before capping.
	InteractiveCount int `json:"interactive_count"`
	// ForegroundApp is the best-guess package of the app on screen.
	ForegroundApp string `json:"foreground_app,omitempty"`
	// NeedsVisionFallback is true when the tree failed to parse or is too
	// sparse to act on. Invariant: an empty Elements slice implies true.
	NeedsVisionFallback bool `json:"needs_vision_fallback"`
	// Screenshot holds opaque PNG bytes, populated only when vision was
	// requested or fallback triggered.
	Screenshot []byte      `json:"-"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Fingerprint hashes the observation's element set for same-screen
// detection. FNV-1a over (class, text, center) per element keeps the hash
// stable across cosmetic reorderings of equal-score elements, since the
// element list is already in reading order.
func (o ScreenObservation) Fingerprint() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|", o.ForegroundApp, len(o.Elements))
	for _, e := range o.Elements {
		fmt.Fprintf(h, "%s:%s:%d,%d;", e.ClassShort, e.Text, e.CenterX, e.CenterY)
	}
	return h.Sum64()
}
