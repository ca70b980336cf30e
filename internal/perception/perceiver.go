// File: internal/perception/perceiver.go
package perception

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// Perceiver runs complete perception passes against a device: dump the
// accessibility tree, sanitize it, and decide whether this pass also pays
// for a screenshot.
type Perceiver struct {
	driver            schemas.DeviceDriver
	logger            *zap.Logger
	mode              VisionMode
	maxElements       int
	fallbackThreshold int

	// shotLimiter gates screenshot captures; screenshots are expensive on
	// the wire and in vision tokens.
	shotLimiter *rate.Limiter

	// resolution is probed once and cached for the process lifetime.
	resMu      sync.Mutex
	resolution *schemas.Resolution
	resProbed  bool
}

// NewPerceiver builds a perceiver from config.
func NewPerceiver(cfg config.PerceptionConfig, driver schemas.DeviceDriver, logger *zap.Logger) *Perceiver {
	perMinute := cfg.ScreenshotsPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	return &Perceiver{
		driver:            driver,
		logger:            logger.Named("perception"),
		mode:              ParseVisionMode(cfg.VisionMode),
		maxElements:       cfg.MaxElements,
		fallbackThreshold: cfg.FallbackThreshold,
		shotLimiter:       rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Perceive runs one perception pass. Driver failures are never fatal: a
// missing or unparsable tree degrades to an empty observation with
// NeedsVisionFallback set, so the loop always has something to act on.
func (p *Perceiver) Perceive(ctx context.Context) schemas.ScreenObservation {
	raw, err := p.dumpTree(ctx)
	if err != nil {
		p.logger.Debug("Accessibility tree unavailable", zap.Error(err))
	}

	obs := Sanitize(raw, p.maxElements, p.fallbackThreshold)
	obs.Resolution = p.screenResolution(ctx)

	wantShot := false
	switch p.mode {
	case VisionAlways:
		wantShot = true
	case VisionFallback:
		wantShot = obs.NeedsVisionFallback
	}
	if wantShot {
		if p.shotLimiter.Allow() {
			if shot, err := p.screenshot(ctx); err == nil {
				obs.Screenshot = shot
			} else {
				p.logger.Debug("Screenshot capture failed", zap.Error(err))
			}
		} else {
			p.logger.Debug("Screenshot skipped by rate limit")
		}
	}

	p.logger.Debug("Perception pass complete",
		zap.Int("elements", len(obs.Elements)),
		zap.Int("total_found", obs.TotalFound),
		zap.Int("interactive", obs.InteractiveCount),
		zap.Bool("vision_fallback", obs.NeedsVisionFallback),
		zap.Bool("screenshot", len(obs.Screenshot) > 0))
	return obs
}

// dumpTree reads the accessibility tree. Dumping to /dev/tty makes
// uiautomator print the XML on stdout instead of a device file, but the
// output may carry a status-line prefix that has to be stripped.
func (p *Perceiver) dumpTree(ctx context.Context) (string, error) {
	raw, err := p.driver.RunCommand(ctx, "shell", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return "", err
	}
	for _, marker := range []string{"<?xml", "<hierarchy"} {
		if i := strings.Index(raw, marker); i >= 0 {
			return raw[i:], nil
		}
	}
	if strings.Contains(raw, "<node") {
		return raw, nil
	}
	return "", nil
}

// screenshot captures a PNG via exec-out. Tiny payloads are treated as
// capture failures; screencap emits an error banner on some devices.
func (p *Perceiver) screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.driver.RunCommandBytes(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(data) < 100 {
		return nil, errTinyScreenshot
	}
	return data, nil
}

// screenResolution probes `wm size` once and caches the answer.
func (p *Perceiver) screenResolution(ctx context.Context) *schemas.Resolution {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	if p.resProbed {
		return p.resolution
	}
	p.resProbed = true

	out, err := p.driver.RunCommand(ctx, "shell", "wm", "size")
	if err != nil {
		return nil
	}
	// "Physical size: 1080x2400" or "Override size: 1080x2400".
	for _, line := range strings.Split(out, "\n") {
		_, sizePart, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		wStr, hStr, found := strings.Cut(strings.TrimSpace(sizePart), "x")
		if !found {
			continue
		}
		w, errW := strconv.Atoi(strings.TrimSpace(wStr))
		h, errH := strconv.Atoi(strings.TrimSpace(hStr))
		if errW == nil && errH == nil && w > 0 && h > 0 {
			p.resolution = &schemas.Resolution{Width: w, Height: h}
			break
		}
	}
	return p.resolution
}
