// File: internal/perception/notifications.go
package perception

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

var errTinyScreenshot = errors.New("screenshot payload too small")

// System packages whose notifications are pure noise for the agent.
var ignoredNotificationPackages = map[string]bool{
	"android":                         true,
	"com.android.systemui":            true,
	"com.android.providers.downloads": true,
	"com.android.vending":             true,
}

// seenCap bounds the dedup set; above it the set is halved, oldest-ish
// entries first (map order, which is good enough for a dedup cache).
const seenCap = 1000

// NotificationWatcher polls device notifications and surfaces only the ones
// not seen before. It is safe for concurrent use.
type NotificationWatcher struct {
	driver       schemas.DeviceDriver
	logger       *zap.Logger
	priorityApps []string

	mu   sync.Mutex
	seen map[string]bool
}

// NewNotificationWatcher builds a watcher with the given priority apps.
func NewNotificationWatcher(driver schemas.DeviceDriver, priorityApps []string, logger *zap.Logger) *NotificationWatcher {
	return &NotificationWatcher{
		driver:       driver,
		logger:       logger.Named("notifications"),
		priorityApps: priorityApps,
		seen:         make(map[string]bool),
	}
}

// Poll dumps the notification table and returns the records not seen
// before. The second result is true when any new record came from a
// priority app, which callers use to trigger an immediate tick.
func (w *NotificationWatcher) Poll(ctx context.Context) ([]schemas.Notification, bool) {
	raw, err := w.driver.RunCommand(ctx, "shell", "dumpsys", "notification", "--noredact")
	if err != nil {
		w.logger.Debug("Notification poll failed", zap.Error(err))
		return nil, false
	}

	parsed := ParseNotificationDump(raw)

	w.mu.Lock()
	defer w.mu.Unlock()

	var fresh []schemas.Notification
	priority := false
	for _, n := range parsed {
		key := n.App + "|" + n.Title + "|" + n.Text
		if w.seen[key] {
			continue
		}
		w.seen[key] = true
		fresh = append(fresh, n)
		for _, app := range w.priorityApps {
			if strings.Contains(n.App, app) {
				priority = true
				break
			}
		}
		w.logger.Info("New notification",
			zap.String("app", n.App), zap.String("title", n.Title))
	}

	if len(w.seen) > seenCap {
		for k := range w.seen {
			if len(w.seen) <= seenCap/2 {
				break
			}
			delete(w.seen, k)
		}
	}
	return fresh, priority
}

// FormatNotifications renders notifications for the tick prompt.
func FormatNotifications(notifs []schemas.Notification) string {
	if len(notifs) == 0 {
		return "No new notifications."
	}
	lines := make([]string, 0, len(notifs))
	for _, n := range notifs {
		lines = append(lines, "["+n.App+"] "+n.Title+": "+n.Text)
	}
	return strings.Join(lines, "\n")
}

// ParseNotificationDump extracts notification records from dumpsys output.
// The format varies across Android versions; both the inline
// "android.title=" form and the "String (android.title):" form appear in
// the wild.
func ParseNotificationDump(raw string) []schemas.Notification {
	var results []schemas.Notification
	var pkg, title, text, bigText string
	inRecord := false

	flush := func() {
		if inRecord && pkg != "" && !ignoredNotificationPackages[pkg] {
			body := bigText
			if body == "" {
				body = text
			}
			if title != "" || body != "" {
				results = append(results, schemas.Notification{
					App:       pkg,
					Title:     title,
					Text:      body,
					Timestamp: time.Now(),
				})
			}
		}
		pkg, title, text, bigText = "", "", "", ""
	}

	for _, line := range strings.Split(raw, "\n") {
		s := strings.TrimSpace(line)

		if strings.HasPrefix(s, "NotificationRecord(") || strings.HasPrefix(s, "NotificationRecord{") {
			flush()
			inRecord = true
			pkg = extractField(s, "pkg=")
			continue
		}
		if !inRecord {
			continue
		}

		switch {
		case strings.HasPrefix(s, "android.title="):
			title = strings.TrimPrefix(s, "android.title=")
		case strings.HasPrefix(s, "android.text="):
			text = strings.TrimPrefix(s, "android.text=")
		case strings.HasPrefix(s, "android.bigText="):
			bigText = strings.TrimPrefix(s, "android.bigText=")
		case strings.HasPrefix(s, "android.subText=") && text == "":
			text = strings.TrimPrefix(s, "android.subText=")
		case strings.HasPrefix(s, "String (android.title): "):
			title = strings.TrimPrefix(s, "String (android.title): ")
		case strings.HasPrefix(s, "String (android.text): "):
			text = strings.TrimPrefix(s, "String (android.text): ")
		case strings.HasPrefix(s, "String (android.bigText): "):
			bigText = strings.TrimPrefix(s, "String (android.bigText): ")
		}
	}
	flush()
	return results
}

// extractField pulls a delimited value like "pkg=com.example.app" out of a
// record header line.
func extractField(line, prefix string) string {
	start := strings.Index(line, prefix)
	if start < 0 {
		return ""
	}
	rest := line[start+len(prefix):]
	end := strings.IndexAny(rest, " )}:")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end])
}
