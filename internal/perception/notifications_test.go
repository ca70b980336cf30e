// File: internal/perception/notifications_test.go
package perception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleDump = `NOTIFICATION MANAGER (dumpsys notification)
  NotificationRecord(0x12345 pkg=com.example.mail user=UserHandle{0} id=42)
      android.title=New message
      android.text=Hi from Alice
  NotificationRecord(0x23456 pkg=com.android.systemui user=UserHandle{0} id=1)
      android.title=USB debugging connected
  NotificationRecord(0x34567 pkg=com.example.chat user=UserHandle{0} id=7)
      String (android.title): Reminder
      String (android.bigText): Standup at 10:00 in the big room
      String (android.text): Standup at 10:00
`

func TestParseNotificationDump(t *testing.T) {
	t.Parallel()

	notifs := ParseNotificationDump(sampleDump)

	require.Len(t, notifs, 2, "system packages must be dropped")

	assert.Equal(t, "com.example.mail", notifs[0].App)
	assert.Equal(t, "New message", notifs[0].Title)
	assert.Equal(t, "Hi from Alice", notifs[0].Text)

	assert.Equal(t, "com.example.chat", notifs[1].App)
	assert.Equal(t, "Reminder", notifs[1].Title)
	assert.Equal(t, "Standup at 10:00 in the big room", notifs[1].Text,
		"bigText wins over the truncated text field")
}

func TestParseNotificationDumpEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ParseNotificationDump(""))
	assert.Empty(t, ParseNotificationDump("no records here"))
}

func TestNotificationWatcherDedup(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{responses: map[string]string{
		"shell dumpsys notification --noredact": sampleDump,
	}}
	w := NewNotificationWatcher(d, nil, zaptest.NewLogger(t))

	first, _ := w.Poll(context.Background())
	second, _ := w.Poll(context.Background())

	assert.Len(t, first, 2)
	assert.Empty(t, second, "an unchanged dump must not resurface notifications")
}

func TestNotificationWatcherPriorityFlag(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{responses: map[string]string{
		"shell dumpsys notification --noredact": sampleDump,
	}}
	w := NewNotificationWatcher(d, []string{"com.example.chat"}, zaptest.NewLogger(t))

	_, priority := w.Poll(context.Background())
	assert.True(t, priority)

	w2 := NewNotificationWatcher(d, []string{"com.other.app"}, zaptest.NewLogger(t))
	_, priority = w2.Poll(context.Background())
	assert.False(t, priority)
}

func TestFormatNotifications(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No new notifications.", FormatNotifications(nil))

	got := FormatNotifications(ParseNotificationDump(sampleDump))
	assert.Contains(t, got, "[com.example.mail] New message: Hi from Alice")
}
