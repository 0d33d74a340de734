package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Urgency levels understood by freedesktop notification servers.
const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

const (
	iconListening = "audio-input-microphone"
	iconForecast  = "weather-few-clouds"
	iconAnswer    = "weather-clear"
	iconError     = "weather-severe-alert"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
)

// notice is one indicator update. The terminal backend prints summary and
// body; the desktop backend also uses icon, urgency, and timeout.
type notice struct {
	summary   string
	body      string
	icon      string
	urgency   byte
	timeoutMS int
}

// notifyArgs encodes a Notify call with no actions and a single urgency hint.
func notifyArgs(appName string, replaceID uint32, n notice) []string {
	return []string{
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		n.icon,
		n.summary,
		n.body,
		"0",
		"1", "urgency", "y", strconv.Itoa(int(n.urgency)),
		strconv.Itoa(n.timeoutMS),
	}
}

// sendNotification posts or replaces a desktop notification and returns the
// ID the server assigned.
func sendNotification(ctx context.Context, appName string, replaceID uint32, n notice) (uint32, error) {
	out, err := busctl(ctx, "Notify", "susssasa{sv}i", notifyArgs(appName, replaceID, n)...)
	if err != nil {
		return 0, err
	}
	return parseNotificationID(out)
}

func closeNotification(ctx context.Context, id uint32) error {
	_, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

// parseNotificationID reads busctl's "u <id>" reply.
func parseNotificationID(out string) (uint32, error) {
	var id uint32
	if _, err := fmt.Sscanf(out, "u %d", &id); err != nil {
		return 0, fmt.Errorf("notification id from %q: %w", out, err)
	}
	return id, nil
}

// busctl calls one method on the session notification service.
func busctl(ctx context.Context, method string, signature string, args ...string) (string, error) {
	argv := append([]string{"--user", "call", notifyService, notifyPath, notifyService, method, signature}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text == "" {
			return "", fmt.Errorf("busctl %s: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", method, err, text)
	}
	return text, nil
}
