// internal/domain/notification/ports.go
package notification

import (
	"context"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
)

// Notifier shows and dismisses dose notifications on the care-recipient's display.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, key dose.Key) error
}

// Announcer speaks a text. Implementations must return without waiting for playback.
type Announcer interface {
	Speak(ctx context.Context, text string, urgent bool) error
}

// Vibrator plays a vibration pattern. Implementations must not block.
type Vibrator interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// CaregiverSink delivers a missed-dose alert outside the device.
type CaregiverSink interface {
	Deliver(ctx context.Context, alert *dose.CaregiverAlert) error
}
