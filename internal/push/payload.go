package push

import "time"

// Defaults applied to every alert the relay sends.
const (
	DefaultSound  = "ping.aiff"
	DefaultBadge  = 1
	PushTypeAlert = "alert"
)

// Payload is the provider-neutral notification handed to a Backend.
type Payload struct {
	Title string
	Body  string
	// Topic, when set, turns the delivery into a broadcast to every
	// subscriber of the topic instead of a single device.
	Topic          string
	Data           map[string]string
	Sound          string
	Badge          int
	Expiry         time.Time
	PushType       string
	MutableContent bool
}

// Alert builds a visible notification with the default sound and badge.
func Alert(title, body string, expiry time.Time) Payload {
	return Payload{
		Title:          title,
		Body:           body,
		Sound:          DefaultSound,
		Badge:          DefaultBadge,
		Expiry:         expiry,
		PushType:       PushTypeAlert,
		MutableContent: true,
	}
}

// TTL is the remaining lifetime of the payload relative to now. A zero
// expiry or one in the past yields zero.
func (p Payload) TTL(now time.Time) time.Duration {
	if p.Expiry.IsZero() || !p.Expiry.After(now) {
		return 0
	}
	return p.Expiry.Sub(now)
}
