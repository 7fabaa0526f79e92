package models

import "time"

// UserKey identifies a dialog session: one user within one chat/channel.
type UserKey struct {
	UserID string // transport-level sender identity
	ChatID string // chat/channel the dialog runs in
}

// MessageRef identifies one message previously sent on the transport, used to
// revoke ephemeral affordances.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// ImageData is raw image bytes plus the source format (file extension without
// the dot, e.g. "jpg").
type ImageData struct {
	Data   []byte
	Format string
}

// Event is an inbound event consumed by the dialog router. Exactly three
// shapes exist: free text, a photo with optional caption, and an inline
// affordance activation carrying an encoded payload.
type Event interface {
	Key() UserKey
	At() time.Time
}

// TextEvent is a free-text message. Commands arrive as TextEvents whose body
// starts with a slash; the router recognizes them via Command().
type TextEvent struct {
	From UserKey
	Body string
	Time time.Time
}

func (e TextEvent) Key() UserKey  { return e.From }
func (e TextEvent) At() time.Time { return e.Time }

// Command returns the command carried by the text, or "" when the text is not
// a command. "/new_meal extra" yields "new_meal".
func (e TextEvent) Command() Command {
	if len(e.Body) < 2 || e.Body[0] != '/' {
		return ""
	}
	name := e.Body[1:]
	for i := 0; i < len(name); i++ {
		if name[i] == ' ' || name[i] == '\n' {
			name = name[:i]
			break
		}
	}
	return Command(name)
}

// PhotoEvent is a photo-attachment message with an optional caption.
type PhotoEvent struct {
	From    UserKey
	Image   ImageData
	Caption string
	Time    time.Time
}

func (e PhotoEvent) Key() UserKey  { return e.From }
func (e PhotoEvent) At() time.Time { return e.Time }

// CallbackEvent is an inline affordance activation. Payload is the encoded
// "<key> <optional-value>" string (see the callback package).
type CallbackEvent struct {
	From    UserKey
	Payload string
	Time    time.Time
}

func (e CallbackEvent) Key() UserKey  { return e.From }
func (e CallbackEvent) At() time.Time { return e.Time }
