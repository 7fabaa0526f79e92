// Package messaging defines the transport boundary for nutrilog.
//
// A Service delivers outbound prompts and yields inbound events. The dialog
// engine is transport-agnostic: it consumes the three event shapes defined in
// models and addresses users by canonicalized recipient strings.
package messaging

import (
	"context"

	"github.com/nutrilog/nutrilog/internal/models"
)

// PromptOption is one selectable choice attached to a prompt. Activating it
// delivers Payload back to the router as a CallbackEvent.
type PromptOption struct {
	Label   string
	Payload string
}

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendPrompt sends a message with selectable options and returns a
	// reference to the sent message so the affordance can later be revoked.
	SendPrompt(ctx context.Context, to string, body string, options []PromptOption) (models.MessageRef, error)

	// RevokeMessage withdraws a previously sent prompt. Revoking a message
	// that is already gone returns an error the caller may ignore.
	RevokeMessage(ref models.MessageRef) error

	// Events returns the channel of inbound events (text, photo, affordance
	// activation).
	Events() <-chan models.Event

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}
