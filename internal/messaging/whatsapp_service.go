package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var phoneRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
//
// WhatsApp has no inline keyboards, so prompts with options are rendered as
// numbered lists. The service remembers the options of the last prompt per
// chat; a reply consisting of exactly one of the listed numbers is translated
// into the CallbackEvent that an inline activation would have produced.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to underlying client for event handling
	events   chan models.Event
	done     chan struct{}

	mu      sync.Mutex
	pending map[string][]PromptOption // chatID -> options of the last prompt
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		events:  make(chan models.Event, DefaultChannelBufferSize),
		done:    make(chan struct{}),
		pending: make(map[string][]PromptOption),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient normalizes a phone number to E.164.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(recipient))
	if cleaned != "" && cleaned[0] != '+' {
		cleaned = "+" + cleaned
	}
	if !phoneRe.MatchString(cleaned) {
		return "", fmt.Errorf("invalid recipient %q: not an E.164 phone number", recipient)
	}
	return cleaned, nil
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.events)
	return nil
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if _, err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendPrompt sends body followed by a numbered option list and records the
// options so a numeric reply can be mapped back to its payload.
func (s *WhatsAppService) SendPrompt(ctx context.Context, to string, body string, options []PromptOption) (models.MessageRef, error) {
	text := body
	if len(options) > 0 {
		var b strings.Builder
		b.WriteString(body)
		b.WriteString("\n")
		for i, opt := range options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
		}
		text = b.String()
	}

	id, err := s.client.SendMessage(ctx, to, text)
	if err != nil {
		slog.Error("WhatsAppService SendPrompt error", "error", err, "to", to)
		return models.MessageRef{}, err
	}

	s.mu.Lock()
	if len(options) > 0 {
		s.pending[to] = options
	} else {
		delete(s.pending, to)
	}
	s.mu.Unlock()

	slog.Debug("WhatsAppService prompt sent", "to", to, "options", len(options))
	return models.MessageRef{ChatID: to, MessageID: id}, nil
}

// RevokeMessage withdraws a previously sent prompt.
func (s *WhatsAppService) RevokeMessage(ref models.MessageRef) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultChannelTimeout)
	defer cancel()
	return s.client.RevokeMessage(ctx, ref.ChatID, ref.MessageID)
}

// Events returns the channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

// handleEvents processes WhatsApp events and feeds them into the event channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts an inbound WhatsApp message into one of the
// dialog event shapes.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	from := canonicalNumber(evt.Info.Sender.User)
	key := models.UserKey{UserID: from, ChatID: from}

	if img := evt.Message.GetImageMessage(); img != nil {
		s.handleIncomingImage(ctx, key, img, evt.Info.Timestamp)
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if ext := evt.Message.GetExtendedTextMessage(); ext != nil && ext.Text != nil {
		text = *ext.Text
	} else {
		slog.Debug("WhatsAppService ignoring unsupported message", "from", from)
		return
	}

	if payload, ok := s.resolveOptionReply(from, text); ok {
		s.emit(models.CallbackEvent{From: key, Payload: payload, Time: evt.Info.Timestamp})
		return
	}
	s.emit(models.TextEvent{From: key, Body: text, Time: evt.Info.Timestamp})
}

func (s *WhatsAppService) handleIncomingImage(ctx context.Context, key models.UserKey, img *waE2E.ImageMessage, at time.Time) {
	data, err := s.client.DownloadImage(ctx, img)
	if err != nil {
		slog.Error("WhatsAppService image download failed", "error", err, "from", key.UserID)
		return
	}
	s.emit(models.PhotoEvent{
		From:    key,
		Image:   models.ImageData{Data: data, Format: formatFromMime(img.GetMimetype())},
		Caption: img.GetCaption(),
		Time:    at,
	})
}

// resolveOptionReply maps a bare number reply onto the pending prompt options
// for the chat. The mapping is consumed on use.
func (s *WhatsAppService) resolveOptionReply(chatID, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	options := s.pending[chatID]
	if n < 1 || n > len(options) {
		return "", false
	}
	delete(s.pending, chatID)
	return options[n-1].Payload, true
}

func (s *WhatsAppService) emit(ev models.Event) {
	select {
	case s.events <- ev:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService event channel blocked, dropping event", "from", ev.Key().UserID)
	}
}

// canonicalNumber converts a WhatsApp JID user part to E.164.
func canonicalNumber(user string) string {
	if !strings.HasPrefix(user, "+") {
		return "+" + user
	}
	return user
}

func formatFromMime(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
