package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/nutrilog/nutrilog/internal/models"
)

// SentRecord is one outbound message captured by the MockService.
type SentRecord struct {
	To      string
	Body    string
	Options []PromptOption
}

// MockService implements Service without any transport, recording outbound
// traffic for assertions and letting tests inject inbound events.
type MockService struct {
	mu      sync.Mutex
	sent    []SentRecord
	revoked []models.MessageRef
	events  chan models.Event
	nextID  int

	// SendErr and RevokeErr, when set, are returned by the corresponding
	// operations.
	SendErr   error
	RevokeErr error
}

// NewMockService creates a mock transport with a buffered event channel.
func NewMockService() *MockService {
	return &MockService{events: make(chan models.Event, DefaultChannelBufferSize)}
}

func (s *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (s *MockService) SendMessage(ctx context.Context, to string, body string) error {
	if s.SendErr != nil {
		return s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentRecord{To: to, Body: body})
	return nil
}

func (s *MockService) SendPrompt(ctx context.Context, to string, body string, options []PromptOption) (models.MessageRef, error) {
	if s.SendErr != nil {
		return models.MessageRef{}, s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sent = append(s.sent, SentRecord{To: to, Body: body, Options: options})
	return models.MessageRef{ChatID: to, MessageID: fmt.Sprintf("mock-%d", s.nextID)}, nil
}

func (s *MockService) RevokeMessage(ref models.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, ref)
	return s.RevokeErr
}

func (s *MockService) Events() <-chan models.Event { return s.events }

func (s *MockService) Start(ctx context.Context) error { return nil }

func (s *MockService) Stop() error {
	close(s.events)
	return nil
}

// Inject delivers an inbound event as if it arrived from the transport.
func (s *MockService) Inject(ev models.Event) { s.events <- ev }

// Sent returns a copy of the captured outbound messages.
func (s *MockService) Sent() []SentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentRecord, len(s.sent))
	copy(out, s.sent)
	return out
}

// LastSent returns the most recent outbound message, or nil when none exists.
func (s *MockService) LastSent() *SentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	r := s.sent[len(s.sent)-1]
	return &r
}

// Revoked returns a copy of the revoked message references.
func (s *MockService) Revoked() []models.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MessageRef, len(s.revoked))
	copy(out, s.revoked)
	return out
}
