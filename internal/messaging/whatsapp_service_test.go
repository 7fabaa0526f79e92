package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/nutrilog/nutrilog/internal/whatsapp"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+15551234567", want: "+15551234567"},
		{in: "15551234567", want: "+15551234567"},
		{in: "+1 (555) 123-4567", want: "+15551234567"},
		{in: "not a number", wantErr: true},
		{in: "", wantErr: true},
		{in: "+0123", wantErr: true},
	}
	for _, tc := range cases {
		got, err := s.ValidateAndCanonicalizeRecipient(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSendPromptRendersNumberedOptions(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	ref, err := s.SendPrompt(context.Background(), "+15551234567", "Choose:", []PromptOption{
		{Label: "Describe to AI", Payload: "input_mode ai"},
		{Label: "Enter manually", Payload: "input_mode manual"},
	})
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if ref.ChatID != "+15551234567" || ref.MessageID == "" {
		t.Errorf("SendPrompt returned incomplete ref %+v", ref)
	}
}

func TestResolveOptionReply(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	_, err := s.SendPrompt(context.Background(), "+15551234567", "Choose:", []PromptOption{
		{Label: "Yes", Payload: "confirm yes"},
		{Label: "No", Payload: "confirm no"},
	})
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	if _, ok := s.resolveOptionReply("+15551234567", "3"); ok {
		t.Error("out-of-range reply should not resolve")
	}
	if _, ok := s.resolveOptionReply("+15551234567", "yes please"); ok {
		t.Error("free text should not resolve")
	}
	payload, ok := s.resolveOptionReply("+15551234567", " 2 ")
	if !ok || payload != "confirm no" {
		t.Fatalf("reply 2 resolved to %q, %v", payload, ok)
	}
	if _, ok := s.resolveOptionReply("+15551234567", "2"); ok {
		t.Error("option mapping must be consumed on use")
	}
}

func TestResolveOptionReplyScopedPerChat(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	_, err := s.SendPrompt(context.Background(), "+15551234567", "Choose:", []PromptOption{
		{Label: "Yes", Payload: "confirm yes"},
	})
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if _, ok := s.resolveOptionReply("+19998887777", "1"); ok {
		t.Error("options must not leak into other chats")
	}
}

func TestFormatFromMime(t *testing.T) {
	if got := formatFromMime("image/png"); got != "png" {
		t.Errorf("png mime mapped to %q", got)
	}
	if got := formatFromMime("image/jpeg"); got != "jpg" {
		t.Errorf("jpeg mime mapped to %q", got)
	}
}

func TestMockServiceRecordsTraffic(t *testing.T) {
	s := NewMockService()
	if err := s.SendMessage(context.Background(), "+1", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ref, err := s.SendPrompt(context.Background(), "+1", "pick", []PromptOption{{Label: "a", Payload: "p"}})
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if err := s.RevokeMessage(ref); err != nil {
		t.Fatalf("RevokeMessage: %v", err)
	}
	sent := s.Sent()
	if len(sent) != 2 || !strings.Contains(sent[0].Body, "hello") {
		t.Fatalf("unexpected sent records %+v", sent)
	}
	if revoked := s.Revoked(); len(revoked) != 1 || revoked[0] != ref {
		t.Fatalf("unexpected revoked records %+v", s.Revoked())
	}
}
