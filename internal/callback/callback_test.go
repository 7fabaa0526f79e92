package callback

import (
	"errors"
	"strings"
	"testing"

	"github.com/nutrilog/nutrilog/internal/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		key   Key
		value string
	}{
		{KeySkipDescription, ""},
		{KeySelectMeal, "42"},
		{KeyTimeIsNow, "13:45"},
		{KeyStartNewMeal, "day_view"},
		{Key("k"), strings.Repeat("v", 62)}, // exactly 64 bytes encoded
	}
	for _, c := range cases {
		encoded, err := Encode(c.key, c.value)
		if err != nil {
			t.Fatalf("Encode(%q, %q) failed: %v", c.key, c.value, err)
		}
		decoded := Decode(encoded)
		if decoded.Key != c.key || decoded.Value != c.value {
			t.Errorf("round trip of (%q, %q) gave (%q, %q)", c.key, c.value, decoded.Key, decoded.Value)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(KeySelectMeal, strings.Repeat("x", 60))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	var tooLarge *models.PayloadTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected PayloadTooLargeError, got %T: %v", err, err)
	}
	if tooLarge.Size <= MaxPayloadBytes {
		t.Errorf("reported size %d should exceed the limit", tooLarge.Size)
	}
}

func TestEncodeMultiByteLimitCountsBytes(t *testing.T) {
	// 22 three-byte runes push the payload past 64 bytes even though the
	// rune count stays small.
	_, err := Encode(Key("k"), strings.Repeat("€", 22))
	var tooLarge *models.PayloadTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected PayloadTooLargeError, got %v", err)
	}
}

func TestEncodeJSON(t *testing.T) {
	encoded, err := EncodeJSON(KeySelectMeal, map[string]int{"id": 7})
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	decoded := Decode(encoded)
	if decoded.Key != KeySelectMeal {
		t.Errorf("unexpected key %q", decoded.Key)
	}
	if decoded.Value != `{"id":7}` {
		t.Errorf("unexpected value %q", decoded.Value)
	}
}

func TestDecodeSplitsOnFirstSpace(t *testing.T) {
	decoded := Decode("select_meal 7 extra")
	if decoded.Key != KeySelectMeal || decoded.Value != "7 extra" {
		t.Errorf("got (%q, %q), want key split on first space only", decoded.Key, decoded.Value)
	}
}

func TestPayloadInt64(t *testing.T) {
	p := Decode("select_meal 123")
	id, err := p.Int64()
	if err != nil {
		t.Fatalf("Int64 failed: %v", err)
	}
	if id != 123 {
		t.Errorf("got %d, want 123", id)
	}

	var validation *models.ValidationError
	if _, err := Decode("select_meal abc").Int64(); !errors.As(err, &validation) {
		t.Errorf("expected ValidationError for non-numeric value, got %v", err)
	}
}
