// Package callback implements the wire format for inline affordance payloads.
//
// A payload is "<key> <optional-value>": a symbolic key, one space, and an
// optional value. Structurally complex values are JSON-encoded before
// concatenation. The encoded string must not exceed 64 bytes of UTF-8.
package callback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nutrilog/nutrilog/internal/models"
)

// MaxPayloadBytes is the transport limit for an encoded payload.
const MaxPayloadBytes = 64

// Key is the symbolic part of a payload.
type Key string

// Keys used by the flows. Values stay short; the whole encoded payload has to
// fit in 64 bytes.
const (
	// Flow entry points reachable from inline affordances. The value names
	// the launching (parent) flow.
	KeyStartNewMeal    Key = "new_meal"
	KeyStartEditMeal   Key = "edit_meal"
	KeyStartDayView    Key = "day_view"
	KeyStartUpdateUser Key = "update_user"
	KeyStartSavedMeals Key = "saved_meals"

	// Start-menu actions.
	KeyUserData       Key = "user_data"
	KeyDeleteUserData Key = "del_user_data"

	// Meal-entry flow affordances.
	KeySkipDescription Key = "skip_descr"
	KeySkipImage       Key = "skip_image"
	KeySkipSaving      Key = "skip_saving"
	KeyTimeIsNow       Key = "time_now"

	// Meal-entry choice prompts. The value carries the selected option.
	KeyInputMode    Key = "input_mode"   // ai, manual, barcode
	KeyEditMode     Key = "edit_mode"    // ai, manual
	KeyConfirmAI    Key = "confirm_ai"   // confirm, more_info, reenter, cancel
	KeyConfirmEntry Key = "confirm_data" // confirm, reenter, cancel
	KeyKeepUpdate   Key = "keep_update"  // keep, update
	KeyIngredients  Key = "ingredients"  // one, many
	KeyMoreOrDone   Key = "more_done"    // more, done
	KeyYesNo        Key = "yes_no"       // yes, no

	// Day-view affordances.
	KeySelectMeal    Key = "select_meal"
	KeyDayPrevious   Key = "day_prev"
	KeyDayNext       Key = "day_next"
	KeyDayEnterDate  Key = "day_date"
	KeyDeleteMeal    Key = "delete_meal"
	KeyConfirmDelete Key = "confirm_delete"
	KeyBackToDay     Key = "back_to_day"
	KeyBackToMeal    Key = "back_to_meal"
)

// Payload is a decoded (key, value) pair. Value is empty when the payload
// carried no value.
type Payload struct {
	Key   Key
	Value string
}

// Encode builds the wire string for key and an optional value. Values that
// are not plain strings should be pre-encoded by the caller via EncodeJSON.
// Fails with PayloadTooLargeError when the UTF-8 encoding exceeds 64 bytes.
func Encode(key Key, value string) (string, error) {
	s := string(key)
	if value != "" {
		s = s + " " + value
	}
	if n := len(s); n > MaxPayloadBytes {
		return "", &models.PayloadTooLargeError{Payload: s, Size: n}
	}
	return s, nil
}

// EncodeJSON JSON-encodes a structurally complex value and appends it to the
// key. The same 64-byte limit applies to the full encoded string.
func EncodeJSON(key Key, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload value: %w", err)
	}
	return Encode(key, string(raw))
}

// Decode splits an encoded payload on the first space. A payload with no
// value decodes to an empty Value.
func Decode(s string) Payload {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return Payload{Key: Key(s[:i]), Value: s[i+1:]}
	}
	return Payload{Key: Key(s)}
}

// Int64 parses the payload value as a decimal integer.
func (p Payload) Int64() (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(p.Value, "%d", &v); err != nil {
		return 0, models.NewValidationError("payload value %q is not an integer", p.Value)
	}
	return v, nil
}
