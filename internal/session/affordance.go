package session

import (
	"log/slog"

	"github.com/nutrilog/nutrilog/internal/models"
)

// Revoker removes a previously sent interactive element from the chat.
// Revoking a message that is already gone must not be treated as an error by
// callers of the tracker.
type Revoker interface {
	RevokeMessage(ref models.MessageRef) error
}

// AffordanceTracker owns the single live "skip" affordance of a session.
// Presenting a new affordance revokes the previous one first; Revoke on an
// empty tracker is a no-op. The tracker is mutated only by the session's own
// handlers, so it carries no lock.
type AffordanceTracker struct {
	current *models.MessageRef
}

// Present records ref as the current affordance, revoking any previous one.
func (t *AffordanceTracker) Present(r Revoker, ref models.MessageRef) {
	t.Revoke(r)
	t.current = &ref
}

// Revoke removes the current affordance, if any. Failures are logged and
// swallowed: a stale or already-revoked affordance is not an error.
func (t *AffordanceTracker) Revoke(r Revoker) {
	if t.current == nil {
		return
	}
	ref := *t.current
	t.current = nil
	if err := r.RevokeMessage(ref); err != nil {
		slog.Debug("AffordanceTracker.Revoke: revoke failed, treating as stale",
			"chatID", ref.ChatID, "messageID", ref.MessageID, "error", err)
	}
}

// Active reports whether an affordance is currently live.
func (t *AffordanceTracker) Active() bool { return t.current != nil }
