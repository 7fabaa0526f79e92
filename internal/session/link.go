package session

import (
	"sync"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
)

// ParentPayload is the typed handoff a parent flow leaves for a child it
// launches. Zero fields mean "not set".
type ParentPayload struct {
	// MealID is the logged meal the child should edit.
	MealID int64
	// ReturnDate is the day the parent was displaying, so it can resume there
	// when the child finishes.
	ReturnDate *time.Time
}

type linkKey struct {
	User   models.UserKey
	Parent models.FlowType
	Child  models.FlowType
}

// ParentLinker stores the handoff payload written when a parent flow launches
// a child flow. A payload is consumed exactly once: Pop removes it.
type ParentLinker struct {
	mu       sync.Mutex
	payloads map[linkKey]ParentPayload
}

// NewParentLinker creates an empty linker.
func NewParentLinker() *ParentLinker {
	return &ParentLinker{payloads: make(map[linkKey]ParentPayload)}
}

// Set stores payload for (user, parent, child), overwriting any prior
// unclaimed payload for that pair.
func (l *ParentLinker) Set(user models.UserKey, parent, child models.FlowType, payload ParentPayload) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payloads[linkKey{User: user, Parent: parent, Child: child}] = payload
}

// Pop returns and removes the payload for (user, parent, child). The second
// return is false when no payload is stored; a second Pop for the same pair
// always reports false.
func (l *ParentLinker) Pop(user models.UserKey, parent, child models.FlowType) (ParentPayload, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := linkKey{User: user, Parent: parent, Child: child}
	p, ok := l.payloads[k]
	if ok {
		delete(l.payloads, k)
	}
	return p, ok
}
