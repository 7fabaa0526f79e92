// Package session holds per-user dialog state for nutrilog.
//
// A Session is the mutable data bag for one (user, chat) pair: the active
// flow and stage, the meal draft under construction, and the bookkeeping the
// flows need between turns. Sessions are handed to handlers explicitly; there
// is no ambient lookup. The router serializes handler invocations per
// session, so Session itself carries no lock.
package session

import (
	"sync"
	"time"

	"github.com/nutrilog/nutrilog/internal/estimator"
	"github.com/nutrilog/nutrilog/internal/models"
)

// Session is the per-(user, chat) dialog state. All optional data uses
// explicit pointer or nil-able fields; the Clear* operations are idempotent.
type Session struct {
	Key models.UserKey

	// Flow and Stage locate the active conversation. Both are empty when no
	// flow is in progress.
	Flow  models.FlowType
	Stage models.Stage

	// ParentFlow names the flow that launched the active one, empty for a
	// flow started directly by the user. Routing uses it to hand control back
	// when the child terminates.
	ParentFlow models.FlowType

	// User is the registered user resolved at flow entry, nil for
	// unregistered senders.
	User *models.User

	// Draft is the meal under construction, nil outside the meal-entry flow.
	Draft *models.MealDraft

	// Ingredients collects manual entries while the flow is in "multiple
	// ingredients" mode. Collapsed into the draft by the aggregator.
	Ingredients []models.IngredientEntry

	// AiInput collects the material for the first estimation request.
	AiInput AiInput

	// AiContext carries estimation context across refinement turns.
	AiContext estimator.Conversation

	// SaveForFuture records the user's decision between the save prompt and
	// the corrected-weight loop.
	SaveForFuture bool

	// ViewDate is the day the day-view flow currently displays.
	ViewDate *time.Time

	// SelectedMealID is the meal the day-view flow has focused, nil when no
	// meal is selected.
	SelectedMealID *int64

	// Affordance tracks the single live skip affordance for this session.
	Affordance AffordanceTracker
}

// AiInput is the material gathered for the first estimation request. Each
// slot distinguishes "not provided yet" (nil, not skipped) from "explicitly
// skipped": a skipped slot is never asked for again and never filled from a
// caption.
type AiInput struct {
	Description        *string
	DescriptionSkipped bool
	Image              *models.ImageData
	ImageSkipped       bool
}

// DescriptionSettled reports whether the description slot needs no further
// input: it was either provided or explicitly skipped.
func (a AiInput) DescriptionSettled() bool { return a.Description != nil || a.DescriptionSkipped }

// ImageSettled reports whether the image slot needs no further input.
func (a AiInput) ImageSettled() bool { return a.Image != nil || a.ImageSkipped }

// ClearDraft drops the in-progress draft. Idempotent.
func (s *Session) ClearDraft() { s.Draft = nil }

// ClearIngredients drops collected ingredient entries. Idempotent.
func (s *Session) ClearIngredients() { s.Ingredients = nil }

// ClearAiContext drops the estimation transcript. Idempotent.
func (s *Session) ClearAiContext() { s.AiContext = nil }

// ClearAiInput resets collected estimation material to the unset state.
// Idempotent.
func (s *Session) ClearAiInput() { s.AiInput = AiInput{} }

// ClearViewDate drops the day-view date. Idempotent.
func (s *Session) ClearViewDate() { s.ViewDate = nil }

// ClearSelectedMeal drops the day-view meal focus. Idempotent.
func (s *Session) ClearSelectedMeal() { s.SelectedMealID = nil }

// End clears all flow data and marks the session idle. The affordance must
// already have been revoked by the terminating handler; End only forgets the
// reference.
func (s *Session) End() {
	s.Flow = ""
	s.Stage = ""
	s.ParentFlow = ""
	s.SaveForFuture = false
	s.ClearDraft()
	s.ClearIngredients()
	s.ClearAiInput()
	s.ClearAiContext()
	s.ClearViewDate()
	s.ClearSelectedMeal()
}

// Store keeps one Session per (user, chat) pair.
type Store struct {
	mu       sync.Mutex
	sessions map[models.UserKey]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[models.UserKey]*Session)}
}

// Get returns the session for key, or nil when none exists.
func (s *Store) Get(key models.UserKey) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[key]
}

// GetOrCreate returns the session for key, creating an idle one if needed.
func (s *Store) GetOrCreate(key models.UserKey) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{Key: key}
		s.sessions[key] = sess
	}
	return sess
}

// Delete removes the session for key. Idempotent.
func (s *Store) Delete(key models.UserKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}
