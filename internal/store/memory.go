// Package store provides storage backends for nutrilog.
//
// This file implements a simple in-memory store used by flow and router tests.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
)

// InMemoryStore keeps all records in process memory. It is safe for
// concurrent use and intended for tests.
type InMemoryStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	meals     map[int64]*models.LoggedMeal
	templates map[int64]*models.SavedMealTemplate
	nextID    int64
	failing   map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:     make(map[int64]*models.User),
		meals:     make(map[int64]*models.LoggedMeal),
		templates: make(map[int64]*models.SavedMealTemplate),
		nextID:    1,
	}
}

func (s *InMemoryStore) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// FailNext makes the next call of the named operation fail with a
// StorageError. For fault-injection in tests.
func (s *InMemoryStore) FailNext(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing == nil {
		s.failing = make(map[string]bool)
	}
	s.failing[op] = true
}

// takeFailure consumes a pending injected failure for op. Callers hold mu.
func (s *InMemoryStore) takeFailure(op string) error {
	if s.failing[op] {
		delete(s.failing, op)
		return &models.StorageError{Op: op, Err: errors.New("injected failure")}
	}
	return nil
}

func (s *InMemoryStore) GetUserByChatID(chatID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetUserByChatID"); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.ChatID == chatID {
			cp := *u
			if u.Target != nil {
				t := *u.Target
				cp.Target = &t
			}
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SaveUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.allocID()
	}
	cp := *user
	if user.Target != nil {
		t := *user.Target
		t.UserID = user.ID
		cp.Target = &t
	}
	s.users[user.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteUser(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeleteUser"); err != nil {
		return err
	}
	delete(s.users, userID)
	for id, m := range s.meals {
		if m.UserID == userID {
			delete(s.meals, id)
		}
	}
	for id, t := range s.templates {
		if t.UserID == userID {
			delete(s.templates, id)
		}
	}
	return nil
}

func (s *InMemoryStore) AddLoggedMeal(draft models.MealDraft) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("AddLoggedMeal"); err != nil {
		return 0, err
	}
	id := s.allocID()
	meal := loggedMealFromDraft(draft)
	meal.ID = id
	s.meals[id] = &meal
	return id, nil
}

func (s *InMemoryStore) UpdateLoggedMeal(draft models.MealDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdateLoggedMeal"); err != nil {
		return err
	}
	if _, ok := s.meals[draft.ID]; !ok {
		return &models.StorageError{Op: "UpdateLoggedMeal", Err: errMealNotFound}
	}
	meal := loggedMealFromDraft(draft)
	meal.ID = draft.ID
	s.meals[draft.ID] = &meal
	return nil
}

func (s *InMemoryStore) DeleteLoggedMeal(mealID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeleteLoggedMeal"); err != nil {
		return err
	}
	delete(s.meals, mealID)
	return nil
}

func (s *InMemoryStore) MealByID(mealID int64) (*models.LoggedMeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meals[mealID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) MealsForDay(userID int64, day time.Time) ([]models.LoggedMeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MealsForDay"); err != nil {
		return nil, err
	}
	var out []models.LoggedMeal
	for _, m := range s.meals {
		if m.UserID != userID {
			continue
		}
		if !sameCalendarDay(m.CreatedLocal, day) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return timeOfDay(out[i].CreatedLocal) < timeOfDay(out[j].CreatedLocal)
	})
	return out, nil
}

func (s *InMemoryStore) AddSavedMealTemplate(tmpl models.SavedMealTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("AddSavedMealTemplate"); err != nil {
		return err
	}
	tmpl.ID = s.allocID()
	s.templates[tmpl.ID] = &tmpl
	return nil
}

func (s *InMemoryStore) SavedMealsForUser(userID int64) ([]models.SavedMealTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SavedMealsForUser"); err != nil {
		return nil, err
	}
	var out []models.SavedMealTemplate
	for _, t := range s.templates {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedUTC.Equal(out[j].CreatedUTC) {
			return out[i].CreatedUTC.After(out[j].CreatedUTC)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func loggedMealFromDraft(draft models.MealDraft) models.LoggedMeal {
	return models.LoggedMeal{
		ID:           draft.ID,
		UserID:       draft.UserID,
		Name:         draft.Name,
		Description:  draft.Description,
		CreatedUTC:   draft.CreatedUTC,
		CreatedLocal: draft.CreatedLocal,
		Weight:       draft.Weight,
		Calories:     draft.Calories,
		Protein:      draft.Protein,
		Fat:          draft.Fat,
		Carbs:        draft.Carbs,
	}
}

// sameCalendarDay compares wall-clock dates; each time is read in its own
// location, matching how local timestamps are grouped in SQL.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func timeOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
