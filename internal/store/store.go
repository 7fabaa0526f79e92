// Package store provides storage backends for nutrilog.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL backends for
// persistent storage. Every operation is a short-lived unit of work; no
// transaction spans a user's think-time between prompts.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
)

// errMealNotFound signals an update against a meal id that no longer exists.
var errMealNotFound = errors.New("meal not found")

// Store is the persistence collaborator consumed by the dialog flows.
// Failures surface as *models.StorageError.
type Store interface {
	// GetUserByChatID returns the registered user for a transport identity,
	// or nil when the user does not exist.
	GetUserByChatID(chatID string) (*models.User, error)

	// SaveUser inserts or updates a user (including the nested target).
	SaveUser(user *models.User) error

	// DeleteUser removes a user together with their meals and templates.
	DeleteUser(userID int64) error

	// AddLoggedMeal commits a finished draft and returns the new meal id.
	AddLoggedMeal(draft models.MealDraft) (int64, error)

	// UpdateLoggedMeal overwrites an existing logged meal from an edited
	// draft (matched by draft.ID).
	UpdateLoggedMeal(draft models.MealDraft) error

	// DeleteLoggedMeal removes one logged meal.
	DeleteLoggedMeal(mealID int64) error

	// MealByID returns one logged meal, or nil when it does not exist.
	MealByID(mealID int64) (*models.LoggedMeal, error)

	// MealsForDay returns the meals whose local timestamp falls on the same
	// calendar day as day, ordered by local time.
	MealsForDay(userID int64, day time.Time) ([]models.LoggedMeal, error)

	// AddSavedMealTemplate stores a reusable meal template built from a
	// draft and its default weight.
	AddSavedMealTemplate(tmpl models.SavedMealTemplate) error

	// SavedMealsForUser lists a user's stored templates, newest first.
	SavedMealsForUser(userID int64) ([]models.SavedMealTemplate, error)

	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// TemplateFromDraft normalizes a confirmed draft into a per-100g template
// row for the save-for-future path. defaultWeight must be positive; the flow
// validates it before calling.
func TemplateFromDraft(draft models.MealDraft, defaultWeight float64) models.SavedMealTemplate {
	factor := 100.0 / defaultWeight
	return models.SavedMealTemplate{
		UserID:          draft.UserID,
		Name:            draft.Name,
		Description:     draft.Description,
		CreatedUTC:      time.Now().UTC(),
		DefaultWeight:   defaultWeight,
		CaloriesPer100g: draft.Calories * factor,
		ProteinPer100g:  draft.Protein * factor,
		FatPer100g:      draft.Fat * factor,
		CarbsPer100g:    draft.Carbs * factor,
	}
}
