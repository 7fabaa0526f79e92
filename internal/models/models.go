// Package models defines the core data structures for nutrilog.
//
// It includes the meal draft under construction, nutrition maps, user and
// target records, and the typed errors shared across modules.
package models

import "time"

// NutritionKey identifies one entry of a NutritionMap. The set of keys is
// closed; consumers must treat missing keys as zero.
type NutritionKey string

const (
	NutritionCalories NutritionKey = "calories"
	NutritionFat      NutritionKey = "fat"
	NutritionCarbs    NutritionKey = "carbs"
	NutritionProtein  NutritionKey = "protein"
	NutritionWeight   NutritionKey = "weight"
)

// NutritionKeys lists every nutrition key in display order.
var NutritionKeys = []NutritionKey{
	NutritionCalories, NutritionFat, NutritionCarbs, NutritionProtein, NutritionWeight,
}

// Unit returns the display unit for the key (kcal for calories, grams otherwise).
func (k NutritionKey) Unit() string {
	if k == NutritionCalories {
		return "kcal"
	}
	return "g"
}

// Label returns the human-readable label for the key.
func (k NutritionKey) Label() string {
	switch k {
	case NutritionCalories:
		return "Calories"
	case NutritionFat:
		return "Fat"
	case NutritionCarbs:
		return "Carbs"
	case NutritionProtein:
		return "Protein"
	case NutritionWeight:
		return "Weight"
	default:
		return string(k)
	}
}

// Macro-to-calorie conversion factors (kcal per gram). These are the canonical
// factors used wherever macro percentages are displayed; stored calories are
// never reconciled against them.
const (
	CaloriesPerGramProtein = 4
	CaloriesPerGramCarbs   = 4
	CaloriesPerGramFat     = 9
)

// NutritionMap maps nutrition keys to values. A missing key reads as zero.
type NutritionMap map[NutritionKey]float64

// Get returns the value for key, or zero if the key is absent.
func (m NutritionMap) Get(key NutritionKey) float64 {
	if m == nil {
		return 0
	}
	return m[key]
}

// IngredientEntry is one manually entered ingredient: an optional name plus
// its nutrition values. Entries are immutable once recorded.
type IngredientEntry struct {
	Name      string // empty when the ingredient was not named
	Nutrition NutritionMap
}

// MealDraft is the meal entity under construction during a meal-entry dialog.
// It is owned exclusively by the active session and handed to the store by
// value on commit.
type MealDraft struct {
	ID           int64 // non-zero only when editing an already logged meal
	UserID       int64
	Name         string
	Description  string
	CreatedUTC   time.Time
	CreatedLocal time.Time
	Weight       float64 // grams
	Calories     float64 // kcal
	Protein      float64 // grams
	Fat          float64 // grams
	Carbs        float64 // grams
}

// Nutrition returns the draft's nutrition values as a fully populated map.
func (d *MealDraft) Nutrition() NutritionMap {
	return NutritionMap{
		NutritionCalories: d.Calories,
		NutritionFat:      d.Fat,
		NutritionCarbs:    d.Carbs,
		NutritionProtein:  d.Protein,
		NutritionWeight:   d.Weight,
	}
}

// ApplyNutrition copies the map's values onto the draft. Missing keys write
// zero, so a map handed across a component boundary fully determines the
// draft's nutrition.
func (d *MealDraft) ApplyNutrition(m NutritionMap) {
	d.Calories = m.Get(NutritionCalories)
	d.Fat = m.Get(NutritionFat)
	d.Carbs = m.Get(NutritionCarbs)
	d.Protein = m.Get(NutritionProtein)
	d.Weight = m.Get(NutritionWeight)
}

// LoggedMeal is a committed meal row.
type LoggedMeal struct {
	ID           int64
	UserID       int64
	Name         string
	Description  string
	CreatedUTC   time.Time
	CreatedLocal time.Time
	Weight       float64
	Calories     float64
	Protein      float64
	Fat          float64
	Carbs        float64
}

// Nutrition returns the meal's nutrition values as a fully populated map.
func (m *LoggedMeal) Nutrition() NutritionMap {
	return NutritionMap{
		NutritionCalories: m.Calories,
		NutritionFat:      m.Fat,
		NutritionCarbs:    m.Carbs,
		NutritionProtein:  m.Protein,
		NutritionWeight:   m.Weight,
	}
}

// Draft copies the logged meal into a draft for the edit path.
func (m *LoggedMeal) Draft() MealDraft {
	return MealDraft{
		ID:           m.ID,
		UserID:       m.UserID,
		Name:         m.Name,
		Description:  m.Description,
		CreatedUTC:   m.CreatedUTC,
		CreatedLocal: m.CreatedLocal,
		Weight:       m.Weight,
		Calories:     m.Calories,
		Protein:      m.Protein,
		Fat:          m.Fat,
		Carbs:        m.Carbs,
	}
}

// SavedMealTemplate is a meal saved for future reuse, normalized per 100 g.
type SavedMealTemplate struct {
	ID              int64
	UserID          int64
	Name            string
	Description     string
	CreatedUTC      time.Time
	DefaultWeight   float64
	CaloriesPer100g float64
	ProteinPer100g  float64
	FatPer100g      float64
	CarbsPer100g    float64
}

// TargetMode describes how a calorie target is interpreted.
type TargetMode string

const (
	// TargetModeAtMost warns when the day total would exceed the target.
	TargetModeAtMost TargetMode = "at most"
	// TargetModeAtLeast is informational only; no warning is produced.
	TargetModeAtLeast TargetMode = "at least"
)

// UserTarget is a user's stored daily nutrition target. The values come from
// the target-calculation collaborator and are consumed as-is.
type UserTarget struct {
	UserID   int64
	Mode     TargetMode
	Calories float64
	Protein  float64
	Fat      float64
	Carbs    float64
}

// User is a registered participant. ChatID is the transport-level identity
// (e.g. a canonicalized phone number).
type User struct {
	ID         int64
	ChatID     string
	Name       string
	Timezone   string // IANA name, e.g. "Europe/Madrid"
	CreatedUTC time.Time
	Target     *UserTarget // nil when the target collaborator has not run yet
}

// Location resolves the user's timezone, falling back to UTC when the stored
// name does not load.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// Now returns the current time in the user's timezone.
func (u *User) Now() time.Time {
	return time.Now().In(u.Location())
}
