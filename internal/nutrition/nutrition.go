// Package nutrition provides the pure meal-nutrition logic: one-line text
// parsing, ingredient aggregation, target checking, and display formatting.
package nutrition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nutrilog/nutrilog/internal/models"
)

// parseSeparators are the accepted separators in a one-line nutrition message.
const parseSeparators = " ,/\n\\|"

// ParseLine parses a one-line nutrition message into a nutrition map. Values
// are read in display-key order (calories, fat, carbs, protein, weight);
// absent trailing entries become zero, negative values clamp to zero. Returns
// a ValidationError when any block is not numeric.
func ParseLine(text string) (models.NutritionMap, error) {
	blocks := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(parseSeparators, r)
	})

	values := make([]float64, 0, len(blocks))
	for _, block := range blocks {
		v, err := strconv.ParseFloat(block, 64)
		if err != nil {
			return nil, models.NewValidationError("cannot read %q as a number", block)
		}
		values = append(values, max(0, v))
	}
	if len(values) > len(models.NutritionKeys) {
		return nil, models.NewValidationError("too many values: expected at most %d", len(models.NutritionKeys))
	}

	data := make(models.NutritionMap, len(models.NutritionKeys))
	for i, key := range models.NutritionKeys {
		if i < len(values) {
			data[key] = values[i]
		} else {
			data[key] = 0
		}
	}
	return data, nil
}

// Combine folds a list of ingredient entries into a single nutrition map and
// a description suffix listing the named ingredients. The sum is independent
// of entry order. The suffix is empty when no entry was named.
func Combine(entries []models.IngredientEntry) (models.NutritionMap, string) {
	total := make(models.NutritionMap, len(models.NutritionKeys))
	for _, key := range models.NutritionKeys {
		total[key] = 0
	}

	var names []string
	for _, entry := range entries {
		for _, key := range models.NutritionKeys {
			total[key] += entry.Nutrition.Get(key)
		}
		if entry.Name != "" {
			names = append(names, entry.Name)
		}
	}

	suffix := ""
	if len(names) > 0 {
		suffix = "Ingredients: " + strings.Join(names, ", ")
	}
	return total, suffix
}

// CheckTarget compares a day's cumulative calories plus the new meal against
// the user's target. Returns a warning string for an exceeded "at most"
// target, or "" when no warning applies (including a nil target).
func CheckTarget(dayTotalCalories, mealCalories float64, target *models.UserTarget) string {
	if target == nil || target.Mode != models.TargetModeAtMost {
		return ""
	}
	total := dayTotalCalories + mealCalories
	if total > target.Calories {
		return fmt.Sprintf("Warning: calories exceeded (%.0f > %.0f)", total, target.Calories)
	}
	return ""
}

// LineFormat returns the label order of a one-line nutrition message, e.g.
// "Calories, Fat, Carbs, Protein, Weight".
func LineFormat() string {
	labels := make([]string, len(models.NutritionKeys))
	for i, key := range models.NutritionKeys {
		labels[i] = key.Label()
	}
	return strings.Join(labels, ", ")
}

// FormatLine renders a nutrition map as a one-line value string with units,
// in display-key order. Missing keys render as zero.
func FormatLine(m models.NutritionMap) string {
	parts := make([]string, len(models.NutritionKeys))
	for i, key := range models.NutritionKeys {
		parts[i] = FormatValue(m.Get(key)) + key.Unit()
	}
	return strings.Join(parts, ", ")
}

// FormatValue renders a value without a trailing ".0" for whole numbers.
func FormatValue(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DescribeDraft renders the full meal summary shown at confirmation prompts.
func DescribeDraft(d *models.MealDraft) string {
	timeAdded := "<missing>"
	if !d.CreatedLocal.IsZero() {
		timeAdded = d.CreatedLocal.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf(
		"Meal data:\n"+
			" - Name: %s\n"+
			" - Description: %s\n"+
			" - Time added: %s\n"+
			" - Fat: %.1f g\n"+
			" - Carbs: %.1f g\n"+
			" - Protein: %.1f g\n"+
			" - Calories: %.1f kcal\n"+
			" - Weight: %.1f g",
		d.Name, d.Description, timeAdded, d.Fat, d.Carbs, d.Protein, d.Calories, d.Weight,
	)
}

// MacroPercentages renders the share of calories contributed by each macro,
// using the canonical 4/4/9 conversion factors. Returns "" when the draft's
// macro-derived calories are zero.
func MacroPercentages(d *models.MealDraft) string {
	proteinKcal := d.Protein * models.CaloriesPerGramProtein
	carbsKcal := d.Carbs * models.CaloriesPerGramCarbs
	fatKcal := d.Fat * models.CaloriesPerGramFat
	total := proteinKcal + carbsKcal + fatKcal
	if total <= 0 {
		return ""
	}
	return fmt.Sprintf(
		"Calories from macros: %.0f%% fat, %.0f%% carbs, %.0f%% protein",
		fatKcal/total*100, carbsKcal/total*100, proteinKcal/total*100,
	)
}

// SumCalories totals the calories of already logged meals.
func SumCalories(meals []models.LoggedMeal) float64 {
	var total float64
	for _, m := range meals {
		total += m.Calories
	}
	return total
}
