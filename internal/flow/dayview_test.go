package flow

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/models"
)

// seedMeal logs a meal at the given local time for the test user.
func (f *fixture) seedMeal(userID int64, name string, local time.Time, calories float64) int64 {
	f.t.Helper()
	id, err := f.store.AddLoggedMeal(models.MealDraft{
		UserID: userID, Name: name, Calories: calories,
		CreatedUTC: local.UTC(), CreatedLocal: local,
	})
	if err != nil {
		f.t.Fatalf("AddLoggedMeal failed: %v", err)
	}
	return id
}

func TestDayViewShowsMealsForLocalDay(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	now := user.Now()
	day := midnight(now, user.Location())
	f.seedMeal(user.ID, "Oatmeal", day.Add(8*time.Hour+30*time.Minute), 320)
	f.seedMeal(user.ID, "Pasta", day.Add(21*time.Hour), 700)
	f.seedMeal(user.ID, "Yesterday dinner", day.Add(-3*time.Hour), 600)

	f.text("/view_meals")
	f.requireStage(models.StageDayView)

	body := f.lastBody()
	if !strings.Contains(body, "Oatmeal") || !strings.Contains(body, "Pasta") {
		t.Fatalf("expected both meals in the view, got %q", body)
	}
	if strings.Contains(body, "Yesterday dinner") {
		t.Fatalf("the previous day's meal must not appear, got %q", body)
	}
	if !strings.Contains(body, "Total: 1020 kcal") {
		t.Fatalf("expected the day total, got %q", body)
	}
	if !strings.Contains(body, "target: at most 2000 kcal") {
		t.Fatalf("expected the target line, got %q", body)
	}
	// Oatmeal is earlier, so it comes first.
	if strings.Index(body, "Oatmeal") > strings.Index(body, "Pasta") {
		t.Fatalf("expected meals ordered by time of day, got %q", body)
	}
}

func TestDayViewNavigation(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	now := user.Now()
	day := midnight(now, user.Location())
	f.seedMeal(user.ID, "Yesterday dinner", day.Add(-3*time.Hour), 600)

	f.text("/view_meals")
	f.press(callback.KeyDayPrevious, "")
	if !strings.Contains(f.lastBody(), "Yesterday dinner") {
		t.Fatalf("expected yesterday's meal, got %q", f.lastBody())
	}

	f.press(callback.KeyDayNext, "")
	if !strings.Contains(f.lastBody(), "No meals logged for this day") {
		t.Fatalf("expected an empty day, got %q", f.lastBody())
	}

	f.press(callback.KeyDayEnterDate, "")
	f.requireStage(models.StageDateEntry)
	f.text("yesterday")
	f.requireStage(models.StageDayView)
	if !strings.Contains(f.lastBody(), "Yesterday dinner") {
		t.Fatalf("expected yesterday's meal after date entry, got %q", f.lastBody())
	}
}

func TestDayViewFreeTextIsDateInput(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	day := midnight(user.Now(), user.Location())
	f.seedMeal(user.ID, "Old breakfast", day.AddDate(0, 0, -7).Add(9*time.Hour), 250)

	f.text("/view_meals")
	target := day.AddDate(0, 0, -7)
	f.text(target.Format("2.1.2006"))
	if !strings.Contains(f.lastBody(), "Old breakfast") {
		t.Fatalf("expected the meal of the entered date, got %q", f.lastBody())
	}
}

func TestDayViewSingleMealAndDelete(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	day := midnight(user.Now(), user.Location())
	id := f.seedMeal(user.ID, "Oatmeal", day.Add(9*time.Hour), 320)
	f.seedMeal(user.ID, "Pasta", day.Add(20*time.Hour), 700)

	f.text("/view_meals")
	f.press(callback.KeySelectMeal, strconv.FormatInt(id, 10))
	f.requireStage(models.StageSingleMealView)
	if !strings.Contains(f.lastBody(), "Oatmeal") {
		t.Fatalf("expected the meal details, got %q", f.lastBody())
	}

	f.press(callback.KeyDeleteMeal, strconv.FormatInt(id, 10))
	f.requireStage(models.StageConfirmDelete)

	f.press(callback.KeyConfirmDelete, "")
	if !f.sawBody("Meal deleted") {
		t.Fatal("expected the deletion notice")
	}
	f.requireStage(models.StageDayView)

	meal, err := f.store.MealByID(id)
	if err != nil {
		t.Fatalf("MealByID failed: %v", err)
	}
	if meal != nil {
		t.Fatal("expected the meal to be gone")
	}
	if !strings.Contains(f.lastBody(), "Pasta") {
		t.Fatalf("expected the remaining meal in the view, got %q", f.lastBody())
	}
}

func TestDayViewDeleteDeclined(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	day := midnight(user.Now(), user.Location())
	id := f.seedMeal(user.ID, "Oatmeal", day.Add(9*time.Hour), 320)

	f.text("/view_meals")
	f.press(callback.KeySelectMeal, strconv.FormatInt(id, 10))
	f.press(callback.KeyDeleteMeal, strconv.FormatInt(id, 10))
	f.press(callback.KeyBackToMeal, "")
	f.requireStage(models.StageSingleMealView)

	if meal, _ := f.store.MealByID(id); meal == nil {
		t.Fatal("the meal must survive a declined deletion")
	}
}

func TestDayViewEditMealAndResume(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	day := midnight(user.Now(), user.Location())
	id := f.seedMeal(user.ID, "Oatmeal", day.Add(9*time.Hour), 320)

	f.text("/view_meals")
	f.press(callback.KeySelectMeal, strconv.FormatInt(id, 10))
	f.press(callback.KeyStartEditMeal, strconv.FormatInt(id, 10))

	if f.session().Flow != models.FlowTypeMealEntry {
		t.Fatalf("expected the meal-entry flow, got %q", f.session().Flow)
	}
	f.requireStage(models.StageChooseEditMode)
	if !f.sawBody("Please choose edit option") {
		t.Fatal("expected the edit-mode prompt")
	}

	// Keep the name, then enter a new one-line nutrition value.
	f.press(callback.KeyEditMode, "manual")
	f.press(callback.KeyKeepUpdate, "keep")
	f.text("400")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	if !f.sawBody("Meal updated") {
		t.Fatal("expected the update notice")
	}
	meal, _ := f.store.MealByID(id)
	if meal == nil || meal.Calories != 400 || meal.Name != "Oatmeal" {
		t.Fatalf("unexpected meal after edit: %+v", meal)
	}

	// Control returns to the day view showing the edited meal.
	if f.session().Flow != models.FlowTypeDayView {
		t.Fatalf("expected to resume the day view, got %q", f.session().Flow)
	}
	f.requireStage(models.StageDayView)
	if !strings.Contains(f.lastBody(), "Total: 400 kcal") {
		t.Fatalf("expected the refreshed day view, got %q", f.lastBody())
	}
}

func TestDayViewAddMealPinsDisplayedDay(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/view_meals")
	f.press(callback.KeyDayPrevious, "")

	f.press(callback.KeyStartNewMeal, string(models.FlowTypeDayView))
	if f.session().Flow != models.FlowTypeMealEntry {
		t.Fatalf("expected the meal-entry flow, got %q", f.session().Flow)
	}

	// The handoff payload is claimed exactly once.
	if _, ok := f.links.Pop(f.key, models.FlowTypeDayView, models.FlowTypeMealEntry); ok {
		t.Fatal("expected the parent payload to be consumed")
	}

	f.text("12:30")
	f.press(callback.KeyInputMode, "manual")
	f.text("Leftovers")
	f.press(callback.KeyIngredients, "one")
	f.text("450")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	yesterday := midnight(user.Now(), user.Location()).AddDate(0, 0, -1)
	meals, err := f.store.MealsForDay(user.ID, yesterday)
	if err != nil {
		t.Fatalf("MealsForDay failed: %v", err)
	}
	if len(meals) != 1 || meals[0].Name != "Leftovers" {
		t.Fatalf("expected the meal on the displayed day, got %+v", meals)
	}

	// The day view resumes on the same day and shows the new meal.
	f.requireStage(models.StageDayView)
	if !strings.Contains(f.lastBody(), "Leftovers") {
		t.Fatalf("expected the resumed view to show the meal, got %q", f.lastBody())
	}
}

func TestDayViewCancel(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/view_meals")
	f.text("/cancel")
	if !f.sawBody("Meal view closed") {
		t.Fatal("expected the close notice")
	}
	f.requireIdle()
}

func TestDayViewUnregisteredUser(t *testing.T) {
	f := newFixture(t)

	f.text("/view_meals")
	if !f.sawBody("You are not registered yet") {
		t.Fatal("expected the registration notice")
	}
	f.requireIdle()
}
