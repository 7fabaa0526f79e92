package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/estimator"
	"github.com/nutrilog/nutrilog/internal/models"
)

func TestMealEntryManualSinglePath(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/new_meal")
	if !f.sawBody("Creating new meal") {
		t.Fatal("expected the creation notice")
	}
	f.requireStage(models.StageMealTime)

	f.press(callback.KeyTimeIsNow, "")
	if !f.sawBody("Please choose input mode") {
		t.Fatal("expected the input mode prompt")
	}

	f.press(callback.KeyInputMode, "manual")
	f.text("Pasta\nwith tomato sauce")
	f.requireStage(models.StageChooseOneOrMany)

	f.press(callback.KeyIngredients, "one")
	f.text("700 10 80 25 350")
	f.requireStage(models.StageConfirmManualEntry)
	if !strings.Contains(f.lastBody(), "Pasta") || !strings.Contains(f.lastBody(), "Confirm data?") {
		t.Fatalf("unexpected confirmation prompt: %q", f.lastBody())
	}

	f.press(callback.KeyConfirmEntry, "confirm")
	f.requireStage(models.StageChooseSaveForFuture)
	f.press(callback.KeyYesNo, "no")

	if !f.sawBody("New meal added") {
		t.Fatal("expected the added notice")
	}
	f.requireIdle()

	meals, err := f.store.MealsForDay(user.ID, user.Now())
	if err != nil {
		t.Fatalf("MealsForDay failed: %v", err)
	}
	if len(meals) != 1 {
		t.Fatalf("expected 1 meal, got %d", len(meals))
	}
	m := meals[0]
	if m.Name != "Pasta" || m.Description != "with tomato sauce" {
		t.Fatalf("unexpected meal: %+v", m)
	}
	if m.Calories != 700 || m.Fat != 10 || m.Carbs != 80 || m.Protein != 25 || m.Weight != 350 {
		t.Fatalf("unexpected nutrition: %+v", m)
	}
}

func TestMealEntryExplicitTimeText(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/new_meal")
	f.text("13:45")
	f.requireStage(models.StageChooseInputMode)

	f.press(callback.KeyInputMode, "manual")
	f.text("Lunch")
	f.press(callback.KeyIngredients, "one")
	f.text("500")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 {
		t.Fatalf("expected 1 meal, got %d", len(meals))
	}
	if got := meals[0].CreatedLocal; got.Hour() != 13 || got.Minute() != 45 {
		t.Fatalf("expected 13:45, got %s", got.Format("15:04"))
	}
}

func TestMealEntryIngredientAggregation(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "manual")
	f.text("Rice bowl")
	f.press(callback.KeyIngredients, "many")

	f.text("Rice\n130 0.3 28 2.7 100")
	if !f.sawBody("Added") {
		t.Fatal("expected the added-ingredient notice")
	}
	f.requireStage(models.StageMoreIngredients)

	// Free text at the more-or-finish prompt records another ingredient.
	f.text("Chicken\n165 3.6 0 31 100")
	f.requireStage(models.StageMoreIngredients)

	f.press(callback.KeyMoreOrDone, "done")
	f.requireStage(models.StageConfirmManualEntry)

	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 {
		t.Fatalf("expected 1 meal, got %d", len(meals))
	}
	m := meals[0]
	if m.Calories != 295 || m.Weight != 200 {
		t.Fatalf("unexpected totals: calories %.1f weight %.1f", m.Calories, m.Weight)
	}
	if !approx(m.Protein, 33.7) || !approx(m.Fat, 3.9) || m.Carbs != 28 {
		t.Fatalf("unexpected macros: %+v", m)
	}
	if !strings.Contains(m.Description, "Ingredients: Rice, Chicken") {
		t.Fatalf("expected the ingredient list in the description, got %q", m.Description)
	}
}

func TestMealEntrySaveForFutureNormalizes(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.enterManualMeal("Pasta")
	f.text("700 10 80 25 350")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "yes")

	if !f.sawBody("New meal saved for future use") {
		t.Fatal("expected the saved notice")
	}
	if !f.sawBody("New meal added") {
		t.Fatal("expected the added notice")
	}

	templates, err := f.store.SavedMealsForUser(user.ID)
	if err != nil {
		t.Fatalf("SavedMealsForUser failed: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(templates))
	}
	tpl := templates[0]
	if tpl.DefaultWeight != 350 {
		t.Fatalf("expected default weight 350, got %.1f", tpl.DefaultWeight)
	}
	if tpl.CaloriesPer100g != 200 {
		t.Fatalf("expected 200 kcal per 100 g, got %.1f", tpl.CaloriesPer100g)
	}
}

func TestMealEntryCorrectedWeightLoop(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.enterManualMeal("Soup")
	f.text("300") // calories only, weight stays zero
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "yes")
	f.requireStage(models.StageCorrectedWeight)

	f.text("not a number")
	if !f.sawBody("Wrong value") {
		t.Fatal("expected a wrong-value notice")
	}
	f.requireStage(models.StageCorrectedWeight)

	f.text("-20")
	f.requireStage(models.StageCorrectedWeight)

	f.text("400")
	if !f.sawBody("New meal saved for future use") {
		t.Fatal("expected the saved notice")
	}
	f.requireIdle()

	templates, _ := f.store.SavedMealsForUser(user.ID)
	if len(templates) != 1 || templates[0].DefaultWeight != 400 {
		t.Fatalf("unexpected templates: %+v", templates)
	}
	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 || meals[0].Weight != 400 {
		t.Fatalf("expected the corrected weight on the meal, got %+v", meals)
	}
}

func TestMealEntrySkipSaving(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.enterManualMeal("Soup")
	f.text("300")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "yes")
	f.press(callback.KeySkipSaving, "")

	if !f.sawBody("Saving for future use skipped") {
		t.Fatal("expected the skipped notice")
	}
	if !f.sawBody("New meal added") {
		t.Fatal("expected the added notice")
	}
	templates, _ := f.store.SavedMealsForUser(user.ID)
	if len(templates) != 0 {
		t.Fatalf("expected no templates, got %d", len(templates))
	}
}

func TestMealEntryAIDescriptionOnly(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.est.Results = []estimator.Result{{
		Name: "Pizza", Description: "one large pizza",
		Calories: 900, Protein: 35, Fat: 40, Carbs: 100, Weight: 450,
		Success: true,
	}}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.text("a large pepperoni pizza")
	f.requireStage(models.StageAddImageForAI)

	f.press(callback.KeySkipImage, "")
	if !f.sawBody("Sending request to AI...\nPlease wait") {
		t.Fatal("expected the AI wait notice")
	}
	f.requireStage(models.StageConfirmAIEstimate)
	if !strings.Contains(f.lastBody(), "Pizza") {
		t.Fatalf("expected the estimate in the prompt, got %q", f.lastBody())
	}

	if len(f.est.EstimateCalls) != 1 {
		t.Fatalf("expected 1 estimate call, got %d", len(f.est.EstimateCalls))
	}
	if f.est.EstimateCalls[0].Description != "a large pepperoni pizza" {
		t.Fatalf("unexpected description sent: %q", f.est.EstimateCalls[0].Description)
	}
	if f.est.EstimateCalls[0].Image != nil {
		t.Fatal("expected no image on the estimate call")
	}

	f.press(callback.KeyConfirmAI, "confirm")
	f.press(callback.KeyYesNo, "no")
	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 || meals[0].Calories != 900 || meals[0].Name != "Pizza" {
		t.Fatalf("unexpected meals: %+v", meals)
	}
}

func TestMealEntryAIPhotoCaptionAsDescription(t *testing.T) {
	f := newFixture(t)
	f.seedUser()
	f.est.Results = []estimator.Result{{Name: "Salad", Calories: 150, Success: true}}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.photo("greek salad")

	// Caption fills the description slot, so both inputs are settled and the
	// estimate goes out immediately.
	f.requireStage(models.StageConfirmAIEstimate)
	if len(f.est.EstimateCalls) != 1 {
		t.Fatalf("expected 1 estimate call, got %d", len(f.est.EstimateCalls))
	}
	call := f.est.EstimateCalls[0]
	if call.Description != "greek salad" || call.Image == nil {
		t.Fatalf("unexpected estimate call: %+v", call)
	}
}

func TestMealEntryAISkippedDescriptionIgnoresCaption(t *testing.T) {
	f := newFixture(t)
	f.seedUser()
	f.est.Results = []estimator.Result{{Name: "Mystery", Calories: 100, Success: true}}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.press(callback.KeySkipDescription, "")
	f.requireStage(models.StageAddImageForAI)

	f.photo("ignored caption")
	f.requireStage(models.StageConfirmAIEstimate)
	if got := f.est.EstimateCalls[0].Description; got != "" {
		t.Fatalf("expected the skipped description to stay empty, got %q", got)
	}
}

func TestMealEntryAISecondPhotoReplacesFirst(t *testing.T) {
	f := newFixture(t)
	f.seedUser()
	f.est.Results = []estimator.Result{{Name: "Toast", Calories: 200, Success: true}}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.photo("")
	f.requireStage(models.StageAddDescriptionAI)

	f.photo("")
	if !f.sawBody("Multiple images received. Using the latest message.") {
		t.Fatal("expected the replacement notice")
	}
	f.requireStage(models.StageAddDescriptionAI)
}

func TestMealEntryAIRefinementStripsImages(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.est.Results = []estimator.Result{
		{Name: "Burger", Calories: 600, Weight: 250, Success: true},
		{Name: "Double burger", Calories: 950, Weight: 400, Success: true},
	}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.photo("a burger")
	f.requireStage(models.StageConfirmAIEstimate)

	// Free text at the confirm prompt is a refinement message.
	f.text("it was a double patty")
	f.requireStage(models.StageConfirmAIEstimate)

	if len(f.est.RefineCalls) != 1 {
		t.Fatalf("expected 1 refine call, got %d", len(f.est.RefineCalls))
	}
	if f.est.RefineCalls[0].Sent.HasImages() {
		t.Fatal("refinement transcript must not carry images")
	}

	f.press(callback.KeyConfirmAI, "confirm")
	f.press(callback.KeyYesNo, "no")
	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 || meals[0].Calories != 950 {
		t.Fatalf("expected the refined estimate, got %+v", meals)
	}
}

func TestMealEntryAISemanticFailureReturnsToInputMode(t *testing.T) {
	f := newFixture(t)
	f.seedUser()
	f.est.Results = []estimator.Result{{Success: false, ErrorMessage: "this is not food"}}

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.text("a rock")
	f.press(callback.KeySkipImage, "")

	if !f.sawBody("this is not food") || !f.sawBody("Please try again") {
		t.Fatal("expected the failure message and retry notice")
	}
	f.requireStage(models.StageChooseInputMode)
	if f.session().Flow != models.FlowTypeMealEntry {
		t.Fatal("the flow must stay active after a semantic failure")
	}
}

func TestMealEntryAIServiceFailureCancels(t *testing.T) {
	f := newFixture(t)
	f.seedUser()
	f.est.Err = errors.New("connection refused")

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "ai")
	f.text("pizza")
	f.press(callback.KeySkipImage, "")

	if !f.sawBody("AI service failed") {
		t.Fatal("expected the service failure notice")
	}
	if !f.sawBody("New meal entry cancelled") {
		t.Fatal("expected the cancel notice")
	}
	f.requireIdle()
}

func TestMealEntryAssumeAIInputAtModePrompt(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.text("just some pasta")

	if !f.sawBody("Assuming input for AI") {
		t.Fatal("expected the assume-AI notice")
	}
	f.requireStage(models.StageAddImageForAI)
}

func TestMealEntryBarcodeNotImplemented(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "barcode")

	if !f.sawBody("not implemented") {
		t.Fatal("expected the not-implemented notice")
	}
	f.requireStage(models.StageChooseInputMode)
}

func TestMealEntryRestartDiscardsDraft(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/new_meal")
	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "manual")
	f.text("Pasta")

	f.text("/new_meal")
	f.requireStage(models.StageMealTime)
	if f.session().Draft.Name != "" {
		t.Fatalf("expected a fresh draft, got name %q", f.session().Draft.Name)
	}

	f.press(callback.KeyTimeIsNow, "")
	f.press(callback.KeyInputMode, "manual")
	f.text("Soup")
	f.press(callback.KeyIngredients, "one")
	f.text("250")
	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 || meals[0].Name != "Soup" {
		t.Fatalf("expected only the restarted meal, got %+v", meals)
	}
}

func TestMealEntryCancelCommand(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	f.text("/new_meal")
	f.text("/cancel")

	if !f.sawBody("New meal entry cancelled") {
		t.Fatal("expected the cancel notice")
	}
	f.requireIdle()
	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 0 {
		t.Fatalf("expected no meals, got %+v", meals)
	}
}

func TestMealEntryReenterKeepsNameUpdatesNutrition(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	f.enterManualMeal("Pasta")
	f.text("700 10 80 25 350")
	f.press(callback.KeyConfirmEntry, "reenter")
	f.requireStage(models.StageConfirmExistingName)

	f.press(callback.KeyKeepUpdate, "keep")
	f.requireStage(models.StageConfirmExistingMacros)

	// Free text at the keep-nutrition prompt is a new one-line entry.
	f.text("500 8 60 20 300")
	f.requireStage(models.StageConfirmManualEntry)

	f.press(callback.KeyConfirmEntry, "confirm")
	f.press(callback.KeyYesNo, "no")

	meals, _ := f.store.MealsForDay(user.ID, user.Now())
	if len(meals) != 1 || meals[0].Calories != 500 || meals[0].Name != "Pasta" {
		t.Fatalf("unexpected meals: %+v", meals)
	}
}

func TestMealEntryTargetWarning(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()

	now := user.Now()
	if _, err := f.store.AddLoggedMeal(models.MealDraft{
		UserID: user.ID, Name: "Big lunch", Calories: 1800,
		CreatedUTC: now.UTC(), CreatedLocal: now,
	}); err != nil {
		t.Fatalf("AddLoggedMeal failed: %v", err)
	}

	f.enterManualMeal("Dessert")
	f.text("300")
	if !f.sawBody("Warning: calories exceeded (2100 > 2000)") {
		t.Fatal("expected the exceeded-target warning")
	}
}

func TestMealEntryNoWarningUnderTarget(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.enterManualMeal("Snack")
	f.text("300")
	if f.sawBody("Warning: calories exceeded") {
		t.Fatal("expected no warning under the target")
	}
}

func TestMealEntryUnregisteredUser(t *testing.T) {
	f := newFixture(t)

	f.text("/new_meal")
	if !f.sawBody("You are not registered yet") {
		t.Fatal("expected the registration notice")
	}
	f.requireIdle()
}
