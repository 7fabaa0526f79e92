package flow

import (
	"strings"
	"testing"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/models"
)

func TestStartMenuExistingUser(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	if !f.sawBody("Hi, Alice!") {
		t.Fatal("expected the greeting")
	}
	f.requireStage(models.StageExistingUserActions)

	options := f.lastOptions()
	if len(options) != 6 {
		t.Fatalf("expected 6 menu options, got %d", len(options))
	}
}

func TestStartMenuNewUser(t *testing.T) {
	f := newFixture(t)

	f.text("/start")
	f.requireStage(models.StageNewUserActions)
	if !f.sawBody("You are not registered yet") {
		t.Fatal("expected the new-user notice")
	}

	f.press(callback.KeyStartUpdateUser, "")
	if !f.sawBody(StaticRegistrar{}.text()) {
		t.Fatal("expected the registrar instructions")
	}
}

func TestStartMenuUserData(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyUserData, "")

	if !f.sawBody("Your data:") || !f.sawBody("at most 2000 kcal") {
		t.Fatal("expected the profile printout")
	}
	// The menu is shown again afterwards.
	f.requireStage(models.StageExistingUserActions)
	if f.lastBody() != "What would you like to do?" {
		t.Fatalf("expected the menu prompt, got %q", f.lastBody())
	}
}

func TestStartMenuSavedMeals(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	if err := f.store.AddSavedMealTemplate(models.SavedMealTemplate{
		UserID: user.ID, Name: "Pasta", DefaultWeight: 350, CaloriesPer100g: 200,
	}); err != nil {
		t.Fatalf("AddSavedMealTemplate failed: %v", err)
	}

	f.text("/start")
	f.press(callback.KeyStartSavedMeals, "")

	if !f.sawBody("Saved meals:") {
		t.Fatal("expected the template listing")
	}
	found := false
	for _, rec := range f.msg.Sent() {
		if strings.Contains(rec.Body, "Pasta") && strings.Contains(rec.Body, "200 kcal / 100 g") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the per-100g template line")
	}
	f.requireStage(models.StageExistingUserActions)
}

func TestStartMenuDeleteUserConfirmed(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyDeleteUserData, "")
	f.requireStage(models.StageConfirmDeleteUser)

	f.press(callback.KeyYesNo, "yes")
	if !f.sawBody("All your data has been deleted") {
		t.Fatal("expected the deletion notice")
	}
	f.requireIdle()

	user, err := f.store.GetUserByChatID(testChatID)
	if err != nil {
		t.Fatalf("GetUserByChatID failed: %v", err)
	}
	if user != nil {
		t.Fatal("expected the user to be gone")
	}
}

func TestStartMenuDeleteUserDeclined(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyDeleteUserData, "")
	f.press(callback.KeyYesNo, "no")
	f.requireStage(models.StageExistingUserActions)

	if user, _ := f.store.GetUserByChatID(testChatID); user == nil {
		t.Fatal("the user must survive a declined deletion")
	}
}

func TestStartMenuLaunchMealEntryAndResume(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyStartNewMeal, string(models.FlowTypeStartMenu))
	if f.session().Flow != models.FlowTypeMealEntry {
		t.Fatalf("expected the meal-entry flow, got %q", f.session().Flow)
	}

	f.text("/cancel")
	if !f.sawBody("New meal entry cancelled") {
		t.Fatal("expected the cancel notice")
	}
	// Control returns to the start menu.
	if f.session().Flow != models.FlowTypeStartMenu {
		t.Fatalf("expected to resume the start menu, got %q", f.session().Flow)
	}
	f.requireStage(models.StageExistingUserActions)
}

func TestStartMenuLaunchDayViewAndResume(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyStartDayView, string(models.FlowTypeStartMenu))
	if f.session().Flow != models.FlowTypeDayView {
		t.Fatalf("expected the day-view flow, got %q", f.session().Flow)
	}
	f.requireStage(models.StageDayView)

	f.text("/cancel")
	if !f.sawBody("Meal view closed") {
		t.Fatal("expected the close notice")
	}
	if f.session().Flow != models.FlowTypeStartMenu {
		t.Fatalf("expected to resume the start menu, got %q", f.session().Flow)
	}
	f.requireStage(models.StageExistingUserActions)
}

func TestBareCommandsWhileIdle(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser()
	if err := f.store.AddSavedMealTemplate(models.SavedMealTemplate{
		UserID: user.ID, Name: "Pasta", DefaultWeight: 350, CaloriesPer100g: 200,
	}); err != nil {
		t.Fatalf("AddSavedMealTemplate failed: %v", err)
	}

	f.text("/user_data")
	if !f.sawBody("Your data:") {
		t.Fatal("expected the profile printout")
	}
	f.requireIdle()

	f.text("/saved_meals")
	if !f.sawBody("Saved meals:") {
		t.Fatal("expected the template listing")
	}
	f.requireIdle()

	f.text("/update_user")
	if !f.sawBody(StaticRegistrar{}.text()) {
		t.Fatal("expected the registrar instructions")
	}
	f.requireIdle()

	f.text("/delete_user")
	f.requireStage(models.StageConfirmDeleteUser)
	f.press(callback.KeyYesNo, "yes")
	f.requireIdle()
	if u, _ := f.store.GetUserByChatID(testChatID); u != nil {
		t.Fatal("expected the user to be deleted")
	}
}

func TestStartMenuRestart(t *testing.T) {
	f := newFixture(t)
	f.seedUser()

	f.text("/start")
	f.press(callback.KeyDeleteUserData, "")
	f.requireStage(models.StageConfirmDeleteUser)

	// /start anywhere in the flow returns to the menu.
	f.text("/start")
	f.requireStage(models.StageExistingUserActions)
}
