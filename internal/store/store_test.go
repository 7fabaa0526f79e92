package store

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/nutrilog/nutrilog/internal/models"
)

func testDraft(userID int64, local time.Time) models.MealDraft {
	return models.MealDraft{
		UserID:       userID,
		Name:         "Oatmeal",
		Description:  "oatmeal with berries",
		CreatedUTC:   local.UTC(),
		CreatedLocal: local,
		Weight:       250,
		Calories:     320,
		Protein:      11,
		Fat:          6,
		Carbs:        54,
	}
}

func runStoreSuite(t *testing.T, s Store) {
	t.Helper()

	user := &models.User{ChatID: "+15550001111", Name: "Sam", Timezone: "Europe/Madrid", CreatedUTC: time.Now().UTC()}
	if err := s.SaveUser(user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if user.ID == 0 {
		t.Fatal("SaveUser did not assign an id")
	}

	got, err := s.GetUserByChatID("+15550001111")
	if err != nil {
		t.Fatalf("GetUserByChatID: %v", err)
	}
	if got == nil || got.Name != "Sam" || got.Timezone != "Europe/Madrid" {
		t.Fatalf("GetUserByChatID returned %+v", got)
	}
	if got.Target != nil {
		t.Fatal("new user should have no target")
	}

	missing, err := s.GetUserByChatID("+15559999999")
	if err != nil {
		t.Fatalf("GetUserByChatID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown chat id, got %+v", missing)
	}

	user.Target = &models.UserTarget{Mode: models.TargetModeAtMost, Calories: 2000, Protein: 120, Fat: 70, Carbs: 220}
	if err := s.SaveUser(user); err != nil {
		t.Fatalf("SaveUser with target: %v", err)
	}
	got, err = s.GetUserByChatID("+15550001111")
	if err != nil {
		t.Fatalf("GetUserByChatID after target: %v", err)
	}
	if got.Target == nil || got.Target.Calories != 2000 || got.Target.Mode != models.TargetModeAtMost {
		t.Fatalf("target not stored: %+v", got.Target)
	}

	loc, _ := time.LoadLocation("Europe/Madrid")
	breakfast := time.Date(2026, 3, 10, 8, 30, 0, 0, loc)
	dinner := time.Date(2026, 3, 10, 21, 0, 0, 0, loc)
	nextDay := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)

	dinnerDraft := testDraft(user.ID, dinner)
	dinnerDraft.Name = "Pasta"
	dinnerID, err := s.AddLoggedMeal(dinnerDraft)
	if err != nil {
		t.Fatalf("AddLoggedMeal: %v", err)
	}
	if _, err := s.AddLoggedMeal(testDraft(user.ID, breakfast)); err != nil {
		t.Fatalf("AddLoggedMeal: %v", err)
	}
	if _, err := s.AddLoggedMeal(testDraft(user.ID, nextDay)); err != nil {
		t.Fatalf("AddLoggedMeal: %v", err)
	}

	meals, err := s.MealsForDay(user.ID, breakfast)
	if err != nil {
		t.Fatalf("MealsForDay: %v", err)
	}
	if len(meals) != 2 {
		t.Fatalf("expected 2 meals on the day, got %d", len(meals))
	}
	if meals[0].Name != "Oatmeal" || meals[1].Name != "Pasta" {
		t.Fatalf("meals not ordered by local time: %q, %q", meals[0].Name, meals[1].Name)
	}

	meal, err := s.MealByID(dinnerID)
	if err != nil {
		t.Fatalf("MealByID: %v", err)
	}
	if meal == nil || meal.Name != "Pasta" {
		t.Fatalf("MealByID returned %+v", meal)
	}

	edited := meal.Draft()
	edited.Calories = 700
	edited.Name = "Pasta carbonara"
	if err := s.UpdateLoggedMeal(edited); err != nil {
		t.Fatalf("UpdateLoggedMeal: %v", err)
	}
	meal, err = s.MealByID(dinnerID)
	if err != nil {
		t.Fatalf("MealByID after update: %v", err)
	}
	if meal.Calories != 700 || meal.Name != "Pasta carbonara" {
		t.Fatalf("update not applied: %+v", meal)
	}

	ghost := edited
	ghost.ID = 987654
	if err := s.UpdateLoggedMeal(ghost); err == nil {
		t.Fatal("UpdateLoggedMeal on missing meal should fail")
	}

	tmpl := TemplateFromDraft(edited, 350)
	if err := s.AddSavedMealTemplate(tmpl); err != nil {
		t.Fatalf("AddSavedMealTemplate: %v", err)
	}
	templates, err := s.SavedMealsForUser(user.ID)
	if err != nil {
		t.Fatalf("SavedMealsForUser: %v", err)
	}
	if len(templates) != 1 || templates[0].Name != "Pasta carbonara" {
		t.Fatalf("SavedMealsForUser returned %+v", templates)
	}
	if templates[0].CaloriesPer100g != 700*100/350 {
		t.Fatalf("template not normalized per 100g: %v", templates[0].CaloriesPer100g)
	}

	if err := s.DeleteLoggedMeal(dinnerID); err != nil {
		t.Fatalf("DeleteLoggedMeal: %v", err)
	}
	meal, err = s.MealByID(dinnerID)
	if err != nil {
		t.Fatalf("MealByID after delete: %v", err)
	}
	if meal != nil {
		t.Fatalf("meal should be gone, got %+v", meal)
	}

	if err := s.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	got, err = s.GetUserByChatID("+15550001111")
	if err != nil {
		t.Fatalf("GetUserByChatID after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("user should be gone, got %+v", got)
	}
	templates, err = s.SavedMealsForUser(user.ID)
	if err != nil {
		t.Fatalf("SavedMealsForUser after delete: %v", err)
	}
	if len(templates) != 0 {
		t.Fatalf("templates should be gone with the user, got %d", len(templates))
	}
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nutrilog.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for the connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	for _, table := range []string{"meals_eaten", "meals_for_future_use", "users_targets", "users"} {
		s.db.Exec("DELETE FROM " + table)
	}
	runStoreSuite(t, s)
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":   "postgres",
		"postgresql://u:p@localhost/db": "postgres",
		"host=localhost dbname=n":       "postgres",
		"/var/lib/nutrilog/n.db":        "sqlite",
		"nutrilog.db":                   "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
