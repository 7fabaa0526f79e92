// Package store provides storage backends for nutrilog.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nutrilog/nutrilog/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

// timeLayout is the text format for both UTC and local timestamps. Local
// timestamps deliberately carry no offset: they are wall-clock values, and the
// format keeps range scans over a calendar day lexicographic.
const timeLayout = "2006-01-02 15:04:05"

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUserByChatID(chatID string) (*models.User, error) {
	row := s.db.QueryRow(`
		SELECT u.id, u.chat_id, u.name, u.timezone, u.created_utc,
		       t.mode, t.calories, t.protein, t.fat, t.carbs
		FROM users u
		LEFT JOIN users_targets t ON t.user_id = u.id
		WHERE u.chat_id = ?`, chatID)

	var u models.User
	var created string
	var mode sql.NullString
	var calories, protein, fat, carbs sql.NullFloat64
	err := row.Scan(&u.ID, &u.ChatID, &u.Name, &u.Timezone, &created,
		&mode, &calories, &protein, &fat, &carbs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUserByChatID failed", "error", err, "chatID", chatID)
		return nil, &models.StorageError{Op: "GetUserByChatID", Err: err}
	}
	u.CreatedUTC = parseUTC(created)
	if mode.Valid {
		u.Target = &models.UserTarget{
			UserID:   u.ID,
			Mode:     models.TargetMode(mode.String),
			Calories: calories.Float64,
			Protein:  protein.Float64,
			Fat:      fat.Float64,
			Carbs:    carbs.Float64,
		}
	}
	return &u, nil
}

func (s *SQLiteStore) SaveUser(user *models.User) error {
	if user.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO users (chat_id, name, timezone, created_utc) VALUES (?, ?, ?, ?)`,
			user.ChatID, user.Name, user.Timezone, formatUTC(user.CreatedUTC))
		if err != nil {
			slog.Error("SQLiteStore SaveUser insert failed", "error", err, "chatID", user.ChatID)
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
		user.ID = id
	} else {
		_, err := s.db.Exec(`UPDATE users SET chat_id = ?, name = ?, timezone = ? WHERE id = ?`,
			user.ChatID, user.Name, user.Timezone, user.ID)
		if err != nil {
			slog.Error("SQLiteStore SaveUser update failed", "error", err, "userID", user.ID)
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
	}

	if user.Target == nil {
		if _, err := s.db.Exec(`DELETE FROM users_targets WHERE user_id = ?`, user.ID); err != nil {
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
		return nil
	}
	user.Target.UserID = user.ID
	_, err := s.db.Exec(`
		INSERT INTO users_targets (user_id, mode, calories, protein, fat, carbs)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode = excluded.mode, calories = excluded.calories,
			protein = excluded.protein, fat = excluded.fat, carbs = excluded.carbs`,
		user.ID, string(user.Target.Mode), user.Target.Calories,
		user.Target.Protein, user.Target.Fat, user.Target.Carbs)
	if err != nil {
		slog.Error("SQLiteStore SaveUser target upsert failed", "error", err, "userID", user.ID)
		return &models.StorageError{Op: "SaveUser", Err: err}
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "userID", user.ID)
	return nil
}

func (s *SQLiteStore) DeleteUser(userID int64) error {
	for _, q := range []string{
		`DELETE FROM meals_eaten WHERE user_id = ?`,
		`DELETE FROM meals_for_future_use WHERE user_id = ?`,
		`DELETE FROM users_targets WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, userID); err != nil {
			slog.Error("SQLiteStore DeleteUser failed", "error", err, "userID", userID)
			return &models.StorageError{Op: "DeleteUser", Err: err}
		}
	}
	slog.Debug("SQLiteStore DeleteUser succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) AddLoggedMeal(draft models.MealDraft) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO meals_eaten (user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.UserID, draft.Name, draft.Description,
		formatUTC(draft.CreatedUTC), formatLocal(draft.CreatedLocal),
		draft.Weight, draft.Calories, draft.Protein, draft.Fat, draft.Carbs)
	if err != nil {
		slog.Error("SQLiteStore AddLoggedMeal failed", "error", err, "userID", draft.UserID)
		return 0, &models.StorageError{Op: "AddLoggedMeal", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &models.StorageError{Op: "AddLoggedMeal", Err: err}
	}
	slog.Debug("SQLiteStore AddLoggedMeal succeeded", "mealID", id, "userID", draft.UserID)
	return id, nil
}

func (s *SQLiteStore) UpdateLoggedMeal(draft models.MealDraft) error {
	res, err := s.db.Exec(`
		UPDATE meals_eaten SET name = ?, description = ?, weight = ?, calories = ?, protein = ?, fat = ?, carbs = ?
		WHERE id = ?`,
		draft.Name, draft.Description, draft.Weight, draft.Calories,
		draft.Protein, draft.Fat, draft.Carbs, draft.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateLoggedMeal failed", "error", err, "mealID", draft.ID)
		return &models.StorageError{Op: "UpdateLoggedMeal", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.StorageError{Op: "UpdateLoggedMeal", Err: errMealNotFound}
	}
	slog.Debug("SQLiteStore UpdateLoggedMeal succeeded", "mealID", draft.ID)
	return nil
}

func (s *SQLiteStore) DeleteLoggedMeal(mealID int64) error {
	if _, err := s.db.Exec(`DELETE FROM meals_eaten WHERE id = ?`, mealID); err != nil {
		slog.Error("SQLiteStore DeleteLoggedMeal failed", "error", err, "mealID", mealID)
		return &models.StorageError{Op: "DeleteLoggedMeal", Err: err}
	}
	slog.Debug("SQLiteStore DeleteLoggedMeal succeeded", "mealID", mealID)
	return nil
}

func (s *SQLiteStore) MealByID(mealID int64) (*models.LoggedMeal, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs
		FROM meals_eaten WHERE id = ?`, mealID)
	m, err := scanLoggedMeal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore MealByID failed", "error", err, "mealID", mealID)
		return nil, &models.StorageError{Op: "MealByID", Err: err}
	}
	return &m, nil
}

func (s *SQLiteStore) MealsForDay(userID int64, day time.Time) ([]models.LoggedMeal, error) {
	start, end := dayBounds(day)
	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs
		FROM meals_eaten
		WHERE user_id = ? AND created_local >= ? AND created_local < ?
		ORDER BY created_local`, userID, start, end)
	if err != nil {
		slog.Error("SQLiteStore MealsForDay query failed", "error", err, "userID", userID)
		return nil, &models.StorageError{Op: "MealsForDay", Err: err}
	}
	defer rows.Close()

	var meals []models.LoggedMeal
	for rows.Next() {
		m, err := scanLoggedMeal(rows.Scan)
		if err != nil {
			slog.Error("SQLiteStore MealsForDay scan failed", "error", err)
			return nil, &models.StorageError{Op: "MealsForDay", Err: err}
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "MealsForDay", Err: err}
	}
	slog.Debug("SQLiteStore MealsForDay succeeded", "userID", userID, "count", len(meals))
	return meals, nil
}

func (s *SQLiteStore) AddSavedMealTemplate(tmpl models.SavedMealTemplate) error {
	_, err := s.db.Exec(`
		INSERT INTO meals_for_future_use (user_id, name, description, created_utc, default_weight, calories_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.UserID, tmpl.Name, tmpl.Description, formatUTC(tmpl.CreatedUTC),
		tmpl.DefaultWeight, tmpl.CaloriesPer100g, tmpl.ProteinPer100g, tmpl.FatPer100g, tmpl.CarbsPer100g)
	if err != nil {
		slog.Error("SQLiteStore AddSavedMealTemplate failed", "error", err, "userID", tmpl.UserID)
		return &models.StorageError{Op: "AddSavedMealTemplate", Err: err}
	}
	slog.Debug("SQLiteStore AddSavedMealTemplate succeeded", "userID", tmpl.UserID, "name", tmpl.Name)
	return nil
}

func (s *SQLiteStore) SavedMealsForUser(userID int64) ([]models.SavedMealTemplate, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, created_utc, default_weight, calories_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g
		FROM meals_for_future_use
		WHERE user_id = ?
		ORDER BY created_utc DESC, id DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore SavedMealsForUser query failed", "error", err, "userID", userID)
		return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
	}
	defer rows.Close()

	var templates []models.SavedMealTemplate
	for rows.Next() {
		var t models.SavedMealTemplate
		var created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &created,
			&t.DefaultWeight, &t.CaloriesPer100g, &t.ProteinPer100g, &t.FatPer100g, &t.CarbsPer100g); err != nil {
			slog.Error("SQLiteStore SavedMealsForUser scan failed", "error", err)
			return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
		}
		t.CreatedUTC = parseUTC(created)
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
	}
	return templates, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanLoggedMeal reads one meals_eaten row through the given scan function,
// shared between QueryRow and rows iteration.
func scanLoggedMeal(scan func(dest ...any) error) (models.LoggedMeal, error) {
	var m models.LoggedMeal
	var createdUTC, createdLocal string
	err := scan(&m.ID, &m.UserID, &m.Name, &m.Description, &createdUTC, &createdLocal,
		&m.Weight, &m.Calories, &m.Protein, &m.Fat, &m.Carbs)
	if err != nil {
		return m, err
	}
	m.CreatedUTC = parseUTC(createdUTC)
	m.CreatedLocal = parseLocal(createdLocal)
	return m, nil
}

func formatUTC(t time.Time) string   { return t.UTC().Format(timeLayout) }
func formatLocal(t time.Time) string { return t.Format(timeLayout) }

func parseUTC(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseLocal reads a stored wall-clock timestamp. The returned value carries
// the UTC location as a neutral placeholder; only its date and clock fields
// are meaningful.
func parseLocal(s string) time.Time {
	return parseUTC(s)
}

// dayBounds returns the wall-clock text range covering day's calendar date.
func dayBounds(day time.Time) (string, string) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start.Format(timeLayout), start.AddDate(0, 0, 1).Format(timeLayout)
}
