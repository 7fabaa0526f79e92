// Package store provides storage backends for nutrilog.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/nutrilog/nutrilog/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUserByChatID(chatID string) (*models.User, error) {
	row := s.db.QueryRow(`
		SELECT u.id, u.chat_id, u.name, u.timezone, u.created_utc,
		       t.mode, t.calories, t.protein, t.fat, t.carbs
		FROM users u
		LEFT JOIN users_targets t ON t.user_id = u.id
		WHERE u.chat_id = $1`, chatID)

	var u models.User
	var created time.Time
	var mode sql.NullString
	var calories, protein, fat, carbs sql.NullFloat64
	err := row.Scan(&u.ID, &u.ChatID, &u.Name, &u.Timezone, &created,
		&mode, &calories, &protein, &fat, &carbs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUserByChatID failed", "error", err, "chatID", chatID)
		return nil, &models.StorageError{Op: "GetUserByChatID", Err: err}
	}
	u.CreatedUTC = created.UTC()
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

func (s *PostgresStore) SaveUser(user *models.User) error {
	if user.ID == 0 {
		err := s.db.QueryRow(`INSERT INTO users (chat_id, name, timezone, created_utc) VALUES ($1, $2, $3, $4) RETURNING id`,
			user.ChatID, user.Name, user.Timezone, formatUTC(user.CreatedUTC)).Scan(&user.ID)
		if err != nil {
			slog.Error("PostgresStore SaveUser insert failed", "error", err, "chatID", user.ChatID)
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
	} else {
		_, err := s.db.Exec(`UPDATE users SET chat_id = $1, name = $2, timezone = $3 WHERE id = $4`,
			user.ChatID, user.Name, user.Timezone, user.ID)
		if err != nil {
			slog.Error("PostgresStore SaveUser update failed", "error", err, "userID", user.ID)
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
	}

	if user.Target == nil {
		if _, err := s.db.Exec(`DELETE FROM users_targets WHERE user_id = $1`, user.ID); err != nil {
			return &models.StorageError{Op: "SaveUser", Err: err}
		}
		return nil
	}
	user.Target.UserID = user.ID
	_, err := s.db.Exec(`
		INSERT INTO users_targets (user_id, mode, calories, protein, fat, carbs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			mode = excluded.mode, calories = excluded.calories,
			protein = excluded.protein, fat = excluded.fat, carbs = excluded.carbs`,
		user.ID, string(user.Target.Mode), user.Target.Calories,
		user.Target.Protein, user.Target.Fat, user.Target.Carbs)
	if err != nil {
		slog.Error("PostgresStore SaveUser target upsert failed", "error", err, "userID", user.ID)
		return &models.StorageError{Op: "SaveUser", Err: err}
	}
	slog.Debug("PostgresStore SaveUser succeeded", "userID", user.ID)
	return nil
}

func (s *PostgresStore) DeleteUser(userID int64) error {
	for _, q := range []string{
		`DELETE FROM meals_eaten WHERE user_id = $1`,
		`DELETE FROM meals_for_future_use WHERE user_id = $1`,
		`DELETE FROM users_targets WHERE user_id = $1`,
		`DELETE FROM users WHERE id = $1`,
	} {
		if _, err := s.db.Exec(q, userID); err != nil {
			slog.Error("PostgresStore DeleteUser failed", "error", err, "userID", userID)
			return &models.StorageError{Op: "DeleteUser", Err: err}
		}
	}
	slog.Debug("PostgresStore DeleteUser succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) AddLoggedMeal(draft models.MealDraft) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO meals_eaten (user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		draft.UserID, draft.Name, draft.Description,
		formatUTC(draft.CreatedUTC), formatLocal(draft.CreatedLocal),
		draft.Weight, draft.Calories, draft.Protein, draft.Fat, draft.Carbs).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddLoggedMeal failed", "error", err, "userID", draft.UserID)
		return 0, &models.StorageError{Op: "AddLoggedMeal", Err: err}
	}
	slog.Debug("PostgresStore AddLoggedMeal succeeded", "mealID", id, "userID", draft.UserID)
	return id, nil
}

func (s *PostgresStore) UpdateLoggedMeal(draft models.MealDraft) error {
	res, err := s.db.Exec(`
		UPDATE meals_eaten SET name = $1, description = $2, weight = $3, calories = $4, protein = $5, fat = $6, carbs = $7
		WHERE id = $8`,
		draft.Name, draft.Description, draft.Weight, draft.Calories,
		draft.Protein, draft.Fat, draft.Carbs, draft.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateLoggedMeal failed", "error", err, "mealID", draft.ID)
		return &models.StorageError{Op: "UpdateLoggedMeal", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.StorageError{Op: "UpdateLoggedMeal", Err: errMealNotFound}
	}
	return nil
}

func (s *PostgresStore) DeleteLoggedMeal(mealID int64) error {
	if _, err := s.db.Exec(`DELETE FROM meals_eaten WHERE id = $1`, mealID); err != nil {
		slog.Error("PostgresStore DeleteLoggedMeal failed", "error", err, "mealID", mealID)
		return &models.StorageError{Op: "DeleteLoggedMeal", Err: err}
	}
	return nil
}

func (s *PostgresStore) MealByID(mealID int64) (*models.LoggedMeal, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs
		FROM meals_eaten WHERE id = $1`, mealID)
	m, err := scanLoggedMealPG(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore MealByID failed", "error", err, "mealID", mealID)
		return nil, &models.StorageError{Op: "MealByID", Err: err}
	}
	return &m, nil
}

func (s *PostgresStore) MealsForDay(userID int64, day time.Time) ([]models.LoggedMeal, error) {
	start, end := dayBounds(day)
	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, created_utc, created_local, weight, calories, protein, fat, carbs
		FROM meals_eaten
		WHERE user_id = $1 AND created_local >= $2::timestamp AND created_local < $3::timestamp
		ORDER BY created_local`, userID, start, end)
	if err != nil {
		slog.Error("PostgresStore MealsForDay query failed", "error", err, "userID", userID)
		return nil, &models.StorageError{Op: "MealsForDay", Err: err}
	}
	defer rows.Close()

	var meals []models.LoggedMeal
	for rows.Next() {
		m, err := scanLoggedMealPG(rows.Scan)
		if err != nil {
			slog.Error("PostgresStore MealsForDay scan failed", "error", err)
			return nil, &models.StorageError{Op: "MealsForDay", Err: err}
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "MealsForDay", Err: err}
	}
	slog.Debug("PostgresStore MealsForDay succeeded", "userID", userID, "count", len(meals))
	return meals, nil
}

func (s *PostgresStore) AddSavedMealTemplate(tmpl models.SavedMealTemplate) error {
	_, err := s.db.Exec(`
		INSERT INTO meals_for_future_use (user_id, name, description, created_utc, default_weight, calories_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tmpl.UserID, tmpl.Name, tmpl.Description, formatUTC(tmpl.CreatedUTC),
		tmpl.DefaultWeight, tmpl.CaloriesPer100g, tmpl.ProteinPer100g, tmpl.FatPer100g, tmpl.CarbsPer100g)
	if err != nil {
		slog.Error("PostgresStore AddSavedMealTemplate failed", "error", err, "userID", tmpl.UserID)
		return &models.StorageError{Op: "AddSavedMealTemplate", Err: err}
	}
	return nil
}

func (s *PostgresStore) SavedMealsForUser(userID int64) ([]models.SavedMealTemplate, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, created_utc, default_weight, calories_per_100g, protein_per_100g, fat_per_100g, carbs_per_100g
		FROM meals_for_future_use
		WHERE user_id = $1
		ORDER BY created_utc DESC, id DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore SavedMealsForUser query failed", "error", err, "userID", userID)
		return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
	}
	defer rows.Close()

	var templates []models.SavedMealTemplate
	for rows.Next() {
		var t models.SavedMealTemplate
		var created time.Time
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &created,
			&t.DefaultWeight, &t.CaloriesPer100g, &t.ProteinPer100g, &t.FatPer100g, &t.CarbsPer100g); err != nil {
			slog.Error("PostgresStore SavedMealsForUser scan failed", "error", err)
			return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
		}
		t.CreatedUTC = created.UTC()
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "SavedMealsForUser", Err: err}
	}
	return templates, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanLoggedMealPG(scan func(dest ...any) error) (models.LoggedMeal, error) {
	var m models.LoggedMeal
	var createdUTC, createdLocal time.Time
	err := scan(&m.ID, &m.UserID, &m.Name, &m.Description, &createdUTC, &createdLocal,
		&m.Weight, &m.Calories, &m.Protein, &m.Fat, &m.Carbs)
	if err != nil {
		return m, err
	}
	m.CreatedUTC = createdUTC.UTC()
	m.CreatedLocal = createdLocal
	return m, nil
}
