package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/messaging"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/nutrition"
	"github.com/nutrilog/nutrilog/internal/session"
)

// dayViewDefinition builds the day-view state machine: one local calendar day
// of logged meals with navigation, a single-meal detail view with delete, and
// launch points for logging or editing meals on the displayed day.
func dayViewDefinition() *FlowDefinition {
	return &FlowDefinition{
		Type: models.FlowTypeDayView,
		Entry: map[models.Command]Handler{
			models.CommandViewMeals: startDayView,
		},
		Cancel: cancelDayView,
		Stages: map[models.Stage]StageBindings{
			models.StageDayView: {
				Text: dateEntryText,
				Callback: map[callback.Key]Handler{
					callback.KeySelectMeal:   selectMeal,
					callback.KeyDayPrevious:  dayShift(-1),
					callback.KeyDayNext:      dayShift(1),
					callback.KeyDayEnterDate: askDate,
					callback.KeyStartNewMeal: addMealForDay,
				},
				Prompt: showDayView,
			},
			models.StageDateEntry: {
				Text:   dateEntryText,
				Prompt: promptDate,
			},
			models.StageSingleMealView: {
				Text: expectChoice,
				Callback: map[callback.Key]Handler{
					callback.KeyStartEditMeal: startEditMeal,
					callback.KeyDeleteMeal:    askDeleteMeal,
					callback.KeyBackToDay:     backToDay,
				},
				Prompt: showSingleMeal,
			},
			models.StageConfirmDelete: {
				Text: expectChoice,
				Callback: map[callback.Key]Handler{
					callback.KeyConfirmDelete: deleteMeal,
					callback.KeyBackToMeal:    backToMeal,
				},
				Prompt: promptDeleteMeal,
			},
		},
		Resume: map[models.FlowType]Handler{
			models.FlowTypeMealEntry: resumeDayView,
		},
	}
}

// startDayView opens the view at the user's current local day.
func startDayView(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	return beginDayView(ctx, d, sess, sess.ParentFlow)
}

func startDayViewFromCallback(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	cb, ok := ev.(models.CallbackEvent)
	if !ok {
		return End(), models.NewValidationError("expected an inline selection")
	}
	parent := models.FlowType(callback.Decode(cb.Payload).Value)
	return beginDayView(ctx, d, sess, parent)
}

func beginDayView(ctx context.Context, d *Deps, sess *session.Session, parent models.FlowType) (Outcome, error) {
	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}

	sess.Affordance.Revoke(d.Messenger)
	sess.Flow = models.FlowTypeDayView
	sess.ParentFlow = parent
	sess.ClearSelectedMeal()
	today := midnight(user.Now(), user.Location())
	sess.ViewDate = &today

	if err := showDayView(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDayView), nil
}

func cancelDayView(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "Meal view closed"); err != nil {
		slog.Error("flow.cancelDayView: failed to send notice", "error", err)
	}
	return End(), nil
}

// resumeDayView regains control after a child meal-entry flow ends, keeping
// the day the user was looking at.
func resumeDayView(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if sess.User == nil || sess.ViewDate == nil {
		return beginDayView(ctx, d, sess, sess.ParentFlow)
	}
	sess.ClearSelectedMeal()
	if err := showDayView(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDayView), nil
}

// showDayView renders the displayed day: one numbered line per meal, the day
// total against the user's target, and the navigation affordances.
func showDayView(ctx context.Context, d *Deps, sess *session.Session) error {
	user := sess.User
	day := *sess.ViewDate
	meals, err := d.Store.MealsForDay(user.ID, day)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Meals for %s", day.Format("Monday, 2 January 2006"))
	options := make([]messaging.PromptOption, 0, len(meals)+4)
	if len(meals) == 0 {
		b.WriteString("\nNo meals logged for this day")
	} else {
		for i, m := range meals {
			fmt.Fprintf(&b, "\n%d. %s  %s  %s kcal",
				i+1, m.CreatedLocal.Format("15:04"), m.Name, nutrition.FormatValue(m.Calories))
			options = append(options, option(
				fmt.Sprintf("%d. %s", i+1, m.Name),
				callback.KeySelectMeal, strconv.FormatInt(m.ID, 10)))
		}
		fmt.Fprintf(&b, "\nTotal: %s kcal", nutrition.FormatValue(nutrition.SumCalories(meals)))
		if t := user.Target; t != nil {
			fmt.Fprintf(&b, " (target: %s %s kcal)", t.Mode, nutrition.FormatValue(t.Calories))
		}
	}
	options = append(options,
		option("Previous day", callback.KeyDayPrevious, ""),
		option("Next day", callback.KeyDayNext, ""),
		option("Enter a date", callback.KeyDayEnterDate, ""),
		option("Add a meal for this day", callback.KeyStartNewMeal, string(models.FlowTypeDayView)),
	)
	return d.prompt(ctx, sess, b.String(), options)
}

// dayShift moves the displayed day by delta days.
func dayShift(delta int) Handler {
	return func(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
		day := sess.ViewDate.AddDate(0, 0, delta)
		sess.ViewDate = &day
		if err := showDayView(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageDayView), nil
	}
}

func promptDate(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess, "Enter a date, e.g. 21.3.2026, today or yesterday")
}

func askDate(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := promptDate(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDateEntry), nil
}

func dateEntryText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user := sess.User
	day, err := ParseDayInput(ev.(models.TextEvent).Body, user.Now(), user.Location())
	if err != nil {
		return Stay(sess), err
	}
	sess.ViewDate = &day
	if err := showDayView(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDayView), nil
}

// addMealForDay launches the meal-entry flow as a child, pinning the meal to
// the displayed day.
func addMealForDay(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	d.Links.Set(sess.Key, models.FlowTypeDayView, models.FlowTypeMealEntry,
		session.ParentPayload{ReturnDate: sess.ViewDate})
	return beginMealEntry(ctx, d, sess, models.FlowTypeDayView)
}

func selectMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	mealID, err := callback.Decode(ev.(models.CallbackEvent).Payload).Int64()
	if err != nil {
		return Stay(sess), err
	}
	meal, err := d.Store.MealByID(mealID)
	if err != nil {
		return End(), err
	}
	if meal == nil || meal.UserID != sess.User.ID {
		if err := d.send(ctx, sess, "Meal data is missing"); err != nil {
			return End(), err
		}
		if err := showDayView(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageDayView), nil
	}
	sess.SelectedMealID = &mealID
	if err := showSingleMeal(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageSingleMealView), nil
}

// showSingleMeal renders the focused meal with its edit, delete and back
// affordances.
func showSingleMeal(ctx context.Context, d *Deps, sess *session.Session) error {
	meal, err := d.Store.MealByID(*sess.SelectedMealID)
	if err != nil {
		return err
	}
	if meal == nil {
		return d.send(ctx, sess, "Meal data is missing")
	}
	draft := meal.Draft()
	body := nutrition.DescribeDraft(&draft)
	if pct := nutrition.MacroPercentages(&draft); pct != "" {
		body += "\n" + pct
	}
	id := strconv.FormatInt(meal.ID, 10)
	return d.prompt(ctx, sess, body, []messaging.PromptOption{
		option("Edit", callback.KeyStartEditMeal, id),
		option("Delete", callback.KeyDeleteMeal, id),
		option("Back", callback.KeyBackToDay, ""),
	})
}

func promptDeleteMeal(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Delete this meal?", []messaging.PromptOption{
		option("Delete", callback.KeyConfirmDelete, ""),
		option("Back", callback.KeyBackToMeal, ""),
	})
}

func askDeleteMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := promptDeleteMeal(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageConfirmDelete), nil
}

func deleteMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := d.Store.DeleteLoggedMeal(*sess.SelectedMealID); err != nil {
		return End(), err
	}
	slog.Info("flow.deleteMeal: meal deleted", "meal_id", *sess.SelectedMealID, "user_id", sess.User.ID)
	sess.ClearSelectedMeal()
	if err := d.send(ctx, sess, "Meal deleted"); err != nil {
		return End(), err
	}
	if err := showDayView(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDayView), nil
}

func backToDay(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.ClearSelectedMeal()
	if err := showDayView(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageDayView), nil
}

func backToMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := showSingleMeal(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageSingleMealView), nil
}
