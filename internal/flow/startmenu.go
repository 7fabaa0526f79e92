package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/messaging"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/nutrition"
	"github.com/nutrilog/nutrilog/internal/session"
)

// startMenuDefinition builds the start-menu state machine: the action menu
// for registered users, the registration pointer for unknown senders, and the
// delete-all-data confirmation.
func startMenuDefinition() *FlowDefinition {
	return &FlowDefinition{
		Type: models.FlowTypeStartMenu,
		Entry: map[models.Command]Handler{
			models.CommandStart: startMenu,
		},
		Cancel: cancelStartMenu,
		Stages: map[models.Stage]StageBindings{
			models.StageExistingUserActions: {
				Text: expectChoice,
				Callback: map[callback.Key]Handler{
					callback.KeyStartNewMeal:    startNewMealFromCallback,
					callback.KeyStartDayView:    startDayViewFromCallback,
					callback.KeyStartSavedMeals: showSavedMeals,
					callback.KeyUserData:        showUserData,
					callback.KeyStartUpdateUser: startUpdateUser,
					callback.KeyDeleteUserData:  askDeleteUser,
				},
				Prompt: promptExistingActions,
			},
			models.StageNewUserActions: {
				Text: expectChoice,
				Callback: map[callback.Key]Handler{
					callback.KeyStartUpdateUser: startUpdateUser,
				},
				Prompt: promptNewUserActions,
			},
			models.StageConfirmDeleteUser: {
				Text:     expectChoice,
				Callback: map[callback.Key]Handler{callback.KeyYesNo: confirmDeleteUser},
				Prompt:   promptDeleteUser,
			},
		},
		Resume: map[models.FlowType]Handler{
			models.FlowTypeMealEntry: resumeStartMenu,
			models.FlowTypeDayView:   resumeStartMenu,
		},
	}
}

// startMenu greets the sender and shows the action menu matching their
// registration state.
func startMenu(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user, err := d.Store.GetUserByChatID(sess.Key.ChatID)
	if err != nil {
		return End(), err
	}
	sess.Affordance.Revoke(d.Messenger)
	sess.Flow = models.FlowTypeStartMenu
	sess.ParentFlow = ""
	sess.User = user

	if user == nil {
		if err := promptNewUserActions(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageNewUserActions), nil
	}
	if err := d.send(ctx, sess, fmt.Sprintf("Hi, %s!", user.Name)); err != nil {
		return End(), err
	}
	if err := promptExistingActions(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageExistingUserActions), nil
}

func cancelStartMenu(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "Interaction stopped.\nUse /start to start again"); err != nil {
		slog.Error("flow.cancelStartMenu: failed to send notice", "error", err)
	}
	return End(), nil
}

// resumeStartMenu regains control after a child flow ends.
func resumeStartMenu(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if sess.User == nil {
		return startMenu(ctx, d, sess, ev)
	}
	if err := promptExistingActions(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageExistingUserActions), nil
}

func promptExistingActions(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "What would you like to do?", []messaging.PromptOption{
		option("Log a new meal", callback.KeyStartNewMeal, string(models.FlowTypeStartMenu)),
		option("View logged meals", callback.KeyStartDayView, string(models.FlowTypeStartMenu)),
		option("Saved meals", callback.KeyStartSavedMeals, ""),
		option("My data", callback.KeyUserData, ""),
		option("Update my data", callback.KeyStartUpdateUser, ""),
		option("Delete my data", callback.KeyDeleteUserData, ""),
	})
}

func promptNewUserActions(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Welcome! You are not registered yet.", []messaging.PromptOption{
		option("Register", callback.KeyStartUpdateUser, ""),
	})
}

// showSavedMeals lists the user's saved meal templates. Inside the start-menu
// flow it returns to the action menu; invoked as a bare command it ends.
func showSavedMeals(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}

	templates, err := d.Store.SavedMealsForUser(user.ID)
	if err != nil {
		return End(), err
	}
	if len(templates) == 0 {
		if err := d.send(ctx, sess, "No saved meals yet"); err != nil {
			return End(), err
		}
		return menuOrEnd(ctx, d, sess)
	}

	var b strings.Builder
	b.WriteString("Saved meals:")
	for i, t := range templates {
		fmt.Fprintf(&b, "\n%d. %s  %s kcal / 100 g  (default weight %s g)",
			i+1, t.Name, nutrition.FormatValue(t.CaloriesPer100g), nutrition.FormatValue(t.DefaultWeight))
	}
	if err := d.send(ctx, sess, b.String()); err != nil {
		return End(), err
	}
	return menuOrEnd(ctx, d, sess)
}

// showUserData prints the user's stored profile and target.
func showUserData(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your data:\n - Name: %s\n - Timezone: %s", user.Name, user.Timezone)
	if t := user.Target; t != nil {
		fmt.Fprintf(&b, "\n - Target: %s %s kcal (protein %s g, fat %s g, carbs %s g)",
			t.Mode, nutrition.FormatValue(t.Calories), nutrition.FormatValue(t.Protein),
			nutrition.FormatValue(t.Fat), nutrition.FormatValue(t.Carbs))
	} else {
		b.WriteString("\n - Target: not set")
	}
	if err := d.send(ctx, sess, b.String()); err != nil {
		return End(), err
	}
	return menuOrEnd(ctx, d, sess)
}

// startUpdateUser hands the sender to the registration collaborator and
// relays its instructions.
func startUpdateUser(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user, err := d.Store.GetUserByChatID(sess.Key.ChatID)
	if err != nil {
		return End(), err
	}

	var text string
	if user == nil {
		text, err = d.Registrar.BeginRegistration(ctx, sess.Key)
	} else {
		sess.User = user
		text, err = d.Registrar.BeginUpdate(ctx, user)
	}
	if err != nil {
		return End(), err
	}
	if err := d.send(ctx, sess, text); err != nil {
		return End(), err
	}
	if sess.Flow == models.FlowTypeStartMenu && sess.User != nil {
		return menuOrEnd(ctx, d, sess)
	}
	return End(), nil
}

// startDeleteUser is the /delete_user command: it enters the start-menu flow
// at the confirmation stage.
func startDeleteUser(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}
	sess.Flow = models.FlowTypeStartMenu
	return askDeleteUser(ctx, d, sess, ev)
}

func promptDeleteUser(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Delete all your data? This cannot be undone.", []messaging.PromptOption{
		option("Yes", callback.KeyYesNo, "yes"),
		option("No", callback.KeyYesNo, "no"),
	})
}

func askDeleteUser(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := promptDeleteUser(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageConfirmDeleteUser), nil
}

func confirmDeleteUser(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "yes":
		if err := d.Store.DeleteUser(sess.User.ID); err != nil {
			return End(), err
		}
		slog.Info("flow.confirmDeleteUser: user data deleted", "user_id", sess.User.ID)
		sess.User = nil
		if err := d.send(ctx, sess, "All your data has been deleted"); err != nil {
			return End(), err
		}
		return End(), nil
	case "no":
		if err := promptExistingActions(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageExistingUserActions), nil
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

// menuOrEnd returns to the action menu when the start-menu flow is active,
// and ends otherwise (the handler ran as a bare command).
func menuOrEnd(ctx context.Context, d *Deps, sess *session.Session) (Outcome, error) {
	if sess.Flow != models.FlowTypeStartMenu {
		return End(), nil
	}
	if err := promptExistingActions(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageExistingUserActions), nil
}
