package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/estimator"
	"github.com/nutrilog/nutrilog/internal/messaging"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/nutrition"
	"github.com/nutrilog/nutrilog/internal/session"
	"github.com/nutrilog/nutrilog/internal/store"
)

// mealEntryDefinition builds the meal-entry state machine: time, input mode,
// AI estimation with a refinement loop, manual entry with ingredient
// aggregation, confirmation chains, and the save-for-future step.
func mealEntryDefinition() *FlowDefinition {
	return &FlowDefinition{
		Type: models.FlowTypeMealEntry,
		Entry: map[models.Command]Handler{
			models.CommandNewMeal: startNewMeal,
		},
		Cancel: cancelMealEntry,
		Stages: map[models.Stage]StageBindings{
			models.StageMealTime: {
				Text:     mealTimeText,
				Callback: map[callback.Key]Handler{callback.KeyTimeIsNow: mealTimeNow},
				Prompt:   promptMealTime,
			},
			models.StageChooseInputMode: {
				Text:     inputModeText,
				Photo:    inputModePhoto,
				Callback: map[callback.Key]Handler{callback.KeyInputMode: inputModeChoice},
				Prompt:   promptInputMode,
			},
			models.StageChooseEditMode: {
				Text:     editModeText,
				Callback: map[callback.Key]Handler{callback.KeyEditMode: editModeChoice},
				Prompt:   promptEditMode,
			},
			models.StageAddDataForAI: {
				Text:   aiDescriptionText,
				Photo:  aiPhoto,
				Prompt: promptDataForAI,
			},
			models.StageAddImageForAI: {
				Text:     aiDescriptionText,
				Photo:    aiPhoto,
				Callback: map[callback.Key]Handler{callback.KeySkipImage: aiSkipImage},
				Prompt:   promptImageForAI,
			},
			models.StageAddDescriptionAI: {
				Text:     aiDescriptionText,
				Photo:    aiPhoto,
				Callback: map[callback.Key]Handler{callback.KeySkipDescription: aiSkipDescription},
				Prompt:   promptDescriptionForAI,
			},
			models.StageConfirmAIEstimate: {
				Text:     refineText,
				Callback: map[callback.Key]Handler{callback.KeyConfirmAI: confirmAIChoice},
				Prompt:   promptConfirmAI,
			},
			models.StageMoreInfoForAI: {
				Text:   refineText,
				Prompt: promptMoreInfo,
			},
			models.StageDescribeManually: {
				Text:   describeManuallyText,
				Prompt: promptDescribeManually,
			},
			models.StageChooseOneOrMany: {
				Text:     expectChoice,
				Callback: map[callback.Key]Handler{callback.KeyIngredients: oneOrManyChoice},
				Prompt:   promptOneOrMany,
			},
			models.StageNutritionSingle: {
				Text:   nutritionSingleText,
				Prompt: promptNutritionSingle,
			},
			models.StageNutritionMultiple: {
				Text:   ingredientText,
				Prompt: promptIngredientLine,
			},
			models.StageMoreIngredients: {
				Text:     ingredientText,
				Callback: map[callback.Key]Handler{callback.KeyMoreOrDone: moreOrDoneChoice},
				Prompt:   promptMoreOrDone,
			},
			models.StageConfirmManualEntry: {
				Text:     expectChoice,
				Callback: map[callback.Key]Handler{callback.KeyConfirmEntry: confirmManualChoice},
				Prompt:   promptConfirmManual,
			},
			models.StageConfirmExistingName: {
				Text:     existingNameText,
				Callback: map[callback.Key]Handler{callback.KeyKeepUpdate: existingNameChoice},
				Prompt:   promptExistingName,
			},
			models.StageConfirmExistingMacros: {
				Text:     existingMacrosText,
				Callback: map[callback.Key]Handler{callback.KeyKeepUpdate: existingMacrosChoice},
				Prompt:   promptExistingMacros,
			},
			models.StageChooseSaveForFuture: {
				Text:     expectChoice,
				Callback: map[callback.Key]Handler{callback.KeyYesNo: saveForFutureChoice},
				Prompt:   promptSaveForFuture,
			},
			models.StageCorrectedWeight: {
				Text:     correctedWeightText,
				Callback: map[callback.Key]Handler{callback.KeySkipSaving: skipSavingChoice},
				Prompt:   promptCorrectedWeight,
			},
		},
	}
}

// requireUser resolves the registered user for the session, caching it on the
// session. A nil user means the sender is unregistered; the caller ends the
// flow after requireUser has sent the notice.
func requireUser(ctx context.Context, d *Deps, sess *session.Session) (*models.User, error) {
	user, err := d.Store.GetUserByChatID(sess.Key.ChatID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := d.send(ctx, sess, "You are not registered yet. Use /start to begin"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	sess.User = user
	return user, nil
}

// startNewMeal (re)starts the meal-entry flow from the /new_meal command. A
// restart mid-flow discards the in-progress draft but keeps the parent link.
func startNewMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	return beginMealEntry(ctx, d, sess, sess.ParentFlow)
}

// startNewMealFromCallback starts the flow from an inline affordance. The
// payload value names the launching flow, empty for a root start.
func startNewMealFromCallback(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	cb, ok := ev.(models.CallbackEvent)
	if !ok {
		return End(), models.NewValidationError("expected an inline selection")
	}
	parent := models.FlowType(callback.Decode(cb.Payload).Value)
	return beginMealEntry(ctx, d, sess, parent)
}

func beginMealEntry(ctx context.Context, d *Deps, sess *session.Session, parent models.FlowType) (Outcome, error) {
	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}

	sess.Affordance.Revoke(d.Messenger)
	sess.ClearDraft()
	sess.ClearIngredients()
	sess.ClearAiInput()
	sess.ClearAiContext()
	sess.SaveForFuture = false
	sess.Flow = models.FlowTypeMealEntry
	sess.ParentFlow = parent

	// A parent flow may pin the meal's date; the time of day is still asked.
	base := user.Now()
	pinned := (*time.Time)(nil)
	if parent != "" {
		if p, ok := d.Links.Pop(sess.Key, parent, models.FlowTypeMealEntry); ok && p.ReturnDate != nil {
			pinned = p.ReturnDate
		} else if sess.ViewDate != nil {
			// Restart mid-flow: the payload was already claimed; fall back to
			// the parent's surviving view date.
			pinned = sess.ViewDate
		}
	}
	if pinned != nil {
		rd := pinned.In(user.Location())
		base = time.Date(rd.Year(), rd.Month(), rd.Day(), base.Hour(), base.Minute(), 0, 0, user.Location())
	}
	sess.Draft = &models.MealDraft{UserID: user.ID, CreatedLocal: base}

	if err := d.send(ctx, sess, "Creating new meal"); err != nil {
		return End(), err
	}
	if err := promptMealTime(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageMealTime), nil
}

// startEditMeal launches the flow in edit mode for an already logged meal.
// The payload value carries the meal id.
func startEditMeal(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	cb, ok := ev.(models.CallbackEvent)
	if !ok {
		return End(), models.NewValidationError("expected an inline selection")
	}
	mealID, err := callback.Decode(cb.Payload).Int64()
	if err != nil {
		return End(), err
	}

	user, err := requireUser(ctx, d, sess)
	if err != nil {
		return End(), err
	}
	if user == nil {
		return End(), nil
	}

	meal, err := d.Store.MealByID(mealID)
	if err != nil {
		return End(), err
	}
	if meal == nil || meal.UserID != user.ID {
		if err := d.send(ctx, sess, "Meal data is missing"); err != nil {
			return End(), err
		}
		return End(), nil
	}

	parent := sess.ParentFlow
	if sess.Flow == models.FlowTypeDayView {
		parent = models.FlowTypeDayView
	}
	sess.Affordance.Revoke(d.Messenger)
	sess.ClearIngredients()
	sess.ClearAiInput()
	sess.ClearAiContext()
	sess.SaveForFuture = false
	sess.Flow = models.FlowTypeMealEntry
	sess.ParentFlow = parent
	draft := meal.Draft()
	sess.Draft = &draft

	if err := promptEditMode(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageChooseEditMode), nil
}

// cancelMealEntry aborts the flow. The router resumes the parent, if any.
func cancelMealEntry(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "New meal entry cancelled"); err != nil {
		slog.Error("flow.cancelMealEntry: failed to send notice", "error", err)
	}
	return End(), nil
}

// --- meal time ---

func promptMealTime(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.promptTracked(ctx, sess,
		"When was the meal eaten?\nEnter the time as HH:MM",
		[]messaging.PromptOption{option("Time is now", callback.KeyTimeIsNow, "")})
}

func mealTimeText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	hour, minute, err := ParseClock(ev.(models.TextEvent).Body)
	if err != nil {
		return Stay(sess), err
	}
	return setMealTime(ctx, d, sess, hour, minute)
}

func mealTimeNow(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	now := sess.User.Now()
	return setMealTime(ctx, d, sess, now.Hour(), now.Minute())
}

func setMealTime(ctx context.Context, d *Deps, sess *session.Session, hour, minute int) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	loc := sess.User.Location()
	base := sess.Draft.CreatedLocal.In(loc)
	local := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc)
	sess.Draft.CreatedLocal = local
	sess.Draft.CreatedUTC = local.UTC()

	if err := promptInputMode(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageChooseInputMode), nil
}

// --- input mode ---

func promptInputMode(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Please choose input mode", []messaging.PromptOption{
		option("Describe for AI", callback.KeyInputMode, "ai"),
		option("Enter manually", callback.KeyInputMode, "manual"),
		option("Scan a barcode", callback.KeyInputMode, "barcode"),
	})
}

func inputModeChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "ai":
		sess.ClearAiInput()
		sess.ClearAiContext()
		if err := promptDataForAI(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageAddDataForAI), nil
	case "manual":
		if err := promptDescribeManually(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageDescribeManually), nil
	case "barcode":
		if err := d.send(ctx, sess, "not implemented"); err != nil {
			return End(), err
		}
		if err := promptInputMode(ctx, d, sess); err != nil {
			return End(), err
		}
		return Stay(sess), nil
	default:
		return Stay(sess), models.NewValidationError("unknown input mode")
	}
}

// inputModeText treats free text at the mode prompt as AI input.
func inputModeText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := d.send(ctx, sess, "Assuming input for AI"); err != nil {
		return End(), err
	}
	sess.ClearAiInput()
	sess.ClearAiContext()
	return aiDescriptionText(ctx, d, sess, ev)
}

func inputModePhoto(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := d.send(ctx, sess, "Assuming input for AI"); err != nil {
		return End(), err
	}
	sess.ClearAiInput()
	sess.ClearAiContext()
	return aiPhoto(ctx, d, sess, ev)
}

// --- edit mode ---

func promptEditMode(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Please choose edit option", []messaging.PromptOption{
		option("Adjust with AI", callback.KeyEditMode, "ai"),
		option("Edit manually", callback.KeyEditMode, "manual"),
	})
}

func editModeChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "ai":
		sess.AiContext = estimator.AssistantSeed(sess.Draft)
		if err := promptMoreInfo(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageMoreInfoForAI), nil
	case "manual":
		if err := promptExistingName(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmExistingName), nil
	default:
		return Stay(sess), models.NewValidationError("unknown edit option")
	}
}

// editModeText treats free text at the edit-mode prompt as an AI adjustment.
func editModeText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := d.send(ctx, sess, "Assuming input for AI"); err != nil {
		return End(), err
	}
	if len(sess.AiContext) == 0 {
		sess.AiContext = estimator.AssistantSeed(sess.Draft)
	}
	return refineText(ctx, d, sess, ev)
}

// --- AI input collection ---

func promptDataForAI(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess, "Describe the meal and/or attach a picture of it")
}

func promptImageForAI(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.promptTracked(ctx, sess, "Attach a picture of the meal",
		[]messaging.PromptOption{option("Skip adding an image", callback.KeySkipImage, "")})
}

func promptDescriptionForAI(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.promptTracked(ctx, sess, "Describe the meal",
		[]messaging.PromptOption{option("Skip adding a description", callback.KeySkipDescription, "")})
}

// aiDescriptionText records a text description and asks for whichever input
// is still open, or estimates when both slots are settled.
func aiDescriptionText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	text := strings.TrimSpace(ev.(models.TextEvent).Body)
	if text == "" {
		return Stay(sess), models.NewValidationError("the description is empty")
	}
	sess.AiInput.Description = &text
	sess.AiInput.DescriptionSkipped = false

	if sess.AiInput.ImageSettled() {
		return requestEstimate(ctx, d, sess)
	}
	if err := promptImageForAI(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageAddImageForAI), nil
}

// aiPhoto records a photo. The caption fills the description slot unless it
// was already provided or explicitly skipped. A second photo replaces the
// first with a notice.
func aiPhoto(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	photo := ev.(models.PhotoEvent)
	if sess.AiInput.Image != nil {
		if err := d.send(ctx, sess, "Multiple images received. Using the latest message."); err != nil {
			return End(), err
		}
	}
	img := photo.Image
	sess.AiInput.Image = &img
	sess.AiInput.ImageSkipped = false

	if caption := strings.TrimSpace(photo.Caption); caption != "" && !sess.AiInput.DescriptionSettled() {
		sess.AiInput.Description = &caption
	}

	if sess.AiInput.DescriptionSettled() {
		return requestEstimate(ctx, d, sess)
	}
	if err := promptDescriptionForAI(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageAddDescriptionAI), nil
}

func aiSkipImage(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "Image skipped"); err != nil {
		return End(), err
	}
	sess.AiInput.Image = nil
	sess.AiInput.ImageSkipped = true
	if sess.AiInput.DescriptionSettled() {
		return requestEstimate(ctx, d, sess)
	}
	if err := promptDescriptionForAI(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageAddDescriptionAI), nil
}

func aiSkipDescription(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "Text description skipped"); err != nil {
		return End(), err
	}
	sess.AiInput.Description = nil
	sess.AiInput.DescriptionSkipped = true
	if sess.AiInput.ImageSettled() {
		return requestEstimate(ctx, d, sess)
	}
	if err := promptImageForAI(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageAddImageForAI), nil
}

// --- estimation ---

// requestEstimate sends the collected input to the estimator. A semantically
// failed estimate returns the dialog to the input-mode choice; a service
// fault propagates to the router's cancel path.
func requestEstimate(ctx context.Context, d *Deps, sess *session.Session) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)

	if sess.AiInput.Description == nil && sess.AiInput.Image == nil {
		if err := d.send(ctx, sess, "Neither a description nor an image was provided.\nPlease try again"); err != nil {
			return End(), err
		}
		sess.ClearAiInput()
		if err := promptInputMode(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageChooseInputMode), nil
	}

	if err := d.send(ctx, sess, "Sending request to AI...\nPlease wait"); err != nil {
		return End(), err
	}
	description := ""
	if sess.AiInput.Description != nil {
		description = *sess.AiInput.Description
	}
	result, conv, err := d.Estimator.Estimate(ctx, description, sess.AiInput.Image)
	if err != nil {
		return End(), err
	}
	sess.AiContext = conv
	return applyEstimate(ctx, d, sess, result)
}

// refineText sends a follow-up message over the accumulated transcript.
func refineText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	text := strings.TrimSpace(ev.(models.TextEvent).Body)
	if text == "" {
		return Stay(sess), models.NewValidationError("the message is empty")
	}
	if err := d.send(ctx, sess, "Sending request to AI...\nPlease wait"); err != nil {
		return End(), err
	}
	result, conv, err := d.Estimator.Refine(ctx, sess.AiContext, text)
	if err != nil {
		return End(), err
	}
	sess.AiContext = conv
	return applyEstimate(ctx, d, sess, result)
}

func applyEstimate(ctx context.Context, d *Deps, sess *session.Session, result estimator.Result) (Outcome, error) {
	if !result.Success {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "The AI could not estimate the meal"
		}
		if err := d.send(ctx, sess, msg+"\nPlease try again"); err != nil {
			return End(), err
		}
		sess.ClearAiInput()
		sess.ClearAiContext()
		if err := promptInputMode(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageChooseInputMode), nil
	}

	draft := sess.Draft
	draft.Name = result.Name
	draft.Description = result.Description
	draft.Calories = result.Calories
	draft.Protein = result.Protein
	draft.Fat = result.Fat
	draft.Carbs = result.Carbs
	draft.Weight = result.Weight

	if err := promptConfirmAI(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageConfirmAIEstimate), nil
}

func promptConfirmAI(ctx context.Context, d *Deps, sess *session.Session) error {
	body, err := draftSummary(d, sess)
	if err != nil {
		return err
	}
	return d.prompt(ctx, sess, body+"\n\nConfirm data?", []messaging.PromptOption{
		option("Confirm", callback.KeyConfirmAI, "confirm"),
		option("Add more info for the AI", callback.KeyConfirmAI, "more_info"),
		option("Re-enter data", callback.KeyConfirmAI, "reenter"),
		option("Cancel", callback.KeyConfirmAI, "cancel"),
	})
}

func confirmAIChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "confirm":
		if err := promptSaveForFuture(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageChooseSaveForFuture), nil
	case "more_info":
		if err := promptMoreInfo(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageMoreInfoForAI), nil
	case "reenter":
		if err := promptExistingName(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmExistingName), nil
	case "cancel":
		return cancelMealEntry(ctx, d, sess, ev)
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

func promptMoreInfo(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess, "Send additional information for the AI")
}

// --- manual entry ---

func promptDescribeManually(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess, "Enter the meal name on the first line.\nAdd an optional description on the following lines")
}

func describeManuallyText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := setNameAndDescription(sess, ev.(models.TextEvent).Body); err != nil {
		return Stay(sess), err
	}
	if draftHasNutrition(sess.Draft) {
		if err := promptExistingMacros(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmExistingMacros), nil
	}
	if err := promptOneOrMany(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageChooseOneOrMany), nil
}

func setNameAndDescription(sess *session.Session, text string) error {
	lines := strings.SplitN(text, "\n", 2)
	name := strings.TrimSpace(lines[0])
	if name == "" {
		return models.NewValidationError("the meal name is empty")
	}
	sess.Draft.Name = name
	sess.Draft.Description = ""
	if len(lines) == 2 {
		sess.Draft.Description = strings.TrimSpace(lines[1])
	}
	return nil
}

func draftHasNutrition(d *models.MealDraft) bool {
	return d.Calories > 0 || d.Protein > 0 || d.Fat > 0 || d.Carbs > 0 || d.Weight > 0
}

func promptOneOrMany(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Does the meal consist of one ingredient or several?", []messaging.PromptOption{
		option("One", callback.KeyIngredients, "one"),
		option("Several", callback.KeyIngredients, "many"),
	})
}

func oneOrManyChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "one":
		sess.ClearIngredients()
		if err := promptNutritionSingle(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageNutritionSingle), nil
	case "many":
		sess.ClearIngredients()
		if err := promptIngredientLine(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageNutritionMultiple), nil
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

func promptNutritionSingle(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess,
		"Enter the nutrition values in one line:\n"+nutrition.LineFormat()+
			"\nMissing trailing values are read as zero")
}

func nutritionSingleText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	values, err := nutrition.ParseLine(ev.(models.TextEvent).Body)
	if err != nil {
		return Stay(sess), err
	}
	sess.Draft.ApplyNutrition(values)
	if err := promptConfirmManual(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageConfirmManualEntry), nil
}

func promptIngredientLine(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.send(ctx, sess,
		"Enter the next ingredient: an optional name line, then the values:\n"+nutrition.LineFormat())
}

// ingredientText records one ingredient entry. It also serves as the
// fallthrough at the more-or-finish prompt, so extra entries need no button
// press.
func ingredientText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	entry, err := parseIngredient(ev.(models.TextEvent).Body)
	if err != nil {
		return Stay(sess), err
	}
	sess.Ingredients = append(sess.Ingredients, entry)
	if err := d.send(ctx, sess, "Added"); err != nil {
		return End(), err
	}
	if err := promptMoreOrDone(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageMoreIngredients), nil
}

func parseIngredient(text string) (models.IngredientEntry, error) {
	name := ""
	valueLine := text
	if lines := strings.SplitN(text, "\n", 2); len(lines) == 2 {
		name = strings.TrimSpace(lines[0])
		valueLine = lines[1]
	}
	values, err := nutrition.ParseLine(valueLine)
	if err != nil {
		return models.IngredientEntry{}, err
	}
	return models.IngredientEntry{Name: name, Nutrition: values}, nil
}

func promptMoreOrDone(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Add another ingredient or finish?", []messaging.PromptOption{
		option("Add another", callback.KeyMoreOrDone, "more"),
		option("Finish", callback.KeyMoreOrDone, "done"),
	})
}

func moreOrDoneChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "more":
		if err := promptIngredientLine(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageNutritionMultiple), nil
	case "done":
		total, suffix := nutrition.Combine(sess.Ingredients)
		sess.Draft.ApplyNutrition(total)
		if suffix != "" {
			if sess.Draft.Description != "" {
				sess.Draft.Description += "\n"
			}
			sess.Draft.Description += suffix
		}
		sess.ClearIngredients()
		if err := promptConfirmManual(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmManualEntry), nil
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

func promptConfirmManual(ctx context.Context, d *Deps, sess *session.Session) error {
	body, err := draftSummary(d, sess)
	if err != nil {
		return err
	}
	return d.prompt(ctx, sess, body+"\n\nConfirm data?", []messaging.PromptOption{
		option("Confirm", callback.KeyConfirmEntry, "confirm"),
		option("Re-enter data", callback.KeyConfirmEntry, "reenter"),
		option("Cancel", callback.KeyConfirmEntry, "cancel"),
	})
}

func confirmManualChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "confirm":
		if err := promptSaveForFuture(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageChooseSaveForFuture), nil
	case "reenter":
		if err := promptExistingName(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmExistingName), nil
	case "cancel":
		return cancelMealEntry(ctx, d, sess, ev)
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

// --- re-enter chains ---

func promptExistingName(ctx context.Context, d *Deps, sess *session.Session) error {
	body := "Current name: " + sess.Draft.Name
	if sess.Draft.Description != "" {
		body += "\nCurrent description: " + sess.Draft.Description
	}
	return d.prompt(ctx, sess, body+"\nKeep them?", []messaging.PromptOption{
		option("Keep", callback.KeyKeepUpdate, "keep"),
		option("Update", callback.KeyKeepUpdate, "update"),
	})
}

func existingNameChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "keep":
		if err := promptExistingMacros(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmExistingMacros), nil
	case "update":
		if err := promptDescribeManually(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageDescribeManually), nil
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

// existingNameText treats free text at the keep-name prompt as the new name
// and description.
func existingNameText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	if err := setNameAndDescription(sess, ev.(models.TextEvent).Body); err != nil {
		return Stay(sess), err
	}
	if err := promptExistingMacros(ctx, d, sess); err != nil {
		return End(), err
	}
	return Goto(models.StageConfirmExistingMacros), nil
}

func promptExistingMacros(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess,
		"Current nutrition: "+nutrition.FormatLine(sess.Draft.Nutrition())+"\nKeep these values?",
		[]messaging.PromptOption{
			option("Keep", callback.KeyKeepUpdate, "keep"),
			option("Update", callback.KeyKeepUpdate, "update"),
		})
}

func existingMacrosChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "keep":
		if err := promptConfirmManual(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageConfirmManualEntry), nil
	case "update":
		if err := promptOneOrMany(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageChooseOneOrMany), nil
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

// existingMacrosText treats free text at the keep-nutrition prompt as a new
// one-line nutrition entry.
func existingMacrosText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	return nutritionSingleText(ctx, d, sess, ev)
}

// --- save for future use and commit ---

func promptSaveForFuture(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.prompt(ctx, sess, "Save this meal for future use?", []messaging.PromptOption{
		option("Yes", callback.KeyYesNo, "yes"),
		option("No", callback.KeyYesNo, "no"),
	})
}

func saveForFutureChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	switch callback.Decode(ev.(models.CallbackEvent).Payload).Value {
	case "yes":
		if sess.Draft.Weight > 0 {
			sess.SaveForFuture = true
			return commitMeal(ctx, d, sess)
		}
		if err := promptCorrectedWeight(ctx, d, sess); err != nil {
			return End(), err
		}
		return Goto(models.StageCorrectedWeight), nil
	case "no":
		sess.SaveForFuture = false
		return commitMeal(ctx, d, sess)
	default:
		return Stay(sess), models.NewValidationError("unknown choice")
	}
}

func promptCorrectedWeight(ctx context.Context, d *Deps, sess *session.Session) error {
	return d.promptTracked(ctx, sess,
		"Saving needs a positive meal weight.\nEnter the weight in grams",
		[]messaging.PromptOption{option("Skip saving", callback.KeySkipSaving, "")})
}

func correctedWeightText(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	weight, err := strconv.ParseFloat(strings.TrimSpace(ev.(models.TextEvent).Body), 64)
	if err != nil {
		return Stay(sess), models.NewValidationError("cannot read %q as a number", ev.(models.TextEvent).Body)
	}
	if weight <= 0 {
		return Stay(sess), models.NewValidationError("the weight must be positive")
	}
	sess.Affordance.Revoke(d.Messenger)
	sess.Draft.Weight = weight
	sess.SaveForFuture = true
	return commitMeal(ctx, d, sess)
}

func skipSavingChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	if err := d.send(ctx, sess, "Saving for future use skipped"); err != nil {
		return End(), err
	}
	sess.SaveForFuture = false
	return commitMeal(ctx, d, sess)
}

// commitMeal persists the finished draft: the future-use template first when
// requested, then the meal itself. Each write is attempted at most once.
func commitMeal(ctx context.Context, d *Deps, sess *session.Session) (Outcome, error) {
	sess.Affordance.Revoke(d.Messenger)
	draft := sess.Draft

	if sess.SaveForFuture {
		if err := d.Store.AddSavedMealTemplate(store.TemplateFromDraft(*draft, draft.Weight)); err != nil {
			return End(), err
		}
		if err := d.send(ctx, sess, "New meal saved for future use"); err != nil {
			return End(), err
		}
	}

	if draft.ID != 0 {
		if err := d.Store.UpdateLoggedMeal(*draft); err != nil {
			return End(), err
		}
		if err := d.send(ctx, sess, "Meal updated"); err != nil {
			return End(), err
		}
		return End(), nil
	}

	id, err := d.Store.AddLoggedMeal(*draft)
	if err != nil {
		return End(), err
	}
	slog.Info("flow.commitMeal: meal logged", "meal_id", id, "user_id", draft.UserID)
	if err := d.send(ctx, sess, "New meal added"); err != nil {
		return End(), err
	}
	return End(), nil
}

// --- shared helpers ---

// expectChoice rejects free text at a stage that only accepts its inline
// options.
func expectChoice(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error) {
	return Stay(sess), models.NewValidationError("please use one of the offered options")
}

// draftSummary renders the confirmation text: the draft's data, the macro
// percentage line, and the calorie-target warning when the day total would
// exceed an "at most" target.
func draftSummary(d *Deps, sess *session.Session) (string, error) {
	draft := sess.Draft
	body := nutrition.DescribeDraft(draft)
	if pct := nutrition.MacroPercentages(draft); pct != "" {
		body += "\n" + pct
	}
	warning, err := targetWarning(d, sess)
	if err != nil {
		return "", err
	}
	if warning != "" {
		body += "\n\n" + warning
	}
	return body, nil
}

func targetWarning(d *Deps, sess *session.Session) (string, error) {
	user := sess.User
	if user == nil || user.Target == nil {
		return "", nil
	}
	day := sess.Draft.CreatedLocal
	if day.IsZero() {
		day = user.Now()
	}
	meals, err := d.Store.MealsForDay(user.ID, day)
	if err != nil {
		return "", err
	}
	var dayTotal float64
	for _, m := range meals {
		if m.ID == sess.Draft.ID {
			continue
		}
		dayTotal += m.Calories
	}
	return nutrition.CheckTarget(dayTotal, sess.Draft.Calories, user.Target), nil
}
