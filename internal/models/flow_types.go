// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies one of the conversation state machines.
type FlowType string

// Flow type constants.
const (
	FlowTypeMealEntry FlowType = "meal_entry"
	FlowTypeDayView   FlowType = "day_view"
	FlowTypeStartMenu FlowType = "start_menu"
)

// Stage is a named state within a flow's transition table. Constants are
// grouped per flow; handlers dispatch over them with exhaustive switches.
type Stage string

// Meal-entry flow stages.
const (
	StageMealTime          Stage = "MEAL_TIME"
	StageChooseInputMode   Stage = "CHOOSE_INPUT_MODE"
	StageChooseEditMode    Stage = "CHOOSE_EDIT_MODE"
	StageAddDataForAI      Stage = "ADD_DATA_FOR_AI"
	StageAddImageForAI     Stage = "ADD_IMAGE_FOR_AI"
	StageAddDescriptionAI  Stage = "ADD_DESCRIPTION_FOR_AI"
	StageConfirmAIEstimate Stage = "CONFIRM_AI_ESTIMATE"
	StageMoreInfoForAI     Stage = "ADD_MORE_INFO_FOR_AI"

	StageDescribeManually      Stage = "DESCRIBE_MEAL_MANUALLY"
	StageChooseOneOrMany       Stage = "CHOOSE_ONE_OR_MANY_INGREDIENTS"
	StageNutritionSingle       Stage = "ADD_NUTRITION_SINGLE_ENTRY"
	StageNutritionMultiple     Stage = "ADD_NUTRITION_MULTIPLE_ENTRIES"
	StageMoreIngredients       Stage = "ADD_MORE_INGREDIENTS_OR_FINISH"
	StageConfirmManualEntry    Stage = "CONFIRM_MANUAL_ENTRY"
	StageConfirmExistingName   Stage = "CONFIRM_EXISTING_NAME_DESCRIPTION"
	StageConfirmExistingMacros Stage = "CONFIRM_EXISTING_NUTRITION"

	StageChooseSaveForFuture Stage = "CHOOSE_SAVE_FOR_FUTURE_USE"
	StageCorrectedWeight     Stage = "ENTER_CORRECTED_WEIGHT"
)

// Day-view flow stages.
const (
	StageDayView        Stage = "DAY_VIEW"
	StageDateEntry      Stage = "DATE_ENTRY"
	StageSingleMealView Stage = "SINGLE_MEAL_VIEW"
	StageConfirmDelete  Stage = "CONFIRM_DELETE_MEAL"
)

// Start-menu flow stages.
const (
	StageExistingUserActions Stage = "EXISTING_USER_ACTIONS"
	StageNewUserActions      Stage = "NEW_USER_ACTIONS"
	StageConfirmDeleteUser   Stage = "CONFIRM_DELETE_USER"
)

// Command is a symbolic user command. The transport binds these to its own
// syntax (e.g. a leading slash).
type Command string

const (
	CommandStart       Command = "start"
	CommandNewMeal     Command = "new_meal"
	CommandViewMeals   Command = "view_meals"
	CommandSavedMeals  Command = "saved_meals"
	CommandUpdateUser  Command = "update_user"
	CommandGetUserData Command = "user_data"
	CommandDeleteUser  Command = "delete_user"
	CommandCancel      Command = "cancel"
)
