// Package estimator provides the AI nutrition-estimation adapter.
//
// It wraps OpenAI chat completions behind a small interface: one call to
// estimate a meal from free text and/or an image, and follow-up refinement
// calls that reuse the accumulated conversation transcript. Attached images
// are consumed exactly once, on the first estimation request; refinement
// turns resend text only.
package estimator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Role tags one transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of an estimation transcript. Image is set only on the
// user message that carried the original photo.
type Message struct {
	Role  Role
	Text  string
	Image *models.ImageData
}

// Conversation is an append-only, role-tagged estimation transcript. Callers
// never mutate a returned conversation in place; Append and WithoutImages
// return extended or filtered copies.
type Conversation []Message

// Append returns a new conversation with msg added. The receiver is unchanged.
func (c Conversation) Append(msg Message) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, msg)
}

// WithoutImages returns a copy of the conversation with every entry stripped
// to text only.
func (c Conversation) WithoutImages() Conversation {
	out := make(Conversation, len(c))
	for i, msg := range c {
		out[i] = Message{Role: msg.Role, Text: msg.Text}
	}
	return out
}

// HasImages reports whether any entry still carries image content.
func (c Conversation) HasImages() bool {
	for _, msg := range c {
		if msg.Image != nil {
			return true
		}
	}
	return false
}

// Result is a structured meal estimate. Success=false encodes a semantically
// failed estimation (e.g. the image is not food); the service call itself
// succeeded in that case.
type Result struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Protein      float64 `json:"protein"`
	Fat          float64 `json:"fat"`
	Carbs        float64 `json:"carbohydrates"`
	Calories     float64 `json:"energy"`
	Weight       float64 `json:"total_weight"`
	Success      bool    `json:"success_flag"`
	ErrorMessage string  `json:"error_message"`
}

// Client is the estimation boundary consumed by the meal-entry flow.
type Client interface {
	// Estimate requests a fresh estimate from a description and/or image.
	// Fails with ValidationError when both are absent. The returned
	// conversation carries the exchange for follow-up refinement.
	Estimate(ctx context.Context, description string, image *models.ImageData) (Result, Conversation, error)

	// Refine sends a follow-up message using an existing transcript. The
	// transcript is stripped to text before sending; the returned
	// conversation is a new value extended with both new entries.
	Refine(ctx context.Context, conv Conversation, extraText string) (Result, Conversation, error)
}

const systemPrompt = `You are a nutrition estimation assistant. The user describes a meal in text and/or attaches a photo of it. Estimate the meal's nutrition and reply with a single JSON object, no other text, with exactly these fields:
{"name": string, "description": string, "protein": number, "fat": number, "carbohydrates": number, "energy": number, "total_weight": number, "success_flag": boolean, "error_message": string}
Units: grams for protein, fat, carbohydrates and total_weight; kcal for energy. name is a short dish name; description summarizes the portions you assumed.
If you cannot produce an estimate (the input does not describe food, or the image shows no food), set success_flag to false and explain in error_message, leaving the numbers at 0.`

// OpenAIClient implements Client using the OpenAI chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  openai.ChatModel
}

// Opts holds configuration options for the OpenAI estimation client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the OpenAI estimation client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// NewOpenAIClient creates an estimation client. The API key is required.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	model := openai.ChatModelGPT4o
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}
	slog.Debug("estimator.NewOpenAIClient: creating client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
	}, nil
}

// Estimate implements Client.
func (c *OpenAIClient) Estimate(ctx context.Context, description string, image *models.ImageData) (Result, Conversation, error) {
	if description == "" && image == nil {
		return Result{}, nil, models.NewValidationError("either a description or an image is required")
	}
	slog.Debug("estimator.Estimate: sending estimation request",
		"has_description", description != "", "has_image", image != nil)

	conv := Conversation{
		{Role: RoleSystem, Text: systemPrompt},
		{Role: RoleUser, Text: description, Image: image},
	}
	return c.complete(ctx, conv)
}

// Refine implements Client.
func (c *OpenAIClient) Refine(ctx context.Context, conv Conversation, extraText string) (Result, Conversation, error) {
	if extraText == "" {
		return Result{}, nil, models.NewValidationError("refinement text is required")
	}
	slog.Debug("estimator.Refine: sending refinement request", "transcript_len", len(conv))

	next := conv.WithoutImages().Append(Message{Role: RoleUser, Text: extraText})
	return c.complete(ctx, next)
}

// complete sends the transcript and appends the assistant reply to a new
// conversation returned alongside the parsed result.
func (c *OpenAIClient) complete(ctx context.Context, conv Conversation) (Result, Conversation, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, msg := range conv {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Text))
		default:
			if msg.Image != nil {
				parts := []openai.ChatCompletionContentPartUnionParam{}
				if msg.Text != "" {
					parts = append(parts, openai.TextContentPart(msg.Text))
				}
				parts = append(parts, openai.ImageContentPart(
					openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL(msg.Image)},
				))
				messages = append(messages, openai.UserMessage(parts))
			} else {
				messages = append(messages, openai.UserMessage(msg.Text))
			}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("estimator.complete: completion request failed", "error", err)
		return Result{}, nil, &models.AiServiceError{Err: err}
	}
	if len(resp.Choices) == 0 {
		slog.Error("estimator.complete: completion returned no choices")
		return Result{}, nil, &models.AiServiceError{Err: fmt.Errorf("no choices returned")}
	}

	reply := resp.Choices[0].Message.Content
	result, err := ParseResult(reply)
	if err != nil {
		slog.Error("estimator.complete: failed to parse estimate", "error", err, "reply_length", len(reply))
		return Result{}, nil, &models.AiServiceError{Err: err}
	}

	next := conv.Append(Message{Role: RoleAssistant, Text: reply})
	slog.Info("estimator.complete: estimate received", "success", result.Success, "name", result.Name)
	return result, next, nil
}

// ParseResult extracts a Result from the model's reply. Replies wrapped in
// code fences or with minor JSON defects are repaired before decoding.
func ParseResult(reply string) (Result, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return Result{}, fmt.Errorf("reply is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return Result{}, fmt.Errorf("failed to decode repaired reply: %w", err)
	}
	return result, nil
}

// AssistantSeed builds a one-entry transcript describing an already stored
// meal, so the edit flow can refine it without a fresh estimation call.
func AssistantSeed(d *models.MealDraft) Conversation {
	estimate := Result{
		Name:        d.Name,
		Description: d.Description,
		Protein:     d.Protein,
		Fat:         d.Fat,
		Carbs:       d.Carbs,
		Calories:    d.Calories,
		Weight:      d.Weight,
		Success:     true,
	}
	raw, _ := json.Marshal(estimate)
	return Conversation{
		{Role: RoleSystem, Text: systemPrompt},
		{Role: RoleAssistant, Text: string(raw)},
	}
}

// dataURL encodes the image as a base64 data URL for the vision API.
func dataURL(image *models.ImageData) string {
	mime := strings.ToLower(image.Format)
	switch mime {
	case "jpg", "jpeg", "":
		mime = "jpeg"
	}
	return "data:image/" + mime + ";base64," + base64.StdEncoding.EncodeToString(image.Data)
}
