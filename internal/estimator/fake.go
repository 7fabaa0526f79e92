package estimator

import (
	"context"

	"github.com/nutrilog/nutrilog/internal/models"
)

// FakeClient implements Client for tests. Each call pops the next queued
// result; Err, when set, is returned from every call instead.
type FakeClient struct {
	Results []Result
	Err     error

	// EstimateCalls and RefineCalls record the inputs the fake received.
	EstimateCalls []FakeEstimateCall
	RefineCalls   []FakeRefineCall
}

// FakeEstimateCall records one Estimate invocation.
type FakeEstimateCall struct {
	Description string
	Image       *models.ImageData
}

// FakeRefineCall records one Refine invocation, including the transcript as
// it was sent (after image stripping).
type FakeRefineCall struct {
	Sent  Conversation
	Extra string
}

// Estimate implements Client.
func (f *FakeClient) Estimate(ctx context.Context, description string, image *models.ImageData) (Result, Conversation, error) {
	if description == "" && image == nil {
		return Result{}, nil, models.NewValidationError("either a description or an image is required")
	}
	f.EstimateCalls = append(f.EstimateCalls, FakeEstimateCall{Description: description, Image: image})
	if f.Err != nil {
		return Result{}, nil, &models.AiServiceError{Err: f.Err}
	}
	result := f.pop()
	conv := Conversation{
		{Role: RoleSystem, Text: systemPrompt},
		{Role: RoleUser, Text: description, Image: image},
		{Role: RoleAssistant, Text: result.Name},
	}
	return result, conv, nil
}

// Refine implements Client.
func (f *FakeClient) Refine(ctx context.Context, conv Conversation, extraText string) (Result, Conversation, error) {
	sent := conv.WithoutImages().Append(Message{Role: RoleUser, Text: extraText})
	f.RefineCalls = append(f.RefineCalls, FakeRefineCall{Sent: sent, Extra: extraText})
	if f.Err != nil {
		return Result{}, nil, &models.AiServiceError{Err: f.Err}
	}
	result := f.pop()
	return result, sent.Append(Message{Role: RoleAssistant, Text: result.Name}), nil
}

func (f *FakeClient) pop() Result {
	if len(f.Results) == 0 {
		return Result{Name: "fake meal", Success: true}
	}
	result := f.Results[0]
	f.Results = f.Results[1:]
	return result
}
