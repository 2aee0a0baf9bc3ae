package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultModel = string(openai.ModerationModelOmniModerationLatest)

type OpenAIClassifier struct {
	client openai.Client
	model  openai.ModerationModel
}

func NewOpenAIClassifier(apiKey, model string, opts ...option.RequestOption) *OpenAIClassifier {
	if model == "" {
		model = DefaultModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClassifier{
		client: openai.NewClient(opts...),
		model:  openai.ModerationModel(model),
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, errors.New("openai moderation: empty result")
	}

	r := resp.Results[0]
	return Verdict{
		Flagged: r.Flagged,
		Categories: map[string]bool{
			CategoryHate:       r.Categories.Hate,
			CategoryHarassment: r.Categories.Harassment,
			CategorySexual:     r.Categories.Sexual,
			CategoryViolence:   r.Categories.Violence,
			CategorySelfHarm:   r.Categories.SelfHarm,
		},
		Scores: map[string]float64{
			CategoryHate:       r.CategoryScores.Hate,
			CategoryHarassment: r.CategoryScores.Harassment,
			CategorySexual:     r.CategoryScores.Sexual,
			CategoryViolence:   r.CategoryScores.Violence,
			CategorySelfHarm:   r.CategoryScores.SelfHarm,
		},
	}, nil
}
