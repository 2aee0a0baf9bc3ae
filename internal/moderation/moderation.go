package moderation

import (
	"context"
	"errors"
	"maps"
	"time"
)

const (
	CategoryHate        = "hate"
	CategoryHarassment  = "harassment"
	CategorySexual      = "sexual"
	CategoryViolence    = "violence"
	CategorySelfHarm    = "self_harm"
	CategoryBlockedTerm = "blocked_term"
)

// Categories are the model categories reported back to a rejected sender.
var Categories = []string{
	CategoryHate,
	CategoryHarassment,
	CategorySexual,
	CategoryViolence,
	CategorySelfHarm,
}

var ErrNotConfigured = errors.New("moderation not configured")

type Verdict struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"scores"`
}

// NotFlagged is the verdict returned when nothing objected to the content.
func NotFlagged() Verdict {
	return Verdict{
		Categories: map[string]bool{},
		Scores:     map[string]float64{},
	}
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Noop is used when no moderation backend is configured. Everything passes.
type Noop struct{}

func (Noop) Classify(context.Context, string) (Verdict, error) {
	return NotFlagged(), nil
}

// Chain asks each classifier in order and returns the first flagged
// verdict. Failures of individual classifiers are joined and returned with
// a not-flagged verdict so callers can apply their own policy.
type Chain []Classifier

func (c Chain) Classify(ctx context.Context, text string) (Verdict, error) {
	merged := NotFlagged()
	var errs []error

	for _, cl := range c {
		v, err := cl.Classify(ctx, text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v.Flagged {
			return v, nil
		}
		maps.Copy(merged.Categories, v.Categories)
		maps.Copy(merged.Scores, v.Scores)
	}

	return merged, errors.Join(errs...)
}

// WithTimeout bounds each Classify call on cl.
func WithTimeout(cl Classifier, d time.Duration) Classifier {
	if d <= 0 {
		return cl
	}
	return timeoutClassifier{cl: cl, timeout: d}
}

type timeoutClassifier struct {
	cl      Classifier
	timeout time.Duration
}

func (t timeoutClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.cl.Classify(ctx, text)
}

type Settings struct {
	OpenAIAPIKey string
	Model        string
	BlockedWords []string
	Timeout      time.Duration
}

// New builds the classifier chain for s. With neither a word list nor an
// API key it returns Noop.
func New(s Settings) (Classifier, error) {
	var chain Chain

	if len(s.BlockedWords) > 0 {
		wl, err := NewWordListClassifier(s.BlockedWords)
		if err != nil {
			return nil, err
		}
		chain = append(chain, wl)
	}

	if s.OpenAIAPIKey != "" {
		chain = append(chain, WithTimeout(NewOpenAIClassifier(s.OpenAIAPIKey, s.Model), s.Timeout))
	}

	switch len(chain) {
	case 0:
		return Noop{}, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}
