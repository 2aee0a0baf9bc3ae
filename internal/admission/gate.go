package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-chatfanout/internal/moderation"
	"github.com/npezzotti/go-chatfanout/internal/store"
)

const (
	DefaultMaxMessages = 100
	DefaultWindow      = 60 * time.Second
)

type Kind int

const (
	Accepted Kind = iota
	RateLimited
	Moderated
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case RateLimited:
		return "rate_limited"
	case Moderated:
		return "moderated"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of admitting one chat message. Content is set for
// Accepted, Categories for Moderated.
type Result struct {
	Kind       Kind
	Content    string
	Categories map[string]bool
}

type Limits struct {
	MaxMessages int
	Window      time.Duration
}

type Gate struct {
	log        *log.Logger
	window     store.RateWindow
	classifier moderation.Classifier
	limits     Limits
	now        func() time.Time
}

func NewGate(logger *log.Logger, window store.RateWindow, classifier moderation.Classifier, limits Limits) *Gate {
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = DefaultMaxMessages
	}
	if limits.Window <= 0 {
		limits.Window = DefaultWindow
	}
	if classifier == nil {
		classifier = moderation.Noop{}
	}

	return &Gate{
		log:        logger,
		window:     window,
		classifier: classifier,
		limits:     limits,
		now:        time.Now,
	}
}

func (g *Gate) Limits() Limits {
	return g.limits
}

// Admit runs the rate check and then moderation for one chat message.
// The attempt is recorded in the window before the ceiling is checked, so
// rejected attempts keep counting against the user.
//
// Moderation failures fail open. The only error returned is a rate window
// failure (wrapping store.ErrUnavailable); the caller owns the retry policy.
func (g *Gate) Admit(ctx context.Context, userId, content string) (Result, error) {
	count, err := g.window.RecordAndCount(ctx, userId, g.now(), g.limits.Window)
	if err != nil {
		return Result{}, fmt.Errorf("rate check for %q: %w", userId, err)
	}

	if count > int64(g.limits.MaxMessages) {
		return Result{Kind: RateLimited}, nil
	}

	verdict, err := g.classifier.Classify(ctx, content)
	if err != nil {
		g.log.Printf("moderation unavailable for %q, allowing message: %v", userId, err)
		verdict = moderation.NotFlagged()
	}

	if verdict.Flagged {
		return Result{Kind: Moderated, Categories: verdict.Categories}, nil
	}

	return Result{Kind: Accepted, Content: content}, nil
}
