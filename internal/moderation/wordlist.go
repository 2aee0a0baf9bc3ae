package moderation

import (
	"context"
	"errors"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

var ErrEmptyWordList = errors.New("word list is empty")

// WordListClassifier flags content containing any blocked term as a whole
// word. Matching is case-insensitive, ignores punctuation inside words and
// undoes common character substitutions.
type WordListClassifier struct {
	matcher *goahocorasick.Machine
}

func NewWordListClassifier(words []string) (*WordListClassifier, error) {
	var patterns [][]rune
	for _, w := range words {
		p, _ := normalize(strings.TrimSpace(w))
		if len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil, ErrEmptyWordList
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}

	return &WordListClassifier{matcher: m}, nil
}

func (c *WordListClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	v := NotFlagged()
	for _, cat := range Categories {
		v.Categories[cat] = false
	}

	norm, leet := normalize(text)
	if len(norm) == 0 {
		return v, nil
	}

	for _, hit := range c.matcher.MultiPatternSearch(norm, false) {
		if !isWordEdge(norm, leet, hit.Pos-1, -1) || !isWordEdge(norm, leet, hit.Pos+len(hit.Word), 1) {
			continue
		}
		v.Flagged = true
		v.Categories[CategoryBlockedTerm] = true
		v.Scores[CategoryBlockedTerm] = 1
		break
	}

	return v, nil
}

// isWordEdge reports whether walking from i in direction dir reaches a space
// or the end of the text crossing only runes substituted for punctuation, so
// that "hell!" still ends on a word edge.
func isWordEdge(norm []rune, leet []bool, i, dir int) bool {
	for ; i >= 0 && i < len(norm); i += dir {
		if norm[i] == ' ' {
			return true
		}
		if !leet[i] {
			return false
		}
	}
	return true
}

// normalize lowercases s, drops punctuation and collapses whitespace runs
// into single spaces that mark word edges. leet[i] is set when out[i] stands
// for a punctuation or symbol character.
func normalize(s string) (out []rune, leet []bool) {
	out = make([]rune, 0, len(s))
	leet = make([]bool, 0, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			if len(out) > 0 && out[len(out)-1] != ' ' {
				out = append(out, ' ')
				leet = append(leet, false)
			}
			continue
		}
		sub := unleet(r)
		if unicode.IsPunct(sub) || unicode.IsSymbol(sub) {
			continue
		}
		out = append(out, unicode.ToLower(sub))
		leet = append(leet, sub != r && (unicode.IsPunct(r) || unicode.IsSymbol(r)))
	}
	if n := len(out); n > 0 && out[n-1] == ' ' {
		out, leet = out[:n-1], leet[:n-1]
	}
	return out, leet
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
