// Package classify labels a piece of assistant output with a content type
// (poem, code, explanation, example, story, general) using a data-driven
// pattern table plus per-category structural scorers. Classification is pure:
// no I/O, no clock, identical input gives identical output.
package classify

import (
	"fmt"
	"sort"
	"strings"
)

// Result is the outcome of one classification.
type Result struct {
	Type       string
	Confidence float64
	Scores     map[string]float64
	Reasoning  string
}

type Classifier struct {
	rules   []compiledRule
	scorers map[string]scorer
}

// New builds a classifier from a rule table. Pattern compilation errors are
// returned up front so a bad external rules file fails loudly at startup.
func New(rules []CategoryRule) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, fmt.Errorf("classifier rules: %w", err)
	}
	return &Classifier{rules: compiled, scorers: defaultScorers()}, nil
}

// MustDefault returns a classifier over the compiled-in rule table.
func MustDefault() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify scores text against every category and returns the winner. A
// winning score below ConfidenceThreshold degrades to TypeGeneral.
func (c *Classifier) Classify(text string) Result {
	lines := strings.Split(text, "\n")
	scores := make(map[string]float64, len(c.rules))
	matched := make(map[string][]string, len(c.rules))

	for _, rule := range c.rules {
		pattern := 0.0
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				pattern += patternWeight
				matched[rule.name] = append(matched[rule.name], re.String())
			}
		}
		for _, re := range rule.antiPatterns {
			if re.MatchString(text) {
				pattern -= antiPatternWeight
			}
		}
		if pattern < 0 {
			pattern = 0
		}

		structural := 0.0
		if fn, ok := c.scorers[rule.name]; ok {
			structural = fn(text, lines)
		}

		scores[rule.name] = clamp01(pattern + structural)
	}

	winner, best := argmax(scores)
	if best < ConfidenceThreshold {
		return Result{
			Type:       TypeGeneral,
			Confidence: best,
			Scores:     scores,
			Reasoning:  fmt.Sprintf("top score %.2f (%s) below threshold %.2f", best, winner, ConfidenceThreshold),
		}
	}

	return Result{
		Type:       winner,
		Confidence: best,
		Scores:     scores,
		Reasoning:  reasoning(winner, best, matched[winner]),
	}
}

// argmax returns the highest-scoring category. Ties break alphabetically so
// classification stays deterministic across runs.
func argmax(scores map[string]float64) (string, float64) {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	winner := TypeGeneral
	best := 0.0
	for _, name := range names {
		if scores[name] > best {
			winner = name
			best = scores[name]
		}
	}
	return winner, best
}

func reasoning(winner string, score float64, patterns []string) string {
	if len(patterns) == 0 {
		return fmt.Sprintf("%s scored %.2f on structural features", winner, score)
	}
	shown := patterns
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return fmt.Sprintf("%s scored %.2f (patterns: %s)", winner, score, strings.Join(shown, ", "))
}
