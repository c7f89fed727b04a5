package classify

import (
	"math"
	"regexp"
	"strings"
)

// A scorer inspects structural features of the text and contributes an
// additional 0..1 to its category's score, on top of the pattern table.
type scorer func(text string, lines []string) float64

func defaultScorers() map[string]scorer {
	return map[string]scorer{
		TypePoem:        scorePoemShape,
		TypeCode:        scoreCodeShape,
		TypeExplanation: scoreExplanationShape,
		TypeExample:     scoreCueWords(exampleCues),
		TypeStory:       scoreCueWords(storyCues),
	}
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	codeKeywordRe = regexp.MustCompile(`\b(func|def|class|import|package|return|var|const|if|else|for|while)\b`)
	connectiveRe  = regexp.MustCompile(`(?i)\b(because|therefore|however|consequently|which means|as a result|in other words)\b`)

	poeticVocab = []string{
		"moon", "rain", "heart", "whisper", "shadow", "light", "dream",
		"silent", "gentle", "autumn", "petal", "breeze", "dusk", "dawn",
	}
	exampleCues = []string{"for example", "for instance", "such as", "e.g.", "sample", "like this"}
	storyCues   = []string{"once upon", "one day", "suddenly", "finally", "the end", "long ago"}
)

// scorePoemShape rewards short, regular lines: 3-20 lines, average line
// length 20-70 chars, low variance, plus poetic-vocabulary hits.
func scorePoemShape(text string, lines []string) float64 {
	nonEmpty := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) < 3 || len(nonEmpty) > 20 {
		return 0
	}

	score := 0.3

	total := 0
	for _, l := range nonEmpty {
		total += len(l)
	}
	avg := float64(total) / float64(len(nonEmpty))
	if avg >= 20 && avg <= 70 {
		score += 0.25
	}

	variance := 0.0
	for _, l := range nonEmpty {
		d := float64(len(l)) - avg
		variance += d * d
	}
	variance /= float64(len(nonEmpty))
	if math.Sqrt(variance) < avg*0.6 {
		score += 0.2
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, w := range poeticVocab {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	score += math.Min(float64(hits)*0.08, 0.25)

	return clamp01(score)
}

// scoreCodeShape rewards fenced blocks and bracket/keyword density.
func scoreCodeShape(text string, lines []string) float64 {
	score := 0.0
	if fencedBlockRe.MatchString(text) {
		score += 0.5
	}

	brackets := 0
	for _, r := range text {
		switch r {
		case '{', '}', '(', ')', '[', ']', ';', '=':
			brackets++
		}
	}
	if len(text) > 0 {
		density := float64(brackets) / float64(len(text))
		score += math.Min(density*8, 0.3)
	}

	keywords := len(codeKeywordRe.FindAllString(text, -1))
	score += math.Min(float64(keywords)*0.05, 0.2)

	return clamp01(score)
}

// scoreExplanationShape rewards length plus connective phrases.
func scoreExplanationShape(text string, lines []string) float64 {
	score := 0.0
	switch {
	case len(text) > 600:
		score += 0.3
	case len(text) > 200:
		score += 0.2
	}
	connectives := len(connectiveRe.FindAllString(text, -1))
	score += math.Min(float64(connectives)*0.12, 0.4)
	return clamp01(score)
}

func scoreCueWords(cues []string) scorer {
	return func(text string, lines []string) float64 {
		lower := strings.ToLower(text)
		hits := 0
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				hits++
			}
		}
		return clamp01(float64(hits) * 0.25)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
