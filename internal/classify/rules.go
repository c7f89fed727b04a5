package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	patternWeight     = 0.2
	antiPatternWeight = 0.3
	// ConfidenceThreshold is the minimum winning score; below it the
	// classification degrades to TypeGeneral.
	ConfidenceThreshold = 0.3
)

// Content type labels produced by the classifier.
const (
	TypePoem        = "poem"
	TypeCode        = "code"
	TypeExplanation = "explanation"
	TypeExample     = "example"
	TypeStory       = "story"
	TypeGeneral     = "general"
)

// CategoryRule is one row of the classifier's rule table: a category name,
// positive patterns that add weight, and anti-patterns that subtract it.
// The structural scorer for the category (if any) is matched by name.
type CategoryRule struct {
	Name         string   `yaml:"name"`
	Patterns     []string `yaml:"patterns"`
	AntiPatterns []string `yaml:"antiPatterns"`
}

type ruleFile struct {
	Categories []CategoryRule `yaml:"categories"`
}

// DefaultRules returns the compiled-in rule table.
func DefaultRules() []CategoryRule {
	return []CategoryRule{
		{
			Name: TypePoem,
			Patterns: []string{
				`(?i)\bhaiku\b`,
				`(?i)\b(poem|poetry|verse|stanza)\b`,
				`(?i)\brhyme\b`,
				`(?i)\broses are red\b`,
			},
			AntiPatterns: []string{
				"```",
				`\bfunc\s+\w+\s*\(`,
				`(?i)\berror:\b`,
			},
		},
		{
			Name: TypeCode,
			Patterns: []string{
				"```",
				`\b(func|def|class|import|package|return)\b`,
				`\w+\s*\([^)]*\)\s*\{`,
				`(?i)\b(function|method|variable|snippet)\b`,
			},
			AntiPatterns: []string{
				`(?i)\bonce upon a time\b`,
				`(?i)\bstanza\b`,
			},
		},
		{
			Name: TypeExplanation,
			Patterns: []string{
				`(?i)\bbecause\b`,
				`(?i)\bthis (means|works by|happens when)\b`,
				`(?i)\bin other words\b`,
				`(?i)\b(therefore|essentially|in short)\b`,
			},
		},
		{
			Name: TypeExample,
			Patterns: []string{
				`(?i)\bfor (example|instance)\b`,
				`(?i)\bhere('s| is) an example\b`,
				`(?i)\bsuch as\b`,
				`(?i)\bsample\b`,
			},
		},
		{
			Name: TypeStory,
			Patterns: []string{
				`(?i)\bonce upon a time\b`,
				`(?i)\bthe end\.?\s*$`,
				`(?i)\b(tale|story|chapter)\b`,
				`(?i)\b(she|he|they) (said|replied|whispered)\b`,
			},
			AntiPatterns: []string{
				"```",
			},
		},
	}
}

// LoadRules reads a YAML rule table. Categories with no patterns and no
// anti-patterns are rejected so a truncated file cannot silently disable a
// category.
func LoadRules(path string) ([]CategoryRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rf.Categories) == 0 {
		return nil, fmt.Errorf("parse rules: no categories defined")
	}
	for _, c := range rf.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("parse rules: category with empty name")
		}
		if len(c.Patterns) == 0 && len(c.AntiPatterns) == 0 {
			return nil, fmt.Errorf("parse rules: category %q has no patterns", c.Name)
		}
	}
	return rf.Categories, nil
}

type compiledRule struct {
	name         string
	patterns     []*regexp.Regexp
	antiPatterns []*regexp.Regexp
}

func compileRules(rules []CategoryRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		c := compiledRule{name: r.Name}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %s: %w", p, r.Name, err)
			}
			c.patterns = append(c.patterns, re)
		}
		for _, p := range r.AntiPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile anti-pattern %q for %s: %w", p, r.Name, err)
			}
			c.antiPatterns = append(c.antiPatterns, re)
		}
		out = append(out, c)
	}
	return out, nil
}
