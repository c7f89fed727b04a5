package memory

import (
	"fmt"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Write a haiku about the ocean", []string{"haiku", "ocean"}},
		{"THE OCEAN, the ocean!", []string{"ocean"}},
		{"", nil},
		{"of a to", nil},
		{"what did you just write?", nil},
		{"line 42 of main.go", []string{"line", "main"}},
	}
	for _, tt := range tests {
		got := tokenize(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtractTopicsCapped(t *testing.T) {
	var long string
	for i := 0; i < 40; i++ {
		long += fmt.Sprintf("word%02d ", i)
	}
	topics := extractTopics("short question here", long)
	if len(topics) > maxTopics {
		t.Errorf("got %d topics, cap is %d", len(topics), maxTopics)
	}
	// User-message tokens come first and are never displaced.
	if topics[0] != "short" {
		t.Errorf("topics[0] = %q, want short", topics[0])
	}
}

func TestExtractTopicsDeduplicates(t *testing.T) {
	topics := extractTopics("poem about autumn", "autumn poem, more autumn")
	counts := make(map[string]int)
	for _, topic := range topics {
		counts[topic]++
	}
	for topic, n := range counts {
		if n > 1 {
			t.Errorf("topic %q appears %d times", topic, n)
		}
	}
}

func TestOverlapRatio(t *testing.T) {
	topics := []string{"poem", "autumn", "leaves"}
	tests := []struct {
		query []string
		want  float64
	}{
		{[]string{"poem"}, 1},
		{[]string{"poem", "winter"}, 0.5},
		{[]string{"winter"}, 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := overlapRatio(tt.query, topics); got != tt.want {
			t.Errorf("overlapRatio(%v) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("12345678"); got != 2 {
		t.Errorf("estimateTokens = %d, want 2", got)
	}
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens empty = %d, want 0", got)
	}
}
