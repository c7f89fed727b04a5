package memory

import (
	"testing"

	"github.com/stellarlinkco/recall/internal/classify"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message        string
		kind           intentKind
		contentType    string
		explicitType   bool
		singleArtifact bool
	}{
		{
			message: "tell me about glaciers",
			kind:    intentDefault,
		},
		{
			message:      "show me the poem that you wrote yesterday",
			kind:         intentDefault,
			contentType:  classify.TypePoem,
			explicitType: true, singleArtifact: true,
		},
		{
			message:      "read back the haiku you just wrote",
			kind:         intentRecency,
			contentType:  classify.TypePoem,
			explicitType: true, singleArtifact: true,
		},
		{
			message: "show me the one you just wrote",
			kind:    intentRecency,
		},
		{
			message:      "what was the second line of the poem you just wrote?",
			kind:         intentLine,
			contentType:  classify.TypePoem,
			explicitType: true, singleArtifact: true,
		},
		{
			message:      "give me line 3 of that script you made",
			kind:         intentLine,
			contentType:  classify.TypeCode,
			explicitType: true,
		},
		{
			message:      "what's the 2nd verse?",
			kind:         intentLine,
			contentType:  classify.TypePoem,
			explicitType: true,
		},
		{
			message:      "earlier you wrote a story about a fox",
			kind:         intentRecency,
			contentType:  classify.TypeStory,
			explicitType: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := detectIntent(tt.message)
			if got.kind != tt.kind {
				t.Errorf("kind = %v, want %v", got.kind, tt.kind)
			}
			if got.contentType != tt.contentType {
				t.Errorf("contentType = %q, want %q", got.contentType, tt.contentType)
			}
			if got.explicitType != tt.explicitType {
				t.Errorf("explicitType = %v, want %v", got.explicitType, tt.explicitType)
			}
			if got.singleArtifact != tt.singleArtifact {
				t.Errorf("singleArtifact = %v, want %v", got.singleArtifact, tt.singleArtifact)
			}
		})
	}
}

func TestRecencySensitive(t *testing.T) {
	if (queryIntent{kind: intentDefault}).recencySensitive() {
		t.Error("default intent should not be recency sensitive")
	}
	if !(queryIntent{kind: intentRecency}).recencySensitive() {
		t.Error("recency intent should be recency sensitive")
	}
	if !(queryIntent{kind: intentLine}).recencySensitive() {
		t.Error("line intent should be recency sensitive")
	}
}

func TestArtifactType(t *testing.T) {
	for _, typ := range []string{classify.TypePoem, classify.TypeCode, classify.TypeStory, classify.TypeExample} {
		if !artifactType(typ) {
			t.Errorf("artifactType(%q) = false", typ)
		}
	}
	for _, typ := range []string{classify.TypeExplanation, classify.TypeGeneral, ""} {
		if artifactType(typ) {
			t.Errorf("artifactType(%q) = true", typ)
		}
	}
}
