package pipeline

import (
	"testing"

	"google.golang.org/genai"
)

func TestCandidateText(t *testing.T) {
	content := &genai.Content{
		Parts: []*genai.Part{
			{Text: "[{\"question\":\"What floats?\","},
			nil,
			{Text: "\"answer\":\"Ships.\"}]"},
		},
	}

	got := candidateText(content)
	want := `[{"question":"What floats?","answer":"Ships."}]`
	if got != want {
		t.Fatalf("candidateText = %q, want %q", got, want)
	}

	pairs, err := parseQAPairs(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Answer != "Ships." {
		t.Fatalf("unexpected pairs: %+v", pairs)
	}
}

func TestCandidateTextEmptyContent(t *testing.T) {
	if got := candidateText(&genai.Content{}); got != "" {
		t.Fatalf("candidateText on empty content = %q", got)
	}
}
