package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"google.golang.org/genai"

	"linkhoard/internal/models"
)

// qaPromptTemplate asks for machine-parseable output only. The model
// answer is parsed as a bare JSON array of {question, answer}.
const qaPromptTemplate = `You are indexing a personal bookmark library.
From the page below, write 3 to 5 question/answer pairs that capture what
the page is useful for, so the owner can find it again by asking questions.

Title: {{.Title}}

Content:
{{.Text}}

Respond with a JSON array only, no prose, in the form:
[{"question": "...", "answer": "..."}]`

type qaPromptData struct {
	Title string
	Text  string
}

// GeminiGenerator produces Q&A pairs with the Gemini API. Transient
// API failures are returned as-is; the queue engine owns retries, so
// there is no inner retry loop here.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	prompt *template.Template
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key cannot be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	prompt, err := template.New("qa").Parse(qaPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse qa prompt template: %w", err)
	}

	return &GeminiGenerator{client: client, model: model, prompt: prompt}, nil
}

// Generate builds the prompt and asks the model for Q&A pairs.
func (g *GeminiGenerator) Generate(ctx context.Context, title, text string) ([]models.QAPair, error) {
	if text == "" {
		return nil, fmt.Errorf("empty page text")
	}

	var buf bytes.Buffer
	if err := g.prompt.Execute(&buf, qaPromptData{Title: title, Text: text}); err != nil {
		return nil, fmt.Errorf("execute qa prompt template: %w", err)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buf.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini call: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no content")
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("gemini blocked content by safety filters")
	}

	pairs, err := parseQAPairs(candidateText(resp.Candidates[0].Content))
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// candidateText concatenates the text parts of one candidate's
// content, skipping non-text parts.
func candidateText(c *genai.Content) string {
	var b strings.Builder
	for _, part := range c.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// parseQAPairs tolerates markdown code fences around the JSON array,
// which models emit despite instructions not to.
func parseQAPairs(raw string) ([]models.QAPair, error) {
	start := bytes.IndexByte([]byte(raw), '[')
	end := bytes.LastIndexByte([]byte(raw), ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in model response")
	}
	var pairs []models.QAPair
	if err := json.Unmarshal([]byte(raw[start:end+1]), &pairs); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return pairs, nil
}
