// Package judge grades chat replies against free-form scenario criteria
// using a Gemini model. Grading is advisory: callers must degrade a
// grading failure to a warning, never to a scenario error, so a run
// stays green when the API is unreachable.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"mcpharness/internal/config"
	"mcpharness/internal/logging"
)

// Verdict is the grader's answer for one reply.
type Verdict struct {
	Pass       bool    `json:"pass"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Grader evaluates replies with the Gemini API.
type Grader struct {
	client *genai.Client
	model  string
}

// New creates a grader from the judge configuration.
func New(ctx context.Context, cfg config.JudgeConfig) (*Grader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("judge API key is required (set GEMINI_API_KEY)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logging.Judge("grader ready (model=%s)", model)
	return &Grader{client: client, model: model}, nil
}

// Model returns the model name used for grading.
func (g *Grader) Model() string {
	return g.model
}

// Grade asks the model whether reply satisfies criteria. The user
// message that prompted the reply is included for context.
func (g *Grader) Grade(ctx context.Context, scenarioID, criteria, message, reply string) (*Verdict, error) {
	start := time.Now()

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(criteria, message, reply), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	verdict, err := parseVerdict(responseText(resp))
	if err != nil {
		return nil, err
	}

	label := "fail"
	if verdict.Pass {
		label = "pass"
	}
	elapsed := time.Since(start).Milliseconds()
	logging.Audit().JudgeEval(scenarioID, label, elapsed)
	logging.Judge("graded %s: %s (confidence=%.2f) in %dms", scenarioID, label, verdict.Confidence, elapsed)

	return verdict, nil
}

// Close releases the grader. The google.golang.org/genai client is a
// stateless HTTP wrapper with no closable resources, so there is
// nothing to do.
func (g *Grader) Close() error {
	return nil
}

// buildPrompt assembles the grading prompt. The model is told to
// answer with bare JSON so parseVerdict stays simple.
func buildPrompt(criteria, message, reply string) string {
	var b strings.Builder
	b.WriteString("You are grading a chat assistant's reply in an automated test.\n\n")
	b.WriteString("Grading criteria:\n")
	b.WriteString(criteria)
	b.WriteString("\n\nUser message:\n")
	b.WriteString(message)
	b.WriteString("\n\nAssistant reply:\n")
	b.WriteString(reply)
	b.WriteString("\n\nDoes the reply satisfy the criteria? Respond with JSON only, no prose:\n")
	b.WriteString(`{"pass": true or false, "rationale": "one sentence", "confidence": 0.0 to 1.0}`)
	return b.String()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// parseVerdict extracts the verdict JSON from model output. Models
// sometimes wrap JSON in markdown fences or surrounding prose despite
// instructions, so the parser cuts from the first '{' to the last '}'.
func parseVerdict(text string) (*Verdict, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("judge returned an empty response")
	}

	open := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if open < 0 || end < open {
		return nil, fmt.Errorf("judge response contains no JSON object: %q", truncate(s, 120))
	}

	var v Verdict
	if err := json.Unmarshal([]byte(s[open:end+1]), &v); err != nil {
		return nil, fmt.Errorf("failed to parse judge verdict: %w", err)
	}

	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return &v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
