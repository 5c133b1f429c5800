package judge

import (
	"context"
	"strings"
	"testing"

	"mcpharness/internal/config"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), config.JudgeConfig{Enabled: true, Model: "gemini-2.5-flash"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("error should mention the API key: %v", err)
	}
}

func TestBuildPromptIncludesAllSections(t *testing.T) {
	prompt := buildPrompt(
		"The reply must mention the current temperature in Celsius.",
		"What's the weather in Oslo?",
		"It is 4°C and cloudy in Oslo right now.",
	)

	for _, want := range []string{
		"Grading criteria:",
		"temperature in Celsius",
		"User message:",
		"weather in Oslo",
		"Assistant reply:",
		"cloudy in Oslo",
		`"pass"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseVerdictPlainJSON(t *testing.T) {
	v, err := parseVerdict(`{"pass": true, "rationale": "mentions temperature", "confidence": 0.92}`)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if !v.Pass {
		t.Error("Pass = false, want true")
	}
	if v.Rationale != "mentions temperature" {
		t.Errorf("Rationale = %q", v.Rationale)
	}
	if v.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", v.Confidence)
	}
}

func TestParseVerdictFencedJSON(t *testing.T) {
	text := "```json\n{\"pass\": false, \"rationale\": \"reply is an apology\", \"confidence\": 0.8}\n```"
	v, err := parseVerdict(text)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if v.Pass {
		t.Error("Pass = true, want false")
	}
	if v.Rationale != "reply is an apology" {
		t.Errorf("Rationale = %q", v.Rationale)
	}
}

func TestParseVerdictWithSurroundingProse(t *testing.T) {
	text := "Here is my assessment:\n{\"pass\": true, \"rationale\": \"ok\", \"confidence\": 1.5}\nLet me know if you need more."
	v, err := parseVerdict(text)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if !v.Pass {
		t.Error("Pass = false, want true")
	}
	if v.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", v.Confidence)
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "no json here", "{not valid json}"} {
		if _, err := parseVerdict(text); err == nil {
			t.Errorf("parseVerdict(%q) should fail", text)
		}
	}
}
