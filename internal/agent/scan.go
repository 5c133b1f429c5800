package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
)

// Finding is one suspicious UI element turned up by an error scan.
type Finding struct {
	Selector   string   `json:"selector"`
	Text       string   `json:"text"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

// errorKeywords are matched case-insensitively against banner text.
var errorKeywords = []string{
	"error",
	"failed",
	"failure",
	"exception",
	"traceback",
	"unavailable",
	"something went wrong",
	"timed out",
}

// ScanForErrors checks the configured banner selectors for visible
// error UI. Hidden elements are skipped, empty banner frames still
// count since apps often render the frame before the message.
func (a *ChatAgent) ScanForErrors(ctx context.Context) []Finding {
	var findings []Finding
	for _, selector := range a.sel.ErrorBanners {
		els, err := a.page.Context(ctx).Elements(selector)
		if err != nil {
			a.log.Debug("[%s] error scan selector %s: %v", a.id, selector, err)
			continue
		}
		for _, el := range els {
			if visible, err := el.Visible(); err != nil || !visible {
				continue
			}
			text, _ := el.Text()
			findings = append(findings, newFinding(selector, strings.TrimSpace(text), bannerAttrs(el)))
		}
	}
	if len(findings) > 0 {
		a.log.Warn("[%s] error scan found %d banner(s)", a.id, len(findings))
	}
	return findings
}

func bannerAttrs(el *rod.Element) map[string]string {
	attrs := make(map[string]string)
	for _, name := range []string{"role", "aria-live"} {
		if v, err := el.Attribute(name); err == nil && v != nil {
			attrs[name] = *v
		}
	}
	return attrs
}

// newFinding scores one banner element. Each independent signal adds
// confidence on top of the 0.5 base, capped at 1.0.
func newFinding(selector, text string, attrs map[string]string) Finding {
	reasons := []string{fmt.Sprintf("matches error selector %s", selector)}
	if kw := matchKeyword(text); kw != "" {
		reasons = append(reasons, fmt.Sprintf("text contains %q", kw))
	}
	if attrs["role"] == "alert" {
		reasons = append(reasons, "element has role=alert")
	}
	if live := attrs["aria-live"]; live == "assertive" || live == "polite" {
		reasons = append(reasons, fmt.Sprintf("element has aria-live=%s", live))
	}

	confidence := 0.5 + float64(len(reasons))*0.15
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Finding{
		Selector:   selector,
		Text:       truncate(text, 256),
		Reasons:    reasons,
		Confidence: confidence,
	}
}

func matchKeyword(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
