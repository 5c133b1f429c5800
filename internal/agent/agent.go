package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"mcpharness/internal/config"
	"mcpharness/internal/logging"
)

// ErrReplyTimeout is returned by AwaitReply when the transcript never
// matched before the deadline.
var ErrReplyTimeout = errors.New("no matching reply within timeout")

// ChatAgent drives one chat UI page for one scenario.
type ChatAgent struct {
	id         string
	page       *rod.Page
	sel        config.SelectorConfig
	navTimeout time.Duration
	log        *logging.Logger
}

// ID returns the scenario ID the agent serves.
func (a *ChatAgent) ID() string {
	return a.id
}

// Navigate opens the URL and waits for the load event.
func (a *ChatAgent) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := a.page.Context(ctx).Timeout(a.navTimeout).Navigate(url)
	if err == nil {
		err = a.page.Context(ctx).Timeout(a.navTimeout).WaitLoad()
	}
	logging.Audit().AgentNavigate(url, time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Fill types text into the element at selector.
func (a *ChatAgent) Fill(ctx context.Context, selector, text string) error {
	el, err := a.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Input(text)
}

// Click clicks the element at selector.
func (a *ChatAgent) Click(ctx context.Context, selector string) error {
	el, err := a.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// SendMessage types into the chat input and submits. When no send
// button is configured or it cannot be found, Enter in the input
// submits instead.
func (a *ChatAgent) SendMessage(ctx context.Context, text string) error {
	field, err := a.page.Context(ctx).Element(a.sel.Input)
	if err != nil {
		return fmt.Errorf("chat input %s not found: %w", a.sel.Input, err)
	}
	if err := field.Input(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}

	if a.sel.Send != "" {
		if btn, err := a.page.Context(ctx).Element(a.sel.Send); err == nil {
			return btn.Click(proto.InputMouseButtonLeft, 1)
		}
		a.log.Debug("[%s] send button %s not found, pressing Enter", a.id, a.sel.Send)
	}
	return field.Type(input.Enter)
}

// Transcript returns the visible text of the transcript container,
// falling back to the whole body when the selector matches nothing.
func (a *ChatAgent) Transcript(ctx context.Context) (string, error) {
	res, err := a.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(sel) => {
			const el = sel ? document.querySelector(sel) : null;
			const node = el || document.body;
			return node ? node.innerText : '';
		}
		`,
		JSArgs:       []interface{}{a.sel.Transcript},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return res.Value.Str(), nil
}

// AwaitReply polls the transcript until the matcher accepts it or the
// timeout passes. The transcript text seen last is returned either
// way, so failures carry evidence.
func (a *ChatAgent) AwaitReply(ctx context.Context, matcher func(string) bool, label string, poll, timeout time.Duration) (string, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastText string
	var lastErr error
	for {
		text, err := a.Transcript(ctx)
		if err != nil {
			lastErr = err
		} else {
			lastText = text
			lastErr = nil
			if matcher(text) {
				logging.Audit().AgentAwait(label, time.Since(start).Milliseconds(), true)
				a.log.Debug("[%s] await %s matched after %s", a.id, label, time.Since(start).Round(time.Millisecond))
				return text, nil
			}
		}

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			logging.Audit().AgentAwait(label, time.Since(start).Milliseconds(), false)
			return lastText, ctx.Err()
		case <-ticker.C:
		}
	}

	logging.Audit().AgentAwait(label, time.Since(start).Milliseconds(), false)
	if lastErr != nil {
		return lastText, fmt.Errorf("await %s: transcript read failed: %w", label, lastErr)
	}
	return lastText, fmt.Errorf("await %s: %w (%s)", label, ErrReplyTimeout, timeout)
}

// Screenshot captures the viewport to path, creating parent
// directories as needed. Returns the path written.
func (a *ChatAgent) Screenshot(ctx context.Context, path string) (string, error) {
	data, err := a.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	a.log.Debug("[%s] screenshot written to %s", a.id, path)
	return path, nil
}

// PageURL returns the current page URL, empty when unavailable.
func (a *ChatAgent) PageURL() string {
	info, err := a.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close closes the agent's page.
func (a *ChatAgent) Close() error {
	return a.page.Close()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
