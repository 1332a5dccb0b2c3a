package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orbit-app/orbit/internal/capture"
)

type screenshotTool struct {
	capturer capture.Capturer
}

// Screenshot returns the take_screenshot tool.
func Screenshot(c capture.Capturer) Tool {
	return &screenshotTool{capturer: c}
}

func (t *screenshotTool) Name() string { return "take_screenshot" }

func (t *screenshotTool) Description() string {
	return "Take a screenshot of the user's current screen and read its text. Use it when the user asks " +
		"about what is on their screen, mentions visible elements, or asks about their current project."
}

func (t *screenshotTool) Parameters() map[string]any {
	return object(nil, map[string]any{})
}

func (t *screenshotTool) Run(ctx context.Context, _ json.RawMessage) (string, error) {
	a, err := t.capturer.CaptureWithOCR(ctx)
	if err != nil {
		return "", fmt.Errorf("Failed to capture screenshot: %w", err)
	}
	return Describe(a), nil
}

// Describe renders a capture for the model.
func Describe(a *capture.Analysis) string {
	text := strings.TrimSpace(a.Text)
	if text == "" || text == capture.NoTextMessage || strings.Contains(text, "Screenshot captured at") {
		return fmt.Sprintf("I captured a screenshot of your screen (%dx%d pixels). The image shows your current display "+
			"but I couldn't extract readable text from it. This might be because the screen contains mostly graphics, "+
			"images, or non-text content.", a.Width, a.Height)
	}
	return fmt.Sprintf("I captured a screenshot of your screen (%dx%d pixels) and found the following text content:\n\n%s",
		a.Width, a.Height, text)
}
