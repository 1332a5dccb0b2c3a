// Package capture takes screenshots and extracts their text.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Analysis is the result of one capture.
type Analysis struct {
	Width      int
	Height     int
	Text       string
	CapturedAt time.Time
}

// Capturer captures the screen and runs OCR on it.
type Capturer interface {
	CaptureWithOCR(ctx context.Context) (*Analysis, error)
}

const pathPlaceholder = "{path}"

// NoTextMessage is the text reported when OCR finds nothing.
const NoTextMessage = "No text detected in image"

// Exec captures by running external commands. Arguments equal to "{path}"
// are replaced with the screenshot file path.
type Exec struct {
	ScreenshotCommand []string
	OCRCommand        []string
	// Dir holds screenshots while they are processed.
	Dir string
	// Keep leaves screenshots on disk after OCR.
	Keep bool
}

// DefaultOCRCommand runs tesseract with automatic page segmentation.
var DefaultOCRCommand = []string{"tesseract", pathPlaceholder, "stdout", "-l", "eng", "--psm", "3"}

func (e *Exec) CaptureWithOCR(ctx context.Context) (*Analysis, error) {
	if len(e.ScreenshotCommand) == 0 {
		return nil, fmt.Errorf("no screenshot command configured")
	}

	dir := e.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "orbit_screenshots")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating screenshot directory: %w", err)
	}

	now := time.Now()
	stamp := now.UTC().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("orbit_screenshot_%s_%d.png", stamp, now.UnixNano()))
	if !e.Keep {
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("removing screenshot", "path", path, "error", err)
			}
		}()
	}

	if _, err := run(ctx, e.ScreenshotCommand, path); err != nil {
		return nil, fmt.Errorf("capturing screen: %w", err)
	}

	width, height, err := dimensions(path)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Width: width, Height: height, CapturedAt: now}
	fallback := fmt.Sprintf("Screenshot captured at %s with dimensions %dx%d pixels", stamp, width, height)

	ocr := e.OCRCommand
	if len(ocr) == 0 {
		ocr = DefaultOCRCommand
	}
	out, err := run(ctx, ocr, path)
	switch {
	case err != nil:
		slog.Warn("ocr failed, using fallback description", "error", err)
		analysis.Text = fmt.Sprintf("%s. OCR failed: %v", fallback, err)
	case strings.TrimSpace(out) == "":
		analysis.Text = NoTextMessage
	default:
		analysis.Text = strings.TrimSpace(out)
	}

	slog.Debug("screen captured", "width", width, "height", height, "text_len", len(analysis.Text))
	return analysis, nil
}

func run(ctx context.Context, argv []string, path string) (string, error) {
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = strings.ReplaceAll(a, pathPlaceholder, path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("screenshot was not created: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("reading screenshot: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
