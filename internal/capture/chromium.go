package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "calsched/internal/log"
)

// DefaultTimeout bounds one capture when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// readySelector is set on the /calendar root once the grid is rendered.
const readySelector = `[data-ready="true"]`

// Options defines one month-view snapshot.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar?month=2024-03".
	URL string

	// OutputPath is where the PNG is written. Its directory is created.
	OutputPath string

	// Viewport size in pixels.
	Width  int
	Height int

	Timeout time.Duration
}

// SnapshotPNG opens opts.URL in headless Chromium, waits for the calendar
// to report data-ready="true" and writes a full-page PNG to
// opts.OutputPath. It returns the number of bytes written.
func SnapshotPNG(parentCtx context.Context, opts Options) (int, error) {
	if opts.URL == "" {
		return 0, fmt.Errorf("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return 0, fmt.Errorf("capture: OutputPath is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return 0, fmt.Errorf("capture: invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(opts.Width, opts.Height),
			chromedp.Flag("hide-scrollbars", true),
		)...,
	)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}

	started := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return 0, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return 0, fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("snapshot written",
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
	)
	return len(png), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
