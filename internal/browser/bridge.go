package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"

	"agentgate/internal/domain"
)

const maxTextBytes = 4096

// Bridge drives a Chrome instance for the browser_open action. A single
// profile directory is shared by every run, which is why callers hold the
// "browser" resource lease while using it.
type Bridge struct {
	profileDir string
	headless   bool
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".agentgate", "chrome-profile")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		logger:     cfg.Logger,
	}
}

// NewContext creates a chromedp context bound to parent. Cancelling parent
// (for example when the action deadline passes) shuts the browser down.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parent context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// Page is what a visit returns.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
}

// Visit opens rawURL, waits for the body and returns the title and a
// truncated text excerpt. Only http and https URLs are accepted.
func (b *Bridge) Visit(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: only http(s) is allowed", rawURL)
	}

	taskCtx, cancel := b.NewContext(ctx)
	defer cancel()

	var page Page
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body"),
		chromedp.Title(&page.Title),
		chromedp.Location(&page.URL),
		chromedp.Text("body", &page.Text, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, domain.Infrastructure(fmt.Errorf("chrome not available: %w", err))
		}
		return nil, fmt.Errorf("visit %s: %w", u, err)
	}

	page.Text = strings.TrimSpace(page.Text)
	if len(page.Text) > maxTextBytes {
		page.Text = page.Text[:maxTextBytes] + "..."
	}
	b.logger.Debug("browser visit complete", "url", page.URL, "title", page.Title)
	return &page, nil
}
