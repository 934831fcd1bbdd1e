// Package browser hosts the playwright side of the system: launching a
// stealth-configured browser and driving the signup form. The verification
// core never imports playwright directly; it only sees the PhoneForm
// interface.
package browser

import (
	"fmt"

	"github.com/avdeenko/simflow/internal/config"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     *config.BrowserConfig
	logger  *logrus.Logger
}

func NewManager(cfg *config.BrowserConfig, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

func (m *Manager) Initialize() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	m.pw = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &m.cfg.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--no-first-run",
			"--disable-gpu",
			"--window-size=1920,1080",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	m.browser = browser

	m.logger.Info("Browser launched")
	return nil
}

// NewSignupPage opens a fresh context on the signup URL and returns a page
// positioned for form interaction. The caller owns the page and must close it.
func (m *Manager) NewSignupPage() (playwright.Page, error) {
	if m.browser == nil {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	context, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	timeout := float64(m.cfg.PageLoadWait().Milliseconds())
	if _, err := page.Goto(m.cfg.SignupURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to open signup page: %w", err)
	}

	return page, nil
}

func (m *Manager) Shutdown() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warnf("Failed to close browser: %v", err)
		}
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			m.logger.Warnf("Failed to stop playwright: %v", err)
		}
	}
}
