package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/avdeenko/simflow/internal/config"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// SignupForm drives the phone-verification step of the signup page. It
// implements the PhoneForm contract used by the verification flow:
// submit a phone number, request a resend, submit a received code.
type SignupForm struct {
	page   playwright.Page
	cfg    *config.BrowserConfig
	logger *logrus.Logger
}

func NewSignupForm(page playwright.Page, cfg *config.BrowserConfig, logger *logrus.Logger) *SignupForm {
	return &SignupForm{
		page:   page,
		cfg:    cfg,
		logger: logger,
	}
}

func (f *SignupForm) actionTimeout() *float64 {
	return playwright.Float(float64(f.cfg.ActionWait().Milliseconds()))
}

// SubmitNumber types the number into the phone field and advances the form.
// Returns false without error when the page rejects the number format, so
// the caller can retry with an alternate representation.
func (f *SignupForm) SubmitNumber(ctx context.Context, number string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	phoneInput := f.page.Locator("input[type='tel']").First()
	if err := phoneInput.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: f.actionTimeout(),
	}); err != nil {
		return false, fmt.Errorf("phone input not found: %w", err)
	}

	if err := phoneInput.Clear(); err != nil {
		return false, fmt.Errorf("failed to clear phone input: %w", err)
	}
	if err := phoneInput.Type(number, playwright.LocatorTypeOptions{
		Delay: playwright.Float(50),
	}); err != nil {
		return false, fmt.Errorf("failed to type phone number: %w", err)
	}

	if err := f.clickNext(); err != nil {
		return false, err
	}

	// The page either advances to the code entry step or stays put with an
	// inline validation error under the field.
	codeInput := f.page.Locator("input[name='code'], input[id*='code']").First()
	if err := codeInput.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: f.actionTimeout(),
	}); err == nil {
		f.logger.WithField("number", number).Debug("Phone number accepted")
		return true, nil
	}

	if msg := f.errorText(); msg != "" {
		f.logger.WithFields(logrus.Fields{
			"number": number,
			"error":  msg,
		}).Warn("Phone number rejected by form")
		return false, nil
	}

	return false, nil
}

// ResendCode clicks the resend control on the code entry step.
func (f *SignupForm) ResendCode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resend := f.page.Locator("button:has-text('Get a new code'), button:has-text('Resend')").First()
	if err := resend.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: f.actionTimeout(),
	}); err != nil {
		return fmt.Errorf("resend control not found: %w", err)
	}
	if err := resend.Click(); err != nil {
		return fmt.Errorf("failed to click resend: %w", err)
	}

	f.logger.Debug("Requested code resend")
	return nil
}

// SubmitCode enters the verification code and advances. Returns false
// without error when the page reports the code as invalid.
func (f *SignupForm) SubmitCode(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	codeInput := f.page.Locator("input[name='code'], input[id*='code']").First()
	if err := codeInput.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: f.actionTimeout(),
	}); err != nil {
		return false, fmt.Errorf("code input not found: %w", err)
	}

	if err := codeInput.Clear(); err != nil {
		return false, fmt.Errorf("failed to clear code input: %w", err)
	}
	if err := codeInput.Type(code, playwright.LocatorTypeOptions{
		Delay: playwright.Float(80),
	}); err != nil {
		return false, fmt.Errorf("failed to type code: %w", err)
	}

	if err := f.clickNext(); err != nil {
		return false, err
	}

	if msg := f.errorText(); msg != "" && containsAny(msg, "wrong", "invalid", "try again") {
		f.logger.WithField("error", msg).Warn("Verification code rejected")
		return false, nil
	}

	f.logger.Debug("Verification code accepted")
	return true, nil
}

func (f *SignupForm) clickNext() error {
	next := f.page.Locator("button:has-text('Next'), button[type='submit']").First()
	if err := next.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: f.actionTimeout(),
	}); err != nil {
		return fmt.Errorf("next button not found: %w", err)
	}
	if err := next.Click(); err != nil {
		return fmt.Errorf("failed to click next: %w", err)
	}
	return nil
}

// errorText reads the inline validation banner if one is showing.
func (f *SignupForm) errorText() string {
	banner := f.page.Locator("[aria-live='assertive'], [aria-live='polite'], div[role='alert']").First()
	visible, err := banner.IsVisible()
	if err != nil || !visible {
		return ""
	}
	text, err := banner.TextContent()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
