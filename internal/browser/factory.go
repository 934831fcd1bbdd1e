package browser

import (
	"context"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/service"

	"github.com/sirupsen/logrus"
)

// FormFactory opens a fresh signup page per verification run and wraps it in
// a SignupForm.
type FormFactory struct {
	manager *Manager
	cfg     *config.BrowserConfig
	logger  *logrus.Logger
}

func NewFormFactory(manager *Manager, cfg *config.BrowserConfig, logger *logrus.Logger) *FormFactory {
	return &FormFactory{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
}

func (f *FormFactory) NewForm(ctx context.Context) (service.PhoneForm, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	page, err := f.manager.NewSignupPage()
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		if err := page.Context().Close(); err != nil {
			f.logger.Warnf("Failed to close browser context: %v", err)
		}
	}

	return NewSignupForm(page, f.cfg, f.logger), release, nil
}
