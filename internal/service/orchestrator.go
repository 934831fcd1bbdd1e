package service

import (
	"context"
	"errors"
	"sync"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when a verification run is requested while
// another one still holds the browser.
var ErrRunInProgress = errors.New("a verification run is already in progress")

// FormFactory produces a fresh signup form for each run. The returned
// release function closes the underlying page.
type FormFactory interface {
	NewForm(ctx context.Context) (PhoneForm, func(), error)
}

// Orchestrator serializes verification runs over a single browser. Each run
// gets its own page, flow and run state; shared state lives in the ledger
// and the provider client.
type Orchestrator struct {
	mu sync.Mutex

	forms   FormFactory
	policy  *AcquisitionPolicy
	client  ProviderAPI
	ledger  NumberLedger
	codes   CodeSource
	history HistoryRecorder
	events  EventPublisher
	metrics *MetricsCollector
	cfg     *config.VerificationConfig
	logger  *logrus.Logger
}

func NewOrchestrator(
	forms FormFactory,
	policy *AcquisitionPolicy,
	client ProviderAPI,
	ledger NumberLedger,
	codes CodeSource,
	history HistoryRecorder,
	events EventPublisher,
	metrics *MetricsCollector,
	cfg *config.VerificationConfig,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		forms:   forms,
		policy:  policy,
		client:  client,
		ledger:  ledger,
		codes:   codes,
		history: history,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one verification run for the service. A non-nil predefined
// record forces reuse of that number. Concurrent calls are rejected rather
// than queued.
func (o *Orchestrator) Run(ctx context.Context, service string, predefined *models.PhoneRecord) (*models.VerificationReport, error) {
	if !o.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	form, release, err := o.forms.NewForm(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	flow := NewVerificationFlow(
		o.policy,
		o.client,
		o.ledger,
		form,
		o.codes,
		o.history,
		o.events,
		o.metrics,
		o.cfg,
		o.logger,
	)

	run := NewRunState()
	run.PredefinedNumber = predefined

	return flow.Verify(ctx, service, run)
}
