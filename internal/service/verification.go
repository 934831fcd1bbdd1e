package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/provider"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// VerificationFlow drives one complete SMS verification cycle against a
// signup form: acquire a number, submit it, wait for the code inside a global
// wall-clock budget, submit the code, then confirm or release the rental.
// One instance owns at most one in-flight activation at a time.
type VerificationFlow struct {
	policy  *AcquisitionPolicy
	client  ProviderAPI
	ledger  NumberLedger
	form    PhoneForm
	codes   CodeSource
	history HistoryRecorder
	events  EventPublisher
	metrics *MetricsCollector
	cfg     *config.VerificationConfig
	logger  *logrus.Logger
}

func NewVerificationFlow(
	policy *AcquisitionPolicy,
	client ProviderAPI,
	ledger NumberLedger,
	form PhoneForm,
	codes CodeSource,
	history HistoryRecorder,
	events EventPublisher,
	metrics *MetricsCollector,
	cfg *config.VerificationConfig,
	logger *logrus.Logger,
) *VerificationFlow {
	return &VerificationFlow{
		policy:  policy,
		client:  client,
		ledger:  ledger,
		form:    form,
		codes:   codes,
		history: history,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

// Verify runs up to MaxPhoneAttempts full cycles for the service, each with a
// freshly acquired number. The returned report is always non-nil; the error
// carries the terminal failure kind when Success is false.
func (f *VerificationFlow) Verify(ctx context.Context, service string, run *RunState) (*models.VerificationReport, error) {
	if run == nil {
		run = NewRunState()
	}

	report := &models.VerificationReport{
		RunID:     uuid.New().String(),
		Service:   service,
		StartedAt: time.Now(),
	}
	defer f.finishReport(ctx, report)

	balance, err := f.client.GetBalance(ctx)
	if err != nil {
		report.Reason = "balance check failed"
		return report, err
	}
	if balance <= 0 {
		f.logger.Error("Provider balance is empty, aborting before any purchase")
		report.Reason = "insufficient provider balance"
		return report, models.ErrInsufficientBalance
	}
	f.logger.Infof("Provider balance: %.2f", balance)

	for attempt := 1; attempt <= f.cfg.MaxPhoneAttempts; attempt++ {
		report.Attempts = attempt
		f.logger.Infof("Verification attempt %d/%d for service %s", attempt, f.cfg.MaxPhoneAttempts, service)

		act, err := f.policy.NextNumber(ctx, service, run)
		if err != nil {
			if errors.Is(err, models.ErrNoNumberAvailable) || fatalPurchaseError(err) {
				report.Reason = err.Error()
				return report, err
			}
			f.logger.Warnf("Number acquisition failed on attempt %d: %v", attempt, err)
			continue
		}

		if !act.Reused {
			f.publish(ctx, "number.purchased", act)
		}

		if err := f.runCycle(ctx, act, run); err != nil {
			f.logger.Warnf("Verification cycle %d failed: %v", attempt, err)
			if ctx.Err() != nil {
				report.Reason = ctx.Err().Error()
				return report, ctx.Err()
			}
			if attempt < f.cfg.MaxPhoneAttempts {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		report.Success = true
		report.Reason = "phone verified"
		report.PhoneNumber = act.PhoneNumber
		report.CountryCode = act.CountryCode
		report.Reused = act.Reused
		return report, nil
	}

	report.Reason = fmt.Sprintf("all %d phone attempts failed", f.cfg.MaxPhoneAttempts)
	return report, models.ErrVerificationFailed
}

// runCycle performs one acquire-submit-await-confirm cycle. The deferred
// cleanup releases the number exactly once on every non-completed exit; that
// is the resource-safety invariant of the whole flow.
func (f *VerificationFlow) runCycle(ctx context.Context, act *models.Activation, run *RunState) error {
	defer f.cleanup(ctx, act, run)

	if !f.submitNumber(ctx, act) {
		return fmt.Errorf("form rejected number %s in every format", act.PhoneNumber)
	}

	act.State = models.StateWaitingSMS
	code, err := f.awaitCode(ctx, act)
	if err != nil {
		act.State = models.StateFailed
		return err
	}
	act.State = models.StateSMSReceived

	accepted, err := f.form.SubmitCode(ctx, code)
	if err != nil {
		act.State = models.StateFailed
		return fmt.Errorf("code submission failed: %w", err)
	}
	if !accepted {
		// One code attempt per received code; never re-guess.
		act.State = models.StateFailed
		return models.ErrInvalidCodeRejected
	}

	f.client.SetStatus(ctx, act.ActivationID, models.StatusCodeConfirmed)
	act.State = models.StateCompleted

	if err := f.ledger.AddNumber(act.PhoneNumber, act.CountryCode, act.ActivationID, act.Service); err != nil {
		f.logger.Warnf("Failed to persist number %s to ledger: %v", act.PhoneNumber, err)
	}

	f.publish(ctx, "verification.completed", act)
	f.logger.Infof("Phone verification completed with number %s", act.PhoneNumber)
	return nil
}

// submitNumber tries the bare-digit format first, then the plus-prefixed one.
func (f *VerificationFlow) submitNumber(ctx context.Context, act *models.Activation) bool {
	formats := []string{act.PhoneNumber, "+" + act.PhoneNumber}

	for _, format := range formats {
		accepted, err := f.form.SubmitNumber(ctx, format)
		if err != nil {
			f.logger.Warnf("Number submission error for format %q: %v", format, err)
			continue
		}
		if accepted {
			act.State = models.StateNumberSubmitted
			f.logger.Infof("Form accepted number format %q", format)
			return true
		}
		f.logger.Warnf("Form rejected number format %q", format)
	}

	return false
}

// awaitCode waits for the SMS code inside the global wall-clock budget:
// an initial poll burst, then up to MaxResendAttempts resend-and-repoll
// rounds with the poll count shrunk proportionally to the remaining budget.
// No new burst starts once the remaining budget drops below the minimum
// threshold.
func (f *VerificationFlow) awaitCode(ctx context.Context, act *models.Activation) (string, error) {
	start := time.Now()
	budget := f.cfg.WaitBudget()

	if code, ok := f.webhookCode(ctx, act); ok {
		f.metrics.IncrementCodeReceived(act.Service, "webhook")
		return code, nil
	}

	code, outcome, err := f.client.WaitForCode(ctx, act.ActivationID, f.cfg.InitialSMSPolls, f.cfg.PollInterval())
	if err != nil {
		return "", err
	}
	if outcome == provider.CodeCancelled {
		return "", models.ErrActivationCancelled
	}

	via := "poll"
	for resend := 0; code == "" && resend < f.cfg.MaxResendAttempts; resend++ {
		if act.IsExpired(time.Now()) {
			f.logger.Warnf("Activation %s exceeded its lifetime, aborting wait", act.ActivationID)
			break
		}

		remaining := budget - time.Since(start)
		if remaining < f.cfg.MinBudget() {
			f.logger.Warnf("Remaining SMS budget %.0fs below threshold, aborting wait", remaining.Seconds())
			break
		}

		f.logger.Warnf("No SMS yet, requesting a new code (resend %d/%d)", resend+1, f.cfg.MaxResendAttempts)
		if err := f.form.ResendCode(ctx); err != nil {
			f.logger.Warnf("Resend action failed: %v", err)
		}

		if c, ok := f.webhookCode(ctx, act); ok {
			code = c
			via = "webhook"
			break
		}

		attempts := proportionalPolls(budget-time.Since(start), f.cfg.InitialSMSPolls)
		code, outcome, err = f.client.WaitForCode(ctx, act.ActivationID, attempts, f.cfg.PollInterval())
		if err != nil {
			return "", err
		}
		if outcome == provider.CodeCancelled {
			return "", models.ErrActivationCancelled
		}
	}

	if code == "" {
		f.logger.Errorf("No SMS code after %.0fs", time.Since(start).Seconds())
		return "", models.ErrVerificationTimeout
	}

	f.metrics.IncrementCodeReceived(act.Service, via)
	f.metrics.RecordSMSWait(act.Service, time.Since(start).Seconds())
	return code, nil
}

// cleanup releases any non-completed activation exactly once and rules the
// country out for the rest of the run.
func (f *VerificationFlow) cleanup(ctx context.Context, act *models.Activation, run *RunState) {
	if act.State == models.StateCompleted {
		return
	}

	act.State = models.StateFailed
	run.Exhaust(act.CountryCode)

	if !act.MarkCancelled() {
		return
	}

	f.logger.Warnf("Releasing activation %s (number %s)", act.ActivationID, act.PhoneNumber)
	f.client.SetStatus(ctx, act.ActivationID, models.StatusCodeCancel)
	f.metrics.IncrementCancellation(act.Service)
	f.publish(ctx, "verification.failed", act)
}

func (f *VerificationFlow) webhookCode(ctx context.Context, act *models.Activation) (string, bool) {
	if f.codes == nil {
		return "", false
	}
	return f.codes.WebhookCode(ctx, act.ActivationID)
}

func (f *VerificationFlow) publish(ctx context.Context, routingKey string, payload interface{}) {
	if f.events == nil {
		return
	}
	if err := f.events.Publish(ctx, routingKey, payload); err != nil {
		f.logger.Warnf("Failed to publish %s event: %v", routingKey, err)
	}
}

func (f *VerificationFlow) finishReport(ctx context.Context, report *models.VerificationReport) {
	report.Duration = time.Since(report.StartedAt)

	result := "failed"
	if report.Success {
		result = "completed"
	}
	f.metrics.RecordVerificationResult(report.Service, result, report.Duration.Seconds())

	if f.history != nil {
		if err := f.history.RecordReport(ctx, report); err != nil {
			f.logger.Warnf("Failed to record verification report: %v", err)
		}
	}
}

// proportionalPolls shrinks the poll burst to what the remaining budget can
// afford, one poll per 15s of budget, never above the initial burst size.
func proportionalPolls(remaining time.Duration, max int) int {
	polls := int(remaining / (15 * time.Second))
	if polls < 1 {
		polls = 1
	}
	if polls > max {
		polls = max
	}
	return polls
}
