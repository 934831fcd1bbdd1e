package service

import (
	"context"
	"time"

	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/provider"
)

// ProviderAPI is the slice of the SMS provider client the core depends on.
type ProviderAPI interface {
	GetBalance(ctx context.Context) (float64, error)
	GetNumberStatus(ctx context.Context, country, service string) (int, error)
	BuyNumber(ctx context.Context, service, country string) (activationID, phoneNumber string, err error)
	WaitForCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, provider.CodeOutcome, error)
	SetStatus(ctx context.Context, activationID string, status int) bool
}

// NumberLedger is the persistent rented-number store.
type NumberLedger interface {
	AddNumber(phoneNumber, countryCode, activationID, service string) error
	ReusableNumber(service string) (*models.PhoneRecord, error)
	Stats() models.LedgerStats
}

// PhoneForm drives the target signup form. Implementations wrap a live
// browser page; tests substitute fakes. Every method reports acceptance by
// the form, not transport success.
type PhoneForm interface {
	// SubmitNumber types the number and advances; returns whether the form
	// accepted it (code entry reachable).
	SubmitNumber(ctx context.Context, phoneNumber string) (bool, error)
	// ResendCode triggers the "get a new code" action.
	ResendCode(ctx context.Context) error
	// SubmitCode enters the received code; returns whether it was accepted.
	SubmitCode(ctx context.Context, code string) (bool, error)
}

// CodeSource exposes codes delivered out-of-band (provider webhooks) so the
// flow can skip HTTP polling when a code already arrived.
type CodeSource interface {
	WebhookCode(ctx context.Context, activationID string) (string, bool)
}

// HistoryRecorder archives terminal run outcomes for statistics. Recording
// failures are logged, never fatal to a run.
type HistoryRecorder interface {
	RecordReport(ctx context.Context, report *models.VerificationReport) error
}

// EventPublisher pushes lifecycle events for external consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}
