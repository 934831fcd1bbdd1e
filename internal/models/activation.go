package models

import "time"

// VerificationState tracks one activation through the verification cycle.
type VerificationState string

const (
	StateInitial         VerificationState = "initial"
	StateNumberRequested VerificationState = "number_requested"
	StateNumberReceived  VerificationState = "number_received"
	StateNumberSubmitted VerificationState = "number_submitted"
	StateWaitingSMS      VerificationState = "waiting_sms"
	StateSMSReceived     VerificationState = "sms_received"
	StateCompleted       VerificationState = "completed"
	StateFailed          VerificationState = "failed"
)

// Provider-side activation status codes (setStatus action).
const (
	StatusCodeReady     = 1 // number received, waiting for SMS
	StatusCodeEntered   = 3 // code received and entered
	StatusCodeCancel    = 6 // release the number
	StatusCodeConfirmed = 8 // number confirmed as used
)

// Activation is one provider-side rental, owned exclusively by a single
// verification run and discarded when the run ends.
type Activation struct {
	ActivationID string            `json:"activation_id" bson:"activation_id"`
	PhoneNumber  string            `json:"phone_number" bson:"phone_number"`
	CountryCode  string            `json:"country_code" bson:"country_code"`
	Service      string            `json:"service" bson:"service"`
	State        VerificationState `json:"state" bson:"state"`
	Reused       bool              `json:"reused" bson:"reused"`
	Attempts     int               `json:"attempts" bson:"attempts"`
	StartTime    time.Time         `json:"start_time" bson:"start_time"`
	MaxLifetime  time.Duration     `json:"max_lifetime" bson:"max_lifetime"`

	// cancelled guards the at-most-one-cancel invariant; it is run-local
	// state, never persisted.
	cancelled bool
}

// IsExpired reports whether the rental is past its hard lifetime cap.
func (a *Activation) IsExpired(now time.Time) bool {
	return now.Sub(a.StartTime) > a.MaxLifetime
}

// MarkCancelled records that the provider was told to release the number.
// Returns false if a cancel was already recorded.
func (a *Activation) MarkCancelled() bool {
	if a.cancelled {
		return false
	}
	a.cancelled = true
	return true
}

// Cancelled reports whether a provider-side cancel was already issued.
func (a *Activation) Cancelled() bool {
	return a.cancelled
}
