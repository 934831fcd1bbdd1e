package models

import "errors"

// Closed error taxonomy. Callers branch with errors.Is instead of parsing
// provider response strings.
var (
	// ErrProviderUnavailable covers network, HTTP and parse failures
	// talking to the SMS provider.
	ErrProviderUnavailable = errors.New("sms provider unavailable")

	// ErrInsufficientBalance maps the NO_BALANCE provider response.
	ErrInsufficientBalance = errors.New("insufficient provider balance")

	// ErrNoNumbersAvailable maps the NO_NUMBERS provider response for a
	// single country.
	ErrNoNumbersAvailable = errors.New("no numbers available")

	// ErrBadService maps the BAD_SERVICE provider response.
	ErrBadService = errors.New("invalid service code")

	// ErrBadKey maps the BAD_KEY provider response; usually means the API
	// key rotated and the credential file is out of date.
	ErrBadKey = errors.New("invalid provider API key")

	// ErrNoNumberAvailable means every candidate country was exhausted
	// without a purchase. Terminal for the acquisition policy.
	ErrNoNumberAvailable = errors.New("no number available in any country")

	// ErrVerificationTimeout means the SMS never arrived inside the global
	// wall-clock budget. Expected outcome, not a fault.
	ErrVerificationTimeout = errors.New("sms verification timed out")

	// ErrActivationCancelled means the provider cancelled the rental on its
	// side (STATUS_CANCEL). Not retry-worthy for the same activation.
	ErrActivationCancelled = errors.New("activation cancelled by provider")

	// ErrInvalidCodeRejected means the target form rejected the submitted
	// code. Terminal for the activation; codes are never re-guessed.
	ErrInvalidCodeRejected = errors.New("verification code rejected")

	// ErrVerificationFailed is the outer-loop failure after all phone
	// attempts were spent.
	ErrVerificationFailed = errors.New("phone verification failed")
)
