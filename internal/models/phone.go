package models

import "time"

// PhoneRecord is one entry in the rented-number ledger. Records are keyed by
// Number and survive across runs so a paid number can be reused for another
// service inside its reuse window.
type PhoneRecord struct {
	Number       string    `json:"phone_number"`
	CountryCode  string    `json:"country_code"`
	ActivationID string    `json:"activation_id"`
	Services     []string  `json:"services"`
	FirstUsed    time.Time `json:"first_used"`
	LastUsed     time.Time `json:"last_used"`
	TimesUsed    int       `json:"times_used"`
}

// IsStale reports whether the record fell out of the reuse window. Staleness
// is recomputed from FirstUsed on every call, never stored.
func (r *PhoneRecord) IsStale(now time.Time, reuseWindow time.Duration) bool {
	return now.Sub(r.FirstUsed) > reuseWindow
}

// HasService reports whether the number was already burned on the given
// service code.
func (r *PhoneRecord) HasService(service string) bool {
	for _, s := range r.Services {
		if s == service {
			return true
		}
	}
	return false
}

// LedgerStats is the operator view over the ledger.
type LedgerStats struct {
	TotalNumbers     int     `json:"total_numbers"`
	ActiveNumbers    int     `json:"active_numbers"`
	TotalReuses      int     `json:"total_reuses"`
	EstimatedSavings float64 `json:"estimated_savings"`
}
