package service

import "github.com/avdeenko/simflow/internal/models"

// RunState is the per-run scratch shared between the acquisition policy and
// the verification flow. A fresh state is created for every top-level
// account-creation attempt; exhaustion never leaks across runs.
type RunState struct {
	exhausted map[string]struct{}

	// PredefinedNumber forces reuse of a specific ledger record, bypassing
	// both the ledger query and any purchase.
	PredefinedNumber *models.PhoneRecord
}

func NewRunState() *RunState {
	return &RunState{
		exhausted: make(map[string]struct{}),
	}
}

// Exhaust excludes a country from further purchase attempts in this run.
func (r *RunState) Exhaust(countryCode string) {
	r.exhausted[countryCode] = struct{}{}
}

// IsExhausted reports whether the country was already ruled out.
func (r *RunState) IsExhausted(countryCode string) bool {
	_, ok := r.exhausted[countryCode]
	return ok
}

// ExhaustedCount returns how many countries were ruled out so far.
func (r *RunState) ExhaustedCount() int {
	return len(r.exhausted)
}
