package models

import "time"

// VerificationReport is the operator-facing result of one verification run.
// Intermediate retries stay in the logs; the report carries only the final
// outcome and a human-readable reason.
type VerificationReport struct {
	RunID         string        `json:"run_id" bson:"run_id"`
	Service       string        `json:"service" bson:"service"`
	Success       bool          `json:"success" bson:"success"`
	Reason        string        `json:"reason" bson:"reason"`
	PhoneNumber   string        `json:"phone_number,omitempty" bson:"phone_number,omitempty"`
	CountryCode   string        `json:"country_code,omitempty" bson:"country_code,omitempty"`
	Reused        bool          `json:"reused" bson:"reused"`
	Attempts      int           `json:"attempts" bson:"attempts"`
	StartedAt     time.Time     `json:"started_at" bson:"started_at"`
	Duration      time.Duration `json:"duration" bson:"duration"`
}

// CountryPrice is one row of the advisory price comparison.
type CountryPrice struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	Price       float64 `json:"price"`
	Available   int     `json:"available"`
}
