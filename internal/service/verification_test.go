package service

import (
	"context"
	"testing"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/provider"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type VerificationFlowTestSuite struct {
	suite.Suite
	provider *fakeProvider
	ledger   *fakeLedger
	form     *fakeForm
	codes    *fakeCodes
	events   *fakeEvents
	cfg      *config.VerificationConfig
	logger   *logrus.Logger
}

func (s *VerificationFlowTestSuite) SetupTest() {
	s.provider = newFakeProvider()
	s.provider.inventory["73"] = 5
	s.provider.inventory["151"] = 5
	s.provider.inventory["12"] = 5

	s.ledger = &fakeLedger{}
	s.form = &fakeForm{}
	s.codes = &fakeCodes{}
	s.events = &fakeEvents{}

	s.cfg = &config.VerificationConfig{
		MaxPhoneAttempts:   2,
		SMSWaitTimeout:     180,
		SMSPollingInterval: 0,
		InitialSMSPolls:    6,
		MaxResendAttempts:  2,
		MinRemainingBudget: 30,
		ActivationLifetime: 1200,
	}

	s.logger = logrus.New()
	s.logger.SetLevel(logrus.ErrorLevel)
}

func (s *VerificationFlowTestSuite) newFlow() *VerificationFlow {
	policy := NewAcquisitionPolicy(
		s.provider, s.ledger,
		&config.AcquisitionConfig{
			HomeCountry:  "73",
			HomeAttempts: 1,
			Countries: []config.Country{
				{Code: "73", Name: "Brazil"},
				{Code: "151", Name: "Chile"},
				{Code: "12", Name: "USA"},
			},
		},
		&config.LedgerConfig{ReuseWindow: 1200, AveragePrice: 20},
		s.cfg,
		nil,
		s.logger,
	)

	return NewVerificationFlow(
		policy, s.provider, s.ledger, s.form, s.codes, nil, s.events, nil, s.cfg, s.logger,
	)
}

func TestVerificationFlowTestSuite(t *testing.T) {
	suite.Run(t, new(VerificationFlowTestSuite))
}

func (s *VerificationFlowTestSuite) TestZeroBalanceAbortsBeforeAnyPurchase() {
	s.provider.balance = 0

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrInsufficientBalance)
	assert.False(s.T(), report.Success)
	assert.Empty(s.T(), s.provider.buys, "no purchase may happen with an empty balance")
	assert.Empty(s.T(), s.form.numbers)
}

func (s *VerificationFlowTestSuite) TestSuccessOnFirstAttempt() {
	s.provider.waitResults = []waitResult{
		{code: "48291", outcome: provider.CodeReceived},
	}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.Equal(s.T(), 1, report.Attempts)
	assert.Equal(s.T(), "73", report.CountryCode)
	assert.False(s.T(), report.Reused)

	assert.Equal(s.T(), []string{"48291"}, s.form.codes)
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeConfirmed))
	assert.Equal(s.T(), 0, s.provider.statusCount(models.StatusCodeCancel), "a completed activation must never be cancelled")

	require.Len(s.T(), s.ledger.adds, 1, "the ledger is updated exactly once per success")
	assert.Equal(s.T(), report.PhoneNumber, s.ledger.adds[0].number)
	assert.Equal(s.T(), "go", s.ledger.adds[0].service)

	assert.Contains(s.T(), s.events.published, "verification.completed")
}

func (s *VerificationFlowTestSuite) TestSuccessAfterResends() {
	s.provider.waitResults = []waitResult{
		{outcome: provider.CodeTimeout},
		{outcome: provider.CodeTimeout},
		{code: "77001", outcome: provider.CodeReceived},
	}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.Equal(s.T(), 2, s.form.resends)
	assert.Equal(s.T(), []string{"77001"}, s.form.codes)
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeConfirmed))
}

func (s *VerificationFlowTestSuite) TestTimeoutReleasesNumberExactlyOnce() {
	s.cfg.MaxPhoneAttempts = 1
	// No scripted results: every poll burst times out.

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrVerificationFailed)
	assert.False(s.T(), report.Success)

	assert.Equal(s.T(), 2, s.form.resends, "both resend rounds must be used before giving up")
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
	assert.Empty(s.T(), s.ledger.adds)
	assert.Contains(s.T(), s.events.published, "verification.failed")
}

func (s *VerificationFlowTestSuite) TestNoResendBelowMinimumBudget() {
	s.cfg.MaxPhoneAttempts = 1
	// The whole wall budget is already below the resume threshold, so after
	// the initial burst no resend round may start.
	s.cfg.SMSWaitTimeout = 10

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrVerificationFailed)
	assert.False(s.T(), report.Success)

	assert.Equal(s.T(), 0, s.form.resends, "no resend may start below the minimum budget")
	assert.Len(s.T(), s.provider.waitCalls, 1, "only the initial poll burst may run")
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
}

func (s *VerificationFlowTestSuite) TestExpiredActivationStopsResendRounds() {
	s.cfg.MaxPhoneAttempts = 1
	// An already-expired rental gets its initial burst but no resend rounds.
	s.cfg.ActivationLifetime = 0

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrVerificationFailed)
	assert.False(s.T(), report.Success)

	assert.Equal(s.T(), 0, s.form.resends)
	assert.Len(s.T(), s.provider.waitCalls, 1)
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
}

func (s *VerificationFlowTestSuite) TestProviderCancelMovesToNextCountry() {
	s.provider.waitResults = []waitResult{
		{outcome: provider.CodeCancelled},
		{code: "31337", outcome: provider.CodeReceived},
	}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.Equal(s.T(), 2, report.Attempts)

	// First cycle bought in the home country, its failure ruled the country
	// out, the second cycle fell back.
	assert.Equal(s.T(), []string{"73", "151"}, s.provider.buys)
	assert.Equal(s.T(), "151", report.CountryCode)
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
	assert.Len(s.T(), s.ledger.adds, 1)
}

func (s *VerificationFlowTestSuite) TestBothNumberFormatsTried() {
	s.cfg.MaxPhoneAttempts = 1
	s.form.numberResults = []bool{false, false}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrVerificationFailed)
	assert.False(s.T(), report.Success)

	require.Len(s.T(), s.form.numbers, 2)
	assert.Equal(s.T(), "+"+s.form.numbers[0], s.form.numbers[1])
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
}

func (s *VerificationFlowTestSuite) TestPlusFormatAcceptedSecond() {
	s.form.numberResults = []bool{false, true}
	s.provider.waitResults = []waitResult{
		{code: "55555", outcome: provider.CodeReceived},
	}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.Len(s.T(), s.form.numbers, 2)
}

func (s *VerificationFlowTestSuite) TestRejectedCodeIsNeverReguessed() {
	s.cfg.MaxPhoneAttempts = 1
	s.provider.waitResults = []waitResult{
		{code: "11111", outcome: provider.CodeReceived},
	}
	s.form.codeResults = []bool{false}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	assert.ErrorIs(s.T(), err, models.ErrVerificationFailed)
	assert.False(s.T(), report.Success)

	assert.Equal(s.T(), []string{"11111"}, s.form.codes, "exactly one submission per received code")
	assert.Equal(s.T(), 1, s.provider.statusCount(models.StatusCodeCancel))
	assert.Empty(s.T(), s.ledger.adds)
}

func (s *VerificationFlowTestSuite) TestWebhookCodeSkipsPolling() {
	s.codes.code = "90210"

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.Empty(s.T(), s.provider.waitCalls, "a webhook-delivered code must short-circuit polling")
	assert.Equal(s.T(), []string{"90210"}, s.form.codes)
}

func (s *VerificationFlowTestSuite) TestReusedNumberReportedAsReuse() {
	s.ledger.reusable = &models.PhoneRecord{
		Number:       "5511000000009",
		CountryCode:  "73",
		ActivationID: "act-old",
		Services:     []string{"tg"},
	}
	s.provider.waitResults = []waitResult{
		{code: "24680", outcome: provider.CodeReceived},
	}

	report, err := s.newFlow().Verify(context.Background(), "go", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), report.Success)
	assert.True(s.T(), report.Reused)
	assert.Equal(s.T(), "5511000000009", report.PhoneNumber)
	assert.Empty(s.T(), s.provider.buys)
	require.Len(s.T(), s.ledger.adds, 1, "a successful reuse re-records the number")
}

func TestProportionalPolls(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		want      int
	}{
		{"plenty of budget", 180 * time.Second, 6},
		{"half budget", 60 * time.Second, 4},
		{"tight budget", 20 * time.Second, 1},
		{"spent budget", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, proportionalPolls(tt.remaining, 6))
		})
	}
}
