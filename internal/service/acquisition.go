package service

import (
	"context"
	"errors"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/retry"

	"github.com/sirupsen/logrus"
)

// AcquisitionPolicy decides the next number to use for a verification cycle:
// forced reuse, then ledger reuse, then purchase with the home country
// strictly first and the remaining countries in static priority order.
// Price comparison is deliberately not consulted here; fallback order is
// fixed configuration.
type AcquisitionPolicy struct {
	client      ProviderAPI
	ledger      NumberLedger
	cfg         *config.AcquisitionConfig
	reuseWindow time.Duration
	lifetime    time.Duration
	metrics     *MetricsCollector
	logger      *logrus.Logger
}

func NewAcquisitionPolicy(
	client ProviderAPI,
	ledger NumberLedger,
	cfg *config.AcquisitionConfig,
	ledgerCfg *config.LedgerConfig,
	verifyCfg *config.VerificationConfig,
	metrics *MetricsCollector,
	logger *logrus.Logger,
) *AcquisitionPolicy {
	return &AcquisitionPolicy{
		client:      client,
		ledger:      ledger,
		cfg:         cfg,
		reuseWindow: ledgerCfg.Window(),
		lifetime:    verifyCfg.Lifetime(),
		metrics:     metrics,
		logger:      logger,
	}
}

// NextNumber returns a ready-to-submit activation for the service, either a
// reused ledger record or a fresh purchase. Countries that fail stay excluded
// for the rest of the run. Returns ErrNoNumberAvailable once every candidate
// is exhausted.
func (p *AcquisitionPolicy) NextNumber(ctx context.Context, service string, run *RunState) (*models.Activation, error) {
	if act := p.predefined(service, run); act != nil {
		return act, nil
	}

	if act := p.fromLedger(service); act != nil {
		return act, nil
	}

	return p.purchase(ctx, service, run)
}

// predefined honors an explicit reuse request when the record is still inside
// its reuse window; a stale record falls through to the normal path.
func (p *AcquisitionPolicy) predefined(service string, run *RunState) *models.Activation {
	rec := run.PredefinedNumber
	if rec == nil {
		return nil
	}

	if rec.IsStale(time.Now(), p.reuseWindow) {
		p.logger.Warnf("Predefined number %s is stale, falling back to normal acquisition", rec.Number)
		return nil
	}

	p.logger.Infof("Using predefined number %s (activation %s)", rec.Number, rec.ActivationID)
	return p.activationFromRecord(rec, service)
}

func (p *AcquisitionPolicy) fromLedger(service string) *models.Activation {
	rec, err := p.ledger.ReusableNumber(service)
	if err != nil {
		p.logger.Warnf("Ledger lookup failed: %v", err)
		return nil
	}
	if rec == nil {
		return nil
	}

	p.metrics.IncrementReuse(service)
	p.logger.Infof("Reusing ledger number %s for service %s (used %d times)",
		rec.Number, service, rec.TimesUsed)
	return p.activationFromRecord(rec, service)
}

func (p *AcquisitionPolicy) purchase(ctx context.Context, service string, run *RunState) (*models.Activation, error) {
	if act, err := p.purchaseHome(ctx, service, run); act != nil || err != nil {
		return act, err
	}

	for _, country := range p.cfg.Countries {
		if country.Code == p.cfg.HomeCountry || run.IsExhausted(country.Code) {
			continue
		}

		p.logger.Infof("Trying fallback country %s (%s)", country.Name, country.Code)

		available, err := p.client.GetNumberStatus(ctx, country.Code, service)
		if err != nil {
			// A transport fault says nothing about inventory; the country
			// stays eligible for the next attempt.
			p.logger.Warnf("Availability check failed for %s: %v", country.Name, err)
			continue
		}
		if available <= 0 {
			p.logger.Warnf("No inventory in %s for %s", country.Name, service)
			run.Exhaust(country.Code)
			continue
		}

		act, err := p.buy(ctx, service, country.Code)
		if err != nil {
			if fatalPurchaseError(err) {
				return nil, err
			}
			run.Exhaust(country.Code)
			continue
		}
		return act, nil
	}

	p.logger.Error("All candidate countries exhausted")
	return nil, models.ErrNoNumberAvailable
}

// purchaseHome tries the home country for a fixed number of sub-attempts
// before the policy falls back to the priority list.
func (p *AcquisitionPolicy) purchaseHome(ctx context.Context, service string, run *RunState) (*models.Activation, error) {
	home := p.cfg.HomeCountry
	if home == "" || run.IsExhausted(home) {
		return nil, nil
	}

	var act *models.Activation
	policy := retry.Policy{MaxAttempts: p.cfg.HomeAttempts, Delay: 2 * time.Second}

	err := policy.DoRetryable(ctx, func() error {
		available, err := p.client.GetNumberStatus(ctx, home, service)
		if err != nil {
			return err
		}
		if available <= 0 {
			p.logger.Warnf("No inventory in home country %s", home)
			return models.ErrNoNumbersAvailable
		}

		bought, err := p.buy(ctx, service, home)
		if err != nil {
			return err
		}
		act = bought
		return nil
	}, func(err error) bool {
		// Home inventory fluctuates; keep checking until the sub-attempts
		// are spent. Only fatal account errors cut the loop short.
		return !fatalPurchaseError(err)
	})

	if act != nil {
		return act, nil
	}
	if err != nil && fatalPurchaseError(err) {
		return nil, err
	}

	run.Exhaust(home)
	return nil, nil
}

func (p *AcquisitionPolicy) buy(ctx context.Context, service, country string) (*models.Activation, error) {
	activationID, phoneNumber, err := p.client.BuyNumber(ctx, service, country)
	if err != nil {
		p.metrics.IncrementPurchaseFailed(country, service)
		return nil, err
	}

	p.metrics.IncrementPurchaseSuccess(country, service)
	return &models.Activation{
		ActivationID: activationID,
		PhoneNumber:  phoneNumber,
		CountryCode:  country,
		Service:      service,
		State:        models.StateNumberReceived,
		StartTime:    time.Now(),
		MaxLifetime:  p.lifetime,
	}, nil
}

func (p *AcquisitionPolicy) activationFromRecord(rec *models.PhoneRecord, service string) *models.Activation {
	return &models.Activation{
		ActivationID: rec.ActivationID,
		PhoneNumber:  rec.Number,
		CountryCode:  rec.CountryCode,
		Service:      service,
		State:        models.StateNumberReceived,
		Reused:       true,
		StartTime:    time.Now(),
		MaxLifetime:  p.lifetime,
	}
}

// fatalPurchaseError reports errors that make further country attempts
// pointless in this run.
func fatalPurchaseError(err error) bool {
	return errors.Is(err, models.ErrInsufficientBalance) || errors.Is(err, models.ErrBadKey)
}
