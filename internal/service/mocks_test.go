package service

import (
	"context"
	"fmt"
	"time"

	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/provider"
)

// Hand-rolled fakes: the flow's behavior depends on scripted sequences of
// provider responses, which is awkward to express with call-matching mocks.

type setStatusCall struct {
	id     string
	status int
}

type waitResult struct {
	code    string
	outcome provider.CodeOutcome
	err     error
}

type fakeProvider struct {
	balance    float64
	balanceErr error

	inventory    map[string]int
	inventoryErr map[string]error
	buyErr       map[string]error

	buySeq int
	buys   []string

	waitResults []waitResult
	waitCalls   []int

	statusCalls []setStatusCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		balance:      100,
		inventory:    map[string]int{},
		inventoryErr: map[string]error{},
		buyErr:       map[string]error{},
	}
}

func (f *fakeProvider) GetBalance(ctx context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeProvider) GetNumberStatus(ctx context.Context, country, service string) (int, error) {
	if err := f.inventoryErr[country]; err != nil {
		return 0, err
	}
	return f.inventory[country], nil
}

func (f *fakeProvider) BuyNumber(ctx context.Context, service, country string) (string, string, error) {
	f.buys = append(f.buys, country)
	if err := f.buyErr[country]; err != nil {
		return "", "", err
	}
	f.buySeq++
	return fmt.Sprintf("act-%d", f.buySeq), fmt.Sprintf("55119998877%02d", f.buySeq), nil
}

func (f *fakeProvider) WaitForCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, provider.CodeOutcome, error) {
	f.waitCalls = append(f.waitCalls, maxAttempts)
	if len(f.waitResults) == 0 {
		return "", provider.CodeTimeout, nil
	}
	res := f.waitResults[0]
	f.waitResults = f.waitResults[1:]
	return res.code, res.outcome, res.err
}

func (f *fakeProvider) SetStatus(ctx context.Context, activationID string, status int) bool {
	f.statusCalls = append(f.statusCalls, setStatusCall{id: activationID, status: status})
	return true
}

func (f *fakeProvider) statusCount(status int) int {
	count := 0
	for _, call := range f.statusCalls {
		if call.status == status {
			count++
		}
	}
	return count
}

type addCall struct {
	number       string
	country      string
	activationID string
	service      string
}

type fakeLedger struct {
	reusable *models.PhoneRecord
	adds     []addCall
	stats    models.LedgerStats
}

func (f *fakeLedger) AddNumber(phoneNumber, countryCode, activationID, service string) error {
	f.adds = append(f.adds, addCall{
		number:       phoneNumber,
		country:      countryCode,
		activationID: activationID,
		service:      service,
	})
	return nil
}

func (f *fakeLedger) ReusableNumber(service string) (*models.PhoneRecord, error) {
	rec := f.reusable
	f.reusable = nil
	return rec, nil
}

func (f *fakeLedger) Stats() models.LedgerStats {
	return f.stats
}

type fakeForm struct {
	numberResults []bool
	numberErr     error
	codeResults   []bool
	resendErr     error

	numbers []string
	codes   []string
	resends int
}

func (f *fakeForm) SubmitNumber(ctx context.Context, phoneNumber string) (bool, error) {
	f.numbers = append(f.numbers, phoneNumber)
	if f.numberErr != nil {
		return false, f.numberErr
	}
	if len(f.numberResults) == 0 {
		return true, nil
	}
	res := f.numberResults[0]
	f.numberResults = f.numberResults[1:]
	return res, nil
}

func (f *fakeForm) ResendCode(ctx context.Context) error {
	f.resends++
	return f.resendErr
}

func (f *fakeForm) SubmitCode(ctx context.Context, code string) (bool, error) {
	f.codes = append(f.codes, code)
	if len(f.codeResults) == 0 {
		return true, nil
	}
	res := f.codeResults[0]
	f.codeResults = f.codeResults[1:]
	return res, nil
}

type fakeCodes struct {
	code string
}

func (f *fakeCodes) WebhookCode(ctx context.Context, activationID string) (string, bool) {
	return f.code, f.code != ""
}

type fakeEvents struct {
	published []string
}

func (f *fakeEvents) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	f.published = append(f.published, routingKey)
	return nil
}
