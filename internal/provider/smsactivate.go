package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/retry"

	"github.com/sirupsen/logrus"
)

// CodeOutcome is the explicit three-way result of waiting for an SMS code.
// A provider-side cancel is not retry-worthy; a timeout is.
type CodeOutcome int

const (
	CodeReceived CodeOutcome = iota
	CodeTimeout
	CodeCancelled
)

// Price is one cell of the provider price/availability table.
type Price struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}

// Client wraps the sms-activate query-string API. It holds no activation
// state; the API key is re-read from the credential store immediately before
// every request so out-of-band rotation never causes silent auth failures.
type Client struct {
	creds   *CredentialStore
	keyName string
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewClient(cfg *config.ProviderConfig, creds *CredentialStore, logger *logrus.Logger) *Client {
	return &Client{
		creds:   creds,
		keyName: cfg.APIKeyName,
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
		logger: logger,
	}
}

// GetBalance returns the current account credit in provider currency.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	resp, err := c.makeRequest(ctx, url.Values{"action": {"getBalance"}})
	if err != nil {
		return 0, err
	}

	// Response: ACCESS_BALANCE:100.50
	if !strings.HasPrefix(resp, "ACCESS_BALANCE:") {
		c.logger.Errorf("Unexpected balance response: %s", resp)
		return 0, fmt.Errorf("%w: unexpected balance response %q", models.ErrProviderUnavailable, resp)
	}

	balance, err := strconv.ParseFloat(strings.TrimPrefix(resp, "ACCESS_BALANCE:"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed balance %q", models.ErrProviderUnavailable, resp)
	}

	return balance, nil
}

// GetPrices returns the price/availability table, optionally filtered to one
// service code.
func (c *Client) GetPrices(ctx context.Context, service string) (map[string]map[string]Price, error) {
	resp, err := c.makeRequest(ctx, url.Values{"action": {"getPrices"}})
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]struct {
		Cost  json.Number `json:"cost"`
		Count json.Number `json:"count"`
	}
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		c.logger.Errorf("Failed to parse prices response: %v", err)
		return nil, fmt.Errorf("%w: malformed prices response", models.ErrProviderUnavailable)
	}

	prices := make(map[string]map[string]Price)
	for country, services := range raw {
		for srv, cell := range services {
			if service != "" && srv != service {
				continue
			}
			cost, _ := cell.Cost.Float64()
			count, _ := cell.Count.Int64()
			if prices[country] == nil {
				prices[country] = make(map[string]Price)
			}
			prices[country][srv] = Price{Cost: cost, Count: int(count)}
		}
	}

	return prices, nil
}

// GetNumberStatus returns the available inventory count for a service in a
// country; 0 means unavailable.
func (c *Client) GetNumberStatus(ctx context.Context, country, service string) (int, error) {
	params := url.Values{
		"action":  {"getNumbersStatus"},
		"country": {country},
	}

	resp, err := c.makeRequest(ctx, params)
	if err != nil {
		return 0, err
	}

	var counts map[string]json.Number
	if err := json.Unmarshal([]byte(resp), &counts); err != nil {
		c.logger.Errorf("Failed to parse numbers status response: %v", err)
		return 0, fmt.Errorf("%w: malformed status response", models.ErrProviderUnavailable)
	}

	count, _ := counts[service].Int64()
	return int(count), nil
}

// BuyNumber purchases a number for service in country. The provider charges
// the account immediately on success.
func (c *Client) BuyNumber(ctx context.Context, service, country string) (activationID, phoneNumber string, err error) {
	params := url.Values{
		"action":  {"getNumber"},
		"service": {service},
		"country": {country},
	}

	resp, err := c.makeRequest(ctx, params)
	if err != nil {
		return "", "", err
	}

	// Response: ACCESS_NUMBER:<id>:<phone>
	if strings.HasPrefix(resp, "ACCESS_NUMBER:") {
		parts := strings.Split(resp, ":")
		if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
			return "", "", fmt.Errorf("%w: incomplete number response %q", models.ErrProviderUnavailable, resp)
		}
		activationID = strings.TrimSpace(parts[1])
		phoneNumber = strings.TrimSpace(parts[2])
		c.logger.Infof("Purchased number %s (activation %s) in country %s", phoneNumber, activationID, country)
		return activationID, phoneNumber, nil
	}

	switch {
	case strings.Contains(resp, "NO_NUMBERS"):
		err = models.ErrNoNumbersAvailable
	case strings.Contains(resp, "NO_BALANCE"):
		err = models.ErrInsufficientBalance
	case strings.Contains(resp, "BAD_SERVICE"):
		err = models.ErrBadService
	case strings.Contains(resp, "BAD_KEY"):
		err = models.ErrBadKey
	default:
		err = fmt.Errorf("%w: unexpected purchase response %q", models.ErrProviderUnavailable, resp)
	}

	c.logger.Warnf("Purchase failed for service %s in country %s: %v", service, country, err)
	return "", "", err
}

// errWaitCode marks a poll that found no code yet; it never leaves WaitForCode.
var errWaitCode = errors.New("still waiting for code")

// WaitForCode polls the activation status up to maxAttempts times with the
// given interval. Timeout and provider-side cancellation are distinct, normal
// outcomes; only transport-level trouble on the final attempt is an error.
func (c *Client) WaitForCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, CodeOutcome, error) {
	var code string
	outcome := CodeTimeout

	policy := retry.Policy{MaxAttempts: maxAttempts, Delay: interval}
	err := policy.DoRetryable(ctx, func() error {
		status, err := c.getStatus(ctx, activationID)
		if err != nil {
			c.logger.Warnf("Status poll failed for activation %s: %v", activationID, err)
			return errWaitCode
		}

		switch {
		case strings.HasPrefix(status, "STATUS_OK:"):
			code = strings.TrimPrefix(status, "STATUS_OK:")
			outcome = CodeReceived
			// Acknowledge receipt so the provider stops resending.
			c.SetStatus(ctx, activationID, models.StatusCodeEntered)
			return nil
		case strings.HasPrefix(status, "STATUS_CANCEL"):
			outcome = CodeCancelled
			return nil
		default:
			return errWaitCode
		}
	}, func(err error) bool {
		return errors.Is(err, errWaitCode)
	})

	if err != nil {
		if errors.Is(err, errWaitCode) {
			c.logger.Warnf("No SMS received for activation %s after %d polls", activationID, maxAttempts)
			return "", CodeTimeout, nil
		}
		// Context cancellation surfaces as a timeout-equivalent outcome.
		return "", CodeTimeout, err
	}

	return code, outcome, nil
}

// SetStatus updates the provider-side activation status (6 = release,
// 8 = confirm used). Returns whether the provider acknowledged the change;
// transport faults are logged and reported as false, never raised.
func (c *Client) SetStatus(ctx context.Context, activationID string, status int) bool {
	params := url.Values{
		"action": {"setStatus"},
		"id":     {activationID},
		"status": {strconv.Itoa(status)},
	}

	resp, err := c.makeRequest(ctx, params)
	if err != nil {
		c.logger.Errorf("Failed to set status %d for activation %s: %v", status, activationID, err)
		return false
	}

	switch {
	case strings.Contains(resp, "ACCESS_CANCEL"),
		strings.Contains(resp, "ACCESS_ACTIVATION"),
		strings.Contains(resp, "ACCESS_READY"),
		strings.Contains(resp, "ACCESS_RETRY_GET"):
		return true
	case strings.Contains(resp, "NO_ACTIVATION"):
		c.logger.Warnf("Activation %s not found while setting status %d; likely already expired", activationID, status)
		return false
	default:
		c.logger.Errorf("Unexpected setStatus response for activation %s: %s", activationID, resp)
		return false
	}
}

// ComparePrices returns advisory price rows for the given countries, sorted
// cheapest first. It never drives purchase order.
func (c *Client) ComparePrices(ctx context.Context, service string, countries []config.Country) ([]models.CountryPrice, error) {
	prices, err := c.GetPrices(ctx, service)
	if err != nil {
		return nil, err
	}

	var rows []models.CountryPrice
	for _, country := range countries {
		cell, ok := prices[country.Code][service]
		if !ok {
			continue
		}
		rows = append(rows, models.CountryPrice{
			CountryCode: country.Code,
			CountryName: country.Name,
			Price:       cell.Cost,
			Available:   cell.Count,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Price < rows[j].Price })
	return rows, nil
}

// CheapestCountry picks the cheapest country with available inventory from
// the advisory comparison, or "" when none qualifies.
func (c *Client) CheapestCountry(ctx context.Context, service string, countries []config.Country) (string, float64, error) {
	rows, err := c.ComparePrices(ctx, service, countries)
	if err != nil {
		return "", 0, err
	}
	for _, row := range rows {
		if row.Available > 0 {
			return row.CountryCode, row.Price, nil
		}
	}
	return "", 0, nil
}

func (c *Client) getStatus(ctx context.Context, activationID string) (string, error) {
	return c.makeRequest(ctx, url.Values{
		"action": {"getStatus"},
		"id":     {activationID},
	})
}

func (c *Client) makeRequest(ctx context.Context, params url.Values) (string, error) {
	apiKey, err := c.creds.Get(c.keyName)
	if err != nil {
		c.logger.Errorf("Credential refresh failed: %v", err)
		return "", fmt.Errorf("%w: %v", models.ErrBadKey, err)
	}
	params.Set("api_key", apiKey)

	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Errorf("Provider request failed: %v", err)
		return "", fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Errorf("Provider returned HTTP %d", resp.StatusCode)
		return "", fmt.Errorf("%w: http %d", models.ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	text := strings.TrimSpace(string(body))
	if strings.Contains(text, "BAD_KEY") {
		return "", models.ErrBadKey
	}

	return text, nil
}
