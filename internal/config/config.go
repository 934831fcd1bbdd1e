package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider     ProviderConfig     `yaml:"provider"`
	Acquisition  AcquisitionConfig  `yaml:"acquisition"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Verification VerificationConfig `yaml:"verification"`
	Browser      BrowserConfig      `yaml:"browser"`
}

type BrowserConfig struct {
	Headless        bool   `yaml:"headless"`
	SignupURL       string `yaml:"signup_url"`
	ActionTimeout   int    `yaml:"action_timeout"`    // seconds
	PageLoadTimeout int    `yaml:"page_load_timeout"` // seconds
}

type ProviderConfig struct {
	BaseURL         string `yaml:"base_url"`
	RequestTimeout  int    `yaml:"request_timeout"` // seconds
	CredentialsPath string `yaml:"credentials_path"`
	APIKeyName      string `yaml:"api_key_name"`
}

type Country struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type AcquisitionConfig struct {
	HomeCountry  string    `yaml:"home_country"`
	HomeAttempts int       `yaml:"home_attempts"`
	Countries    []Country `yaml:"countries"`
}

type LedgerConfig struct {
	Path         string  `yaml:"path"`
	ReuseWindow  int     `yaml:"reuse_window"` // seconds
	AveragePrice float64 `yaml:"average_price"`
}

type VerificationConfig struct {
	MaxPhoneAttempts   int `yaml:"max_phone_attempts"`
	SMSWaitTimeout     int `yaml:"sms_wait_timeout"`    // seconds, global budget
	SMSPollingInterval int `yaml:"sms_polling_interval"` // seconds
	InitialSMSPolls    int `yaml:"initial_sms_polls"`
	MaxResendAttempts  int `yaml:"max_resend_attempts"`
	MinRemainingBudget int `yaml:"min_remaining_budget"` // seconds
	ActivationLifetime int `yaml:"activation_lifetime"`  // seconds
}

// LoadConfig loads configuration from a YAML file and merges environment
// variable overrides on top. A missing file is not an error; defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	config.setDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	config.overrideFromEnv()

	return &config, nil
}

func (c *Config) setDefaults() {
	c.Provider.BaseURL = "https://api.sms-activate.org/stubs/handler_api.php"
	c.Provider.RequestTimeout = 15
	c.Provider.CredentialsPath = "credentials/credentials.json"
	c.Provider.APIKeyName = "SMS_ACTIVATE_API_KEY"

	c.Acquisition.HomeCountry = "73"
	c.Acquisition.HomeAttempts = 5
	c.Acquisition.Countries = []Country{
		{Code: "73", Name: "Brazil"},
		{Code: "151", Name: "Chile"},
		{Code: "12", Name: "United States"},
		{Code: "40", Name: "Canada"},
		{Code: "16", Name: "United Kingdom"},
		{Code: "117", Name: "Portugal"},
	}

	c.Ledger.Path = "sms_data/phone_numbers.json"
	c.Ledger.ReuseWindow = 1200
	c.Ledger.AveragePrice = 20.0

	c.Browser.Headless = true
	c.Browser.SignupURL = "https://accounts.google.com/signup"
	c.Browser.ActionTimeout = 5
	c.Browser.PageLoadTimeout = 30

	c.Verification.MaxPhoneAttempts = 3
	c.Verification.SMSWaitTimeout = 180
	c.Verification.SMSPollingInterval = 10
	c.Verification.InitialSMSPolls = 6
	c.Verification.MaxResendAttempts = 2
	c.Verification.MinRemainingBudget = 30
	c.Verification.ActivationLifetime = 1200
}

func (c *Config) overrideFromEnv() {
	if val := os.Getenv("SIMFLOW_PROVIDER_BASE_URL"); val != "" {
		c.Provider.BaseURL = val
	}
	if val := getEnvInt("SIMFLOW_PROVIDER_REQUEST_TIMEOUT"); val > 0 {
		c.Provider.RequestTimeout = val
	}
	if val := os.Getenv("SIMFLOW_CREDENTIALS_PATH"); val != "" {
		c.Provider.CredentialsPath = val
	}

	if val := os.Getenv("SIMFLOW_HOME_COUNTRY"); val != "" {
		c.Acquisition.HomeCountry = val
	}
	if val := getEnvInt("SIMFLOW_HOME_ATTEMPTS"); val > 0 {
		c.Acquisition.HomeAttempts = val
	}

	if val := os.Getenv("SIMFLOW_LEDGER_PATH"); val != "" {
		c.Ledger.Path = val
	}
	if val := getEnvInt("SIMFLOW_REUSE_WINDOW"); val > 0 {
		c.Ledger.ReuseWindow = val
	}

	if val := getEnvInt("SIMFLOW_MAX_PHONE_ATTEMPTS"); val > 0 {
		c.Verification.MaxPhoneAttempts = val
	}
	if val := getEnvInt("SIMFLOW_SMS_WAIT_TIMEOUT"); val > 0 {
		c.Verification.SMSWaitTimeout = val
	}
	if val := getEnvInt("SIMFLOW_SMS_POLLING_INTERVAL"); val > 0 {
		c.Verification.SMSPollingInterval = val
	}
	if val := getEnvInt("SIMFLOW_MAX_RESEND_ATTEMPTS"); val > 0 {
		c.Verification.MaxResendAttempts = val
	}
}

func getEnvInt(key string) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		fmt.Sscanf(val, "%d", &intVal)
		return intVal
	}
	return 0
}

// CountryName resolves a provider country code to its display name.
func (c *AcquisitionConfig) CountryName(code string) string {
	for _, country := range c.Countries {
		if country.Code == code {
			return country.Name
		}
	}
	return "unknown"
}

func (c *ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *LedgerConfig) Window() time.Duration {
	return time.Duration(c.ReuseWindow) * time.Second
}

func (c *VerificationConfig) WaitBudget() time.Duration {
	return time.Duration(c.SMSWaitTimeout) * time.Second
}

func (c *VerificationConfig) PollInterval() time.Duration {
	return time.Duration(c.SMSPollingInterval) * time.Second
}

func (c *VerificationConfig) MinBudget() time.Duration {
	return time.Duration(c.MinRemainingBudget) * time.Second
}

func (c *VerificationConfig) Lifetime() time.Duration {
	return time.Duration(c.ActivationLifetime) * time.Second
}

func (c *BrowserConfig) ActionWait() time.Duration {
	return time.Duration(c.ActionTimeout) * time.Second
}

func (c *BrowserConfig) PageLoadWait() time.Duration {
	return time.Duration(c.PageLoadTimeout) * time.Second
}
