package provider

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// CredentialStore reads a flat key->value JSON file. The file is re-read on
// every lookup so keys rotated out-of-band are picked up without a restart.
type CredentialStore struct {
	path   string
	logger *logrus.Logger
}

func NewCredentialStore(path string, logger *logrus.Logger) *CredentialStore {
	return &CredentialStore{
		path:   path,
		logger: logger,
	}
}

// Get returns the current value for name, reading the backing file fresh.
func (s *CredentialStore) Get(name string) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials file %s: %w", s.path, err)
	}

	var creds map[string]string
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("failed to parse credentials file %s: %w", s.path, err)
	}

	value, ok := creds[name]
	if !ok || value == "" {
		return "", fmt.Errorf("credential %q not found in %s", name, s.path)
	}

	return value, nil
}
