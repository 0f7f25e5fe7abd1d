package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFile is the owner-only JSON file holding credentials, grouped by
// service: {"chpusage": {"chp_token": "...", "slack_url": "..."}}.
type secretsFile map[string]map[string]string

func secretsFilePath() string { return xdgPath("XDG_DATA_HOME", ".local/share", "secrets.json") }

func readSecrets() (secretsFile, error) {
	raw, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secrets file not available: %w", err)
	}
	var sf secretsFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return sf, nil
}

func secretGet(service, account string) ([]byte, error) {
	sf, err := readSecrets()
	if err != nil {
		return nil, err
	}
	val, ok := sf[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

// secretSet stores one credential. An unreadable or corrupt file is replaced.
func secretSet(service, account, value string) error {
	sf, err := readSecrets()
	if err != nil {
		sf = secretsFile{}
	}
	if sf[service] == nil {
		sf[service] = map[string]string{}
	}
	sf[service][account] = value

	path := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
