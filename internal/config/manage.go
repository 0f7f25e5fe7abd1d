package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range settings {
		value := formatValue(s.extract(cfg))
		if s.secret && value != "" {
			value = "********"
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
			Secret: s.secret,
		})
	}
	return result
}

// SetKey writes a config key to the platform backend. Secret keys go to the
// secrets file instead.
func SetKey(key, value string) error {
	for _, s := range settings {
		if s.key != key {
			continue
		}
		if s.secret {
			return secretSet(secretService, s.account(), value)
		}
		return setOn(newPlatformBackend(), s, value)
	}

	return fmt.Errorf("unknown config key: %q", key)
}

func setOn(b ConfigBackend, s setting, value string) error {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		return b.SetInt(s.key, i)
	case kString:
		return b.SetString(s.key, value)
	default:
		if _, err := parseValue(s.typ, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		return b.SetString(s.key, value)
	}
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range settings {
		keys = append(keys, s.key)
	}
	return keys
}
