package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the planner needs an API key and none is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// APIKey is a resolved planner credential.
type APIKey struct {
	Value  string
	Source KeySource
}

// Masked returns the key for display: the "sk-ant-" prefix and the last 4 characters.
func (k APIKey) Masked() string {
	switch {
	case k.Source == KeySourceBedrock:
		return "(aws credentials)"
	case k.Value == "":
		return "(not set)"
	case len(k.Value) <= 15:
		return "***"
	}
	return k.Value[:7] + "..." + k.Value[len(k.Value)-4:]
}

// ResolveAPIKey returns the key the anthropic planner should use. The
// environment wins over the config file. Bedrock and file planners need no key.
func (c *Config) ResolveAPIKey() (APIKey, error) {
	if c.Planner.Kind == "file" {
		return APIKey{Source: KeySourceNone}, nil
	}
	if c.Planner.UseBedrock {
		return APIKey{Source: KeySourceBedrock}, nil
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return APIKey{Value: key, Source: KeySourceEnv}, nil
	}

	// Unset ${VAR} references expand to "" at load time but may survive a
	// hand-built Config.
	key := os.ExpandEnv(c.Anthropic.APIKey)
	if key != "" && !strings.HasPrefix(key, "${") {
		return APIKey{Value: key, Source: KeySourceConfig}, nil
	}

	return APIKey{Source: KeySourceNone}, ErrNoAPIKey
}

// ValidateAPIKey performs basic format validation on an API key.
// It does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}
