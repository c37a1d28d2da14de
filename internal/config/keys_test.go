package config

import (
	"errors"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		cfg        Config
		wantValue  string
		wantSource KeySource
		wantErr    error
	}{
		{
			name:       "environment wins",
			env:        "sk-ant-env-key",
			cfg:        Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}},
			wantValue:  "sk-ant-env-key",
			wantSource: KeySourceEnv,
		},
		{
			name:       "from config",
			cfg:        Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}},
			wantValue:  "sk-ant-config-key",
			wantSource: KeySourceConfig,
		},
		{
			name:       "unexpanded reference",
			cfg:        Config{Anthropic: AnthropicConfig{APIKey: "${STEPWISE_TEST_UNSET_KEY}"}},
			wantSource: KeySourceNone,
			wantErr:    ErrNoAPIKey,
		},
		{
			name:       "bedrock needs no key",
			cfg:        Config{Planner: PlannerConfig{UseBedrock: true}},
			wantSource: KeySourceBedrock,
		},
		{
			name:       "file planner needs no key",
			cfg:        Config{Planner: PlannerConfig{Kind: "file"}},
			wantSource: KeySourceNone,
		},
		{
			name:       "nothing configured",
			wantSource: KeySourceNone,
			wantErr:    ErrNoAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", tt.env)

			key, err := tt.cfg.ResolveAPIKey()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveAPIKey() error = %v, want %v", err, tt.wantErr)
			}
			if key.Value != tt.wantValue || key.Source != tt.wantSource {
				t.Errorf("ResolveAPIKey() = %+v, want %q from %s", key, tt.wantValue, tt.wantSource)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-openai-abcdefghijklmnop", true},
		{"too short", "sk-ant-abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateAPIKey(tt.key); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyMasked(t *testing.T) {
	tests := []struct {
		key  APIKey
		want string
	}{
		{APIKey{}, "(not set)"},
		{APIKey{Value: "short"}, "***"},
		{APIKey{Value: "sk-ant-REDACTED"}, "sk-ant-...mnop"},
		{APIKey{Source: KeySourceBedrock}, "(aws credentials)"},
	}

	for _, tt := range tests {
		if got := tt.key.Masked(); got != tt.want {
			t.Errorf("Masked(%+v) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
