package planner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/stepwise/internal/capability"
)

// AnthropicConfig contains configuration for the Claude planning oracle.
type AnthropicConfig struct {
	// Model is the Claude model to use. Defaults to Sonnet 4.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseBedrock sends requests through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens bounds the response. Defaults to 4096.
	MaxTokens int64
}

type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicOracle asks Claude for a plan proposal.
type AnthropicOracle struct {
	messages  messageSender
	model     anthropic.Model
	maxTokens int64

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// NewAnthropicOracle creates a Claude-backed oracle.
func NewAnthropicOracle(ctx context.Context, cfg AnthropicConfig) (*AnthropicOracle, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	return newAnthropicOracle(&client.Messages, model, cfg.MaxTokens), nil
}

func newAnthropicOracle(messages messageSender, model anthropic.Model, maxTokens int64) *AnthropicOracle {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicOracle{messages: messages, model: model, maxTokens: maxTokens}
}

// bedrockModel converts a model name to its Bedrock cross-region inference profile.
func bedrockModel(model anthropic.Model) anthropic.Model {
	switch model {
	case anthropic.ModelClaudeSonnet4_20250514:
		return "us.anthropic.claude-sonnet-4-20250514-v1:0"
	case anthropic.ModelClaudeSonnet4_5_20250929:
		return "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	case anthropic.ModelClaudeHaiku4_5_20251001:
		return "us.anthropic.claude-haiku-4-5-20251001-v1:0"
	default:
		return model
	}
}

// Propose implements Oracle.
func (o *AnthropicOracle) Propose(ctx context.Context, description string, capabilities []capability.Descriptor) (*Proposal, error) {
	resp, err := o.messages.New(ctx, anthropic.MessageNewParams{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(description, capabilities))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request plan: %w", err)
	}

	o.inputTokens.Add(resp.Usage.InputTokens)
	o.outputTokens.Add(resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseProposal(text.String())
}

// Usage returns the total input and output tokens spent on proposals.
func (o *AnthropicOracle) Usage() (input, output int64) {
	return o.inputTokens.Load(), o.outputTokens.Load()
}
