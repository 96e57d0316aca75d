package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type LLMBuilder interface {
	New(ctx context.Context) (model.ToolCallingChatModel, error)
}

var _ LLMBuilder = (*Config)(nil)

type Config struct {
	BaseURL            string        `split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken *int          `split_words:"true" default:"512"`
	Temperature        float32       `split_words:"true" default:"0.3"`
	Timeout            time.Duration `split_words:"true" default:"30s"`
	SiteURL            string        `split_words:"true"`
	SiteName           string        `split_words:"true" default:"shopping-voice-assistant"`

	// Reasoning output delays the spoken reply; off unless enabled.
	Reasoning bool `split_words:"true" default:"false"`
	// ProviderSort is OpenRouter's provider routing order: latency, throughput or price.
	ProviderSort string `split_words:"true" default:"latency"`
}

// New builds the tool-calling chat model that drives the dialogue engine.
func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	m, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       strings.TrimSpace(c.Model),
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &c.Temperature,
		Timeout:     c.Timeout,
		ExtraFields: c.extraFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model: %w", err)
	}
	return m, nil
}

// extraFields holds the OpenRouter-specific request body fields.
func (c *Config) extraFields() map[string]any {
	fields := map[string]any{}
	if !c.Reasoning {
		fields["reasoning"] = map[string]any{"exclude": true, "effort": "none"}
	}
	if sort := strings.TrimSpace(c.ProviderSort); sort != "" {
		fields["provider"] = map[string]any{"sort": sort}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// NewClient returns an OpenAI SDK client pointed at OpenRouter, or nil when
// no API key is configured.
func NewClient(cfg Config) *openaisdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}

// Verify checks that the configured model is served before a conversation
// starts.
func Verify(ctx context.Context, client *openaisdk.Client, modelName string) error {
	if client == nil {
		return errors.New("openrouter: client is not configured")
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return errors.New("openrouter: model is required")
	}
	if _, err := client.Models.Get(ctx, modelName); err != nil {
		return fmt.Errorf("openrouter: model %s unavailable: %w", modelName, err)
	}
	return nil
}
