package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	openrouterx "github.com/tanpawarit/relay-support-router/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.7"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	RouterModel  string `envconfig:"ROUTER_MODEL" split_words:"true"`
	SupportModel string `envconfig:"SUPPORT_MODEL" split_words:"true"`
	OrderModel   string `envconfig:"ORDER_MODEL" split_words:"true"`
	BillingModel string `envconfig:"BILLING_MODEL" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// ModelFor returns the model name configured for a handler, falling back to
// the default model.
func (c Config) ModelFor(t contractx.HandlerType) string {
	override := ""
	switch t {
	case contractx.HandlerRouter:
		override = c.RouterModel
	case contractx.HandlerSupport:
		override = c.SupportModel
	case contractx.HandlerOrder:
		override = c.OrderModel
	case contractx.HandlerBilling:
		override = c.BillingModel
	}
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}

// OpenRouterFor builds the chat model config for one handler. Sampling
// parameters are passed per call, so only the model name differs.
func (c Config) OpenRouterFor(t contractx.HandlerType) openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              c.ModelFor(t),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// EngineFor builds the engine serving one handler type.
func EngineFor(ctx context.Context, cfg Config, t contractx.HandlerType) (*Engine, error) {
	modelCfg := cfg.OpenRouterFor(t)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, t, err)
	}
	return NewEngine(chatModel, WithTimeout(cfg.Timeout), WithModelName(modelCfg.Model)), nil
}
