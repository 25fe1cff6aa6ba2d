package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/choraleia/chatengine/pkg/config"
	"github.com/choraleia/chatengine/pkg/utils"
)

// SupportedModelProviders lists the provider names CreateChatModel accepts.
var SupportedModelProviders = map[string]struct{}{
	"openai":    {},
	"custom":    {},
	"ark":       {},
	"deepseek":  {},
	"anthropic": {},
	"ollama":    {},
	"google":    {},
	"qianfan":   {},
	"qwen":      {},
}

var providerAliases = map[string]string{
	"claude": "anthropic",
	"gemini": "google",
}

// NormalizeProvider lowercases a provider name and resolves aliases.
func NormalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if alias, ok := providerAliases[p]; ok {
		return alias
	}
	return p
}

type ModelService struct {
	logger *slog.Logger
}

func NewModelService() *ModelService {
	return &ModelService{
		logger: utils.GetLogger(),
	}
}

// CreateChatModel creates an eino chat model from config
func (m *ModelService) CreateChatModel(ctx context.Context, cfg *config.ModelConfig) (einoModel.BaseChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("model config is nil")
	}

	provider := NormalizeProvider(cfg.Provider)
	m.logger.Info("creating chat model",
		"provider", provider,
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"api_key", utils.MaskSensitiveString(cfg.APIKey))

	switch provider {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 0
		region := ""
		if cfg.Extra != nil {
			if v, ok := cfg.Extra["region"]; ok {
				region, _ = v.(string)
			}
		}
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			Region:     region,
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   baseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "qianfan":
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = cfg.BaseURL
		qianfanConfig.BearerToken = cfg.APIKey
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

// ModelClient produces one assistant reply per call.
type ModelClient interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// ChatModelClient adapts an eino chat model to ModelClient.
type ChatModelClient struct {
	model einoModel.BaseChatModel
}

func NewChatModelClient(model einoModel.BaseChatModel) *ChatModelClient {
	return &ChatModelClient{model: model}
}

// Complete calls the model once. Errors and empty replies wrap ErrModelFailure.
func (c *ChatModelClient) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelFailure, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrModelFailure)
	}
	return resp.Content, nil
}
