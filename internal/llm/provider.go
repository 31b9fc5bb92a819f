package llm

import (
	"context"
	"fmt"

	"companion-backend/internal/config"
	"companion-backend/internal/utils"
	"companion-backend/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// NewChatModel builds the configured provider and binds the tool schemas.
func NewChatModel(ctx context.Context, cfg *config.Config, toolInfos []*schema.ToolInfo) (einoModel.ChatModel, error) {
	var (
		chatModel einoModel.ChatModel
		err       error
	)

	switch cfg.Model.Provider {
	case "doubao":
		chatModel, err = createDoubaoModel(ctx, cfg.Doubao)
	case "openai":
		chatModel, err = newOpenAIChatModel(ctx, cfg.OpenAI)
	case "qwen":
		chatModel, err = createQwenModel(ctx, cfg.Qwen)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
	if err != nil {
		return nil, err
	}

	if len(toolInfos) > 0 {
		if err := chatModel.BindTools(toolInfos); err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		logger.Infof("Bound %d tools to %s model", len(toolInfos), cfg.Model.Provider)
	}

	return chatModel, nil
}

func createDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.ChatModel, error) {
	if len(cfg.APIKey) > 10 {
		logger.Infof("Using Doubao API Key: %s..., Model: %s", cfg.APIKey[:10], cfg.Model)
	} else {
		logger.Infof("Using Doubao Model: %s", cfg.Model)
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	})
}

func createQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using Qwen Model: %s, BaseURL: %s", cfg.Model, cfg.BaseURL)

	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		TopP:        &cfg.TopP,
		Timeout:     cfg.Timeout,
		HTTPClient:  utils.NewHTTPClient(cfg.Timeout),
	})
}
