package service

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
)

// defaultModel is the chat model requested from the provider.
const defaultModel = "gpt-4o"

// OpenAIModelFactory builds an eino OpenAI chat model for the given API key.
// The provider setting is persisted alongside the key, but only the OpenAI
// provider is wired to the pipeline.
func OpenAIModelFactory(ctx context.Context, apiKey string) (ChatModel, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  defaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return chatModel, nil
}
