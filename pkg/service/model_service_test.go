package service

import (
	"context"
	"errors"
	"testing"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/chatengine/pkg/config"
)

type fakeChatModel struct {
	resp *schema.Message
	err  error
	seen []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	m.seen = input
	return m.resp, m.err
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestChatModelClient_Complete(t *testing.T) {
	fake := &fakeChatModel{resp: schema.AssistantMessage("Hello Sam!", nil)}
	client := NewChatModelClient(fake)

	reply, err := client.Complete(context.Background(), []*schema.Message{schema.UserMessage("Hi")})
	require.NoError(t, err)
	assert.Equal(t, "Hello Sam!", reply)
	require.Len(t, fake.seen, 1)
}

func TestChatModelClient_Failures(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := NewChatModelClient(&fakeChatModel{err: boom}).Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrModelFailure)
	assert.ErrorIs(t, err, boom)

	_, err = NewChatModelClient(&fakeChatModel{resp: schema.AssistantMessage("  ", nil)}).Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrModelFailure)

	_, err = NewChatModelClient(&fakeChatModel{}).Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrModelFailure)
}

func TestNormalizeProvider(t *testing.T) {
	assert.Equal(t, "anthropic", NormalizeProvider(" Claude "))
	assert.Equal(t, "google", NormalizeProvider("gemini"))
	assert.Equal(t, "openai", NormalizeProvider("OpenAI"))
	for _, p := range []string{"claude", "gemini", "openai", "qwen"} {
		_, ok := SupportedModelProviders[NormalizeProvider(p)]
		assert.True(t, ok, p)
	}
}

func TestCreateChatModel(t *testing.T) {
	svc := NewModelService()
	ctx := context.Background()

	_, err := svc.CreateChatModel(ctx, nil)
	assert.Error(t, err)

	_, err = svc.CreateChatModel(ctx, &config.ModelConfig{Provider: "nope", Model: "x"})
	assert.ErrorContains(t, err, "unsupported model provider")

	m, err := svc.CreateChatModel(ctx, &config.ModelConfig{
		Provider: "openai",
		APIKey:   "sk-test",
		BaseURL:  "http://127.0.0.1:1/v1",
		Model:    "gpt-4o",
	})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = svc.CreateChatModel(ctx, &config.ModelConfig{
		Provider: "ollama",
		BaseURL:  "http://127.0.0.1:11434",
		Model:    "llama3",
	})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
