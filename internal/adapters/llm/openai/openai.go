package openai

import (
	"context"
	"fmt"

	"github.com/iamwavecut/modbot/internal/adapters/llm"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const DefaultModel = "gpt-4o-mini"

// API talks to any OpenAI-compatible chat completion endpoint.
type API struct {
	client     *openai.Client
	model      string
	parameters *llm.GenerationParameters
	logger     *log.Entry
}

func NewOpenAI(apiKey, model, baseURL string, logger *log.Entry) *API {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return (&API{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}).WithModel(model).WithParameters(nil)
}

func (o *API) WithModel(model string) *API {
	if model == "" {
		model = DefaultModel
	}
	o.model = model
	return o
}

func (o *API) WithParameters(parameters *llm.GenerationParameters) *API {
	if parameters == nil {
		parameters = llm.ClassificationParameters()
	}
	o.parameters = parameters
	return o
}

func (o *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages))
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("openai chat completion: %w", err)
	}

	out := llm.ChatCompletionResponse{}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, llm.ChatCompletionChoice{
			Message: llm.ChatCompletionMessage{Role: choice.Message.Role, Content: choice.Message.Content},
		})
	}
	if len(out.Choices) == 0 {
		o.logger.WithField("model", o.model).Warn("empty completion")
	}
	return out, nil
}

func (o *API) request(messages []llm.ChatCompletionMessage) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: o.parameters.Temperature,
		TopP:        o.parameters.TopP,
		MaxTokens:   int(o.parameters.MaxOutputTokens),
	}
	if o.parameters.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// toOpenAIMessages keeps a single system message, the last one given, in
// front of the conversation.
func toOpenAIMessages(messages []llm.ChatCompletionMessage) []openai.ChatCompletionMessage {
	var system string
	out := make([]openai.ChatCompletionMessage, 1, len(messages)+1)
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = msg.Content
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	if system == "" {
		return out[1:]
	}
	out[0] = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system}
	return out
}
