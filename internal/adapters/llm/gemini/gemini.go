package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/iamwavecut/modbot/internal/adapters/llm"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type API struct {
	client         *genai.Client
	modelName      string
	systemPrompt   string
	parameters     *llm.GenerationParameters
	safetySettings []*genai.SafetySetting
	logger         *log.Entry
}

const DefaultModel = "gemini-2.5-flash-lite"

func NewGemini(ctx context.Context, apiKey, model string, logger *log.Entry) (*API, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	api := &API{
		client: client,
		logger: logger,
	}
	api.WithModel(model)
	api.WithSafetySettings(nil)
	api.WithParameters(nil)
	return api, nil
}

func (g *API) WithModel(modelName string) *API {
	if modelName == "" {
		modelName = DefaultModel
	}
	g.modelName = modelName
	return g
}

func (g *API) WithParameters(parameters *llm.GenerationParameters) *API {
	if parameters == nil {
		parameters = llm.ClassificationParameters()
	}
	g.parameters = parameters
	return g
}

// WithSafetySettings disables provider-side blocking by default: the
// classifier has to see abusive text to judge it.
func (g *API) WithSafetySettings(safetySettings []*genai.SafetySetting) *API {
	if len(safetySettings) == 0 {
		for _, category := range []genai.HarmCategory{
			genai.HarmCategoryDangerousContent,
			genai.HarmCategoryHarassment,
			genai.HarmCategoryHateSpeech,
			genai.HarmCategorySexuallyExplicit,
		} {
			safetySettings = append(safetySettings, &genai.SafetySetting{
				Category:  category,
				Threshold: genai.HarmBlockNone,
			})
		}
	}
	g.safetySettings = safetySettings
	return g
}

func (g *API) WithSystemPrompt(prompt string) *API {
	g.systemPrompt = prompt
	return g
}

// model builds a fresh model per call so concurrent requests never share a
// system instruction.
func (g *API) model(systemPrompt string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(g.parameters.Temperature)
	model.SetTopK(g.parameters.TopK)
	model.SetTopP(g.parameters.TopP)
	model.SetMaxOutputTokens(g.parameters.MaxOutputTokens)
	model.ResponseMIMEType = "text/plain"
	if g.parameters.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
	model.SafetySettings = g.safetySettings
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	return model
}

func (g *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	if len(messages) == 0 {
		return llm.ChatCompletionResponse{}, errors.New("no messages")
	}
	lastMessage, messages := messages[len(messages)-1], messages[:len(messages)-1]

	systemPrompt := g.systemPrompt
	var history []*genai.Content
	for _, message := range messages {
		if message.Role == llm.RoleSystem {
			systemPrompt = message.Content
			continue
		}
		role := "user"
		if message.Role == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(message.Content)},
		})
	}

	session := g.model(systemPrompt).StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(lastMessage.Content))
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("gemini send message: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		g.logger.WithField("model", g.modelName).Warn("empty completion")
		return llm.ChatCompletionResponse{}, nil
	}

	var response strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		fmt.Fprintf(&response, "%v", part)
	}

	return llm.ChatCompletionResponse{
		Choices: []llm.ChatCompletionChoice{{Message: llm.ChatCompletionMessage{
			Role:    llm.RoleAssistant,
			Content: response.String(),
		}}},
	}, nil
}

func (g *API) Close() error {
	return g.client.Close()
}
