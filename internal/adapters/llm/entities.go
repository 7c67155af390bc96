package llm

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
}

type ChatCompletionChoice struct {
	Message ChatCompletionMessage `json:"message"`
}

// Content returns the first choice's text, or "" when there is none.
func (r ChatCompletionResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type GenerationParameters struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// ClassificationParameters favour short, deterministic answers.
func ClassificationParameters() *GenerationParameters {
	return &GenerationParameters{
		Temperature:     0.1,
		TopP:            0.9,
		TopK:            40,
		MaxOutputTokens: 512,
		JSONMode:        true,
	}
}
