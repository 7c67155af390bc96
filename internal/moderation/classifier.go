package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iamwavecut/modbot/internal/adapters"
	"github.com/iamwavecut/modbot/internal/adapters/llm"
	"github.com/iamwavecut/modbot/internal/db"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
)

type ClassifierAction string

const (
	ClassifierNone   ClassifierAction = "none"
	ClassifierWarn   ClassifierAction = "warn"
	ClassifierDelete ClassifierAction = "delete"
	ClassifierMute   ClassifierAction = "mute"
	ClassifierBan    ClassifierAction = "ban"
)

func (a ClassifierAction) Valid() bool {
	switch a {
	case ClassifierNone, ClassifierWarn, ClassifierDelete, ClassifierMute, ClassifierBan:
		return true
	}
	return false
}

type Verdict struct {
	Violation  bool             `json:"violation"`
	Type       string           `json:"violation_type"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason"`
	Action     ClassifierAction `json:"action"`
}

// UserContext is what the classifier may know about the sender.
type UserContext struct {
	TrustLevel   db.TrustLevel
	Warnings     int
	MessageCount int
}

type Classifier interface {
	Classify(ctx context.Context, text string, user UserContext) (Verdict, error)
}

var ErrUnparseableVerdict = errors.New("unparseable classifier verdict")

const DefaultChatRules = `Forbidden:
1. Obscene language and slurs.
2. Insults or threats towards members, administrators or staff.
3. Advertising of third-party goods, services, channels or sites.
4. Discrimination: sexism, racism, religious or political intolerance.
5. Publishing personal data of others without consent.
6. Flooding, trolling, repeating the same message.
7. Drug propaganda, adult content, anything illegal.`

const classifierSystemPrompt = `You are a strict but fair chat moderator. Ordinary conversation, slang, emotions and criticism of services are allowed. Only flag clear violations of the rules, and when in doubt do not flag.`

const classifierPromptTemplate = `Chat rules:
{{ .rules }}

Sender: trust level {{ .trust }}, {{ .warnings }} warnings, {{ .messages }} messages.

Message to analyze:
"""{{ .text }}"""

Answer with a single JSON object:
{"violation": true or false, "violation_type": "short type or null", "confidence": number from 0.0 to 1.0, "reason": "short explanation", "action": "none, warn, delete, mute or ban"}`

// LLMClassifier asks a chat completion model for a JSON verdict and
// sanitizes whatever comes back.
type LLMClassifier struct {
	llm    adapters.LLM
	rules  string
	logger *log.Entry
}

func NewLLMClassifier(model adapters.LLM, rules string) *LLMClassifier {
	if strings.TrimSpace(rules) == "" {
		rules = DefaultChatRules
	}
	return &LLMClassifier{
		llm:    model,
		rules:  rules,
		logger: log.WithField("object", "LLMClassifier"),
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string, user UserContext) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{Confidence: 1, Action: ClassifierNone, Reason: "empty message"}, nil
	}

	prompt := tool.ExecTemplate(classifierPromptTemplate, map[string]any{
		"rules":    c.rules,
		"trust":    string(user.TrustLevel),
		"warnings": user.Warnings,
		"messages": user.MessageCount,
		"text":     text,
	})
	resp, err := c.llm.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: classifierSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return Verdict{}, err
	}

	verdict, err := parseVerdict(resp.Content())
	if err != nil {
		c.logger.WithField("content", resp.Content()).Debug("bad classifier output")
		return Verdict{}, err
	}
	return verdict, nil
}

type rawVerdict struct {
	Violation  *bool    `json:"violation"`
	Type       *string  `json:"violation_type"`
	Confidence *float64 `json:"confidence"`
	Reason     *string  `json:"reason"`
	Action     *string  `json:"action"`
}

// parseVerdict extracts the first JSON object from content. Out of range
// confidence becomes 0.5, an unknown action becomes warn, and a missing
// required field is an error.
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("%w: no json object", ErrUnparseableVerdict)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrUnparseableVerdict, err)
	}
	if raw.Violation == nil || raw.Confidence == nil || raw.Reason == nil || raw.Action == nil {
		return Verdict{}, fmt.Errorf("%w: missing required field", ErrUnparseableVerdict)
	}

	v := Verdict{
		Violation:  *raw.Violation,
		Confidence: *raw.Confidence,
		Reason:     *raw.Reason,
		Action:     ClassifierAction(strings.ToLower(strings.TrimSpace(*raw.Action))),
	}
	if raw.Type != nil {
		v.Type = *raw.Type
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		v.Confidence = 0.5
	}
	if !v.Action.Valid() {
		v.Action = ClassifierWarn
	}
	return v, nil
}
