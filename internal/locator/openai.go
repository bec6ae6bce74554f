package locator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/model"
)

// OpenAIClassifier treats a chat completion model as a classifier by asking
// it to answer with exactly one label name. The returned distribution is
// one-hot on the parsed label.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	labels []string
	system string
}

// NewOpenAIClassifier creates a classifier backed by the chat completions API
func NewOpenAIClassifier(cfg model.RemoteConfig, modelName string, numLabels int) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	labels := labelNames(cfg.LabelNames, numLabels)

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy)

	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientConfig),
		model:  modelName,
		labels: labels,
		system: buildSystemPrompt(labels),
	}, nil
}

// NumLabels returns the size of the label set
func (c *OpenAIClassifier) NumLabels() int {
	return len(c.labels)
}

// Predict asks the model for a label
func (c *OpenAIClassifier) Predict(ctx context.Context, text string) (classifier.Distribution, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	label, err := parseLabel(resp.Choices[0].Message.Content, c.labels)
	if err != nil {
		return nil, err
	}

	dist := make(classifier.Distribution, len(c.labels))
	dist[label] = 1
	return dist, nil
}

func buildSystemPrompt(labels []string) string {
	return fmt.Sprintf(`You are a text classifier. Classify the user's message into exactly one of these labels:
%s

Answer with the label only. No punctuation, no explanation.`, "- "+strings.Join(labels, "\n- "))
}

// labelNames returns configured names, or "0".."n-1"
func labelNames(names []string, n int) []string {
	if len(names) >= 2 {
		return append([]string(nil), names...)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// parseLabel maps a free-text answer to a label index
func parseLabel(answer string, labels []string) (int, error) {
	cleaned := strings.ToLower(strings.TrimFunc(strings.TrimSpace(answer), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))

	for i, l := range labels {
		if cleaned == strings.ToLower(l) {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(cleaned); err == nil && n >= 0 && n < len(labels) {
		return n, nil
	}
	// Answers like "positive sentiment"
	for i, l := range labels {
		if strings.HasPrefix(cleaned, strings.ToLower(l)) {
			return i, nil
		}
	}

	return 0, fmt.Errorf("unrecognised label %q (expected one of %s)", answer, strings.Join(labels, ", "))
}
