package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

// DefaultModelName is used when the configuration names no model.
const DefaultModelName = "gemini-2.5-flash"

// GeminiModel is a LanguageModel backed by the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiModel connects to Gemini with an API key.
func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultModelName
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiModel{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Close releases the underlying client.
func (g *GeminiModel) Close() error {
	return g.client.Close()
}

// Complete sends the rendered prompt. When the reply is the YAML shape the
// respond prompt asks for, Text is the narration and Hint the decision;
// otherwise Text is the raw reply.
func (g *GeminiModel) Complete(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return ModelResponse{}, err
	}

	text := responseText(resp)
	if text == "" {
		return ModelResponse{}, fmt.Errorf("no content returned from Gemini")
	}

	return ParseReply(text), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text += string(txt)
			}
		}
	}
	return text
}

// ParseReply extracts narration and decision from a model reply, tolerating
// markdown fences and plain prose.
func ParseReply(text string) ModelResponse {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```yaml")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var reply struct {
		Narration string `yaml:"narration"`
		Decision  string `yaml:"decision"`
	}
	if err := yaml.Unmarshal([]byte(clean), &reply); err != nil || reply.Narration == "" {
		return ModelResponse{Text: clean}
	}
	return ModelResponse{Text: reply.Narration, Hint: reply.Decision}
}
