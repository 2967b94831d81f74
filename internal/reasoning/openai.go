package reasoning

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIConfig configures [OpenAIClient]. Any OpenAI-compatible endpoint
// (OpenAI, Groq, a local server) works through BaseURL.
type OpenAIConfig struct {
	TextModel string

	// VisionModel serves requests with an image. Empty falls back to
	// TextModel.
	VisionModel string

	Temperature float64
	MaxTokens   int
}

// OpenAIClient implements [Client] with the chat completions API.
type OpenAIClient struct {
	client openai.Client
	cfg    OpenAIConfig
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAI creates the client. opts carry the API key, base URL and HTTP
// client.
func NewOpenAI(cfg OpenAIConfig, opts ...option.RequestOption) (*OpenAIClient, error) {
	if cfg.TextModel == "" {
		return nil, errors.New("reasoning: text model must not be empty")
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	return &OpenAIClient{client: openai.NewClient(opts...), cfg: cfg}, nil
}

// Complete implements [Client].
func (c *OpenAIClient) Complete(ctx context.Context, comp Completion) (string, error) {
	model := c.cfg.TextModel
	user := openai.UserMessage(comp.User)
	if comp.Image != nil {
		model = c.cfg.VisionModel
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(comp.User),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(comp.Image),
			}),
		})
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(comp.System),
			user,
		},
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("reasoning: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("reasoning: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURL(img *Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
