package llm

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/image-narrator/model"
)

const (
	GroqBaseURL     = "https://api.groq.com/openai/v1"
	GroqVisionModel = "llama-3.2-90b-vision-preview"
)

// ErrMissingAPIKey is returned before any network call when no credential
// was configured.
var ErrMissingAPIKey = errors.New("authentication failed: missing Groq API key")

// OpenAIVisionClient sends an image and a prompt to an OpenAI-compatible
// chat-completion endpoint. Groq is the default target.
type OpenAIVisionClient struct {
	Client *openai.Client
	Model  string
	apiKey string
}

func NewOpenAIVisionClient(apiKey, baseURL, modelID string, httpClient *http.Client) *OpenAIVisionClient {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	if modelID == "" {
		modelID = GroqVisionModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIVisionClient{
		Client: openai.NewClientWithConfig(cfg),
		Model:  modelID,
		apiKey: apiKey,
	}
}

// Invoke embeds the image as a data URI next to the prompt text and returns
// the first choice's content.
func (c *OpenAIVisionClient) Invoke(ctx context.Context, image model.Image, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", ErrMissingAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI(image)},
					},
				},
			},
		},
	}

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", describeAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from vision model")
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURI(image model.Image) string {
	mime := image.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image.Bytes)
}

// describeAPIError keeps the provider's message but makes credential
// problems recognizable to the user.
func describeAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden {
			return errors.Errorf("authentication failed: %s", apiErr.Message)
		}
		return errors.Errorf("vision model error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden {
			return errors.Errorf("authentication failed: status %d", reqErr.HTTPStatusCode)
		}
		return errors.Errorf("vision model request failed: status %d", reqErr.HTTPStatusCode)
	}
	return errors.Wrap(err, "vision model request failed")
}
