package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	ElevenLabsBaseURL  = "https://api.elevenlabs.io"
	DefaultVoiceID     = "JBFqnCBsd6RMkjVDRZzb"
	DefaultTTSModelID  = "eleven_multilingual_v2"
	elevenLabsMP3Audio = "mp3_44100_128"
)

// ElevenLabsClient renders text to MP3 through the ElevenLabs text-to-speech
// API.
type ElevenLabsClient struct {
	APIKey  string
	VoiceId string
	ModelId string
	BaseURL string
	HTTP    *http.Client
}

func NewElevenLabsClient(apiKey string, voiceId string, modelId string) (*ElevenLabsClient, error) {
	if apiKey == "" {
		return nil, errors.New("eleven labs api key is required")
	}
	if voiceId == "" {
		voiceId = DefaultVoiceID
	}
	if modelId == "" {
		modelId = DefaultTTSModelID
	}
	return &ElevenLabsClient{
		APIKey:  apiKey,
		VoiceId: voiceId,
		ModelId: modelId,
		BaseURL: ElevenLabsBaseURL,
		HTTP:    http.DefaultClient,
	}, nil
}

// Render returns the complete MP3 rendering of text.
func (client *ElevenLabsClient) Render(ctx context.Context, text string) ([]byte, error) {
	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(client.BaseURL, "/"), url.PathEscape(client.VoiceId)))
	if err != nil {
		return nil, errors.Wrap(err, "build url")
	}
	q := base.Query()
	q.Set("output_format", elevenLabsMP3Audio)
	base.RawQuery = q.Encode()

	payload := map[string]interface{}{
		"text":     text,
		"model_id": client.ModelId,
		"voice_settings": map[string]float64{
			"stability":        0.75,
			"similarity_boost": 0.7,
		},
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("xi-api-key", client.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "text-to-speech request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("text-to-speech bad status: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read audio")
	}
	if len(audio) == 0 {
		return nil, errors.New("text-to-speech returned no audio")
	}
	return audio, nil
}
