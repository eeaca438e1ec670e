package llm

import (
	"context"

	"github.com/mrsingh-rishi/image-narrator/gradio"
	"github.com/mrsingh-rishi/image-narrator/model"
)

const PhiVisionModelID = "microsoft/Phi-3.5-vision-instruct"

// GradioAdapter runs a vision model hosted as a Gradio Space. The image is
// uploaded first and passed to the endpoint as a file handle, followed by the
// prompt and any fixed extra arguments.
type GradioAdapter struct {
	client      *gradio.Client
	apiName     string
	extra       []any
	emptyPrompt bool
}

// NewPhiVisionAdapter targets the Phi-3.5 vision Space.
func NewPhiVisionAdapter(client *gradio.Client, modelID string) *GradioAdapter {
	if modelID == "" {
		modelID = PhiVisionModelID
	}
	return &GradioAdapter{
		client:  client,
		apiName: "/run_example",
		extra:   []any{modelID},
	}
}

// NewFlorenceAdapter targets the Docmatix Florence-2 Space, which also
// answers without a prompt.
func NewFlorenceAdapter(client *gradio.Client) *GradioAdapter {
	return &GradioAdapter{
		client:      client,
		apiName:     "/process_image",
		emptyPrompt: true,
	}
}

func (a *GradioAdapter) AllowsEmptyPrompt() bool {
	return a.emptyPrompt
}

func (a *GradioAdapter) Invoke(ctx context.Context, image model.Image, prompt string) (string, error) {
	file, err := a.client.Upload(ctx, image.Name, image.Bytes)
	if err != nil {
		return "", err
	}
	args := append([]any{file, prompt}, a.extra...)
	out, err := a.client.Predict(ctx, a.apiName, args...)
	if err != nil {
		return "", err
	}
	return gradio.FirstString(out)
}
