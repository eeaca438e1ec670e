package inference

import (
	"context"

	"github.com/mrsingh-rishi/image-narrator/model"
)

//go:generate mockgen -destination=../mocks/mock_adapter.go -package=mocks github.com/mrsingh-rishi/image-narrator/inference Adapter

// Adapter translates a uniform request into one provider's call convention.
// Implementations may fail on network or auth errors; the Dispatcher turns
// those into Failure results.
type Adapter interface {
	Invoke(ctx context.Context, image model.Image, prompt string) (string, error)
}

// PromptOptional is implemented by adapters whose backend accepts an empty
// prompt.
type PromptOptional interface {
	AllowsEmptyPrompt() bool
}
