package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/model"
)

const (
	UnsupportedModelMessage = "Unsupported model selected"
	MissingImageMessage     = "Image is required"
)

// Dispatcher looks up the adapter for a model name and is the single place
// where provider errors become Failure results.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[model.ModelName]Adapter
	order    []model.ModelName
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		adapters: make(map[model.ModelName]Adapter),
		logger:   logger,
	}
}

// Register binds name to adapter. Registering the same name twice replaces
// the adapter but keeps its original position in Models.
func (d *Dispatcher) Register(name model.ModelName, adapter Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.adapters[name]; !ok {
		d.order = append(d.order, name)
	}
	d.adapters[name] = adapter
}

// Models lists the registered model names in registration order.
func (d *Dispatcher) Models() []model.ModelName {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.ModelName(nil), d.order...)
}

func (d *Dispatcher) Supports(name model.ModelName) bool {
	_, ok := d.lookup(name)
	return ok
}

func (d *Dispatcher) lookup(name model.ModelName) (Adapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	adapter, ok := d.adapters[name]
	return adapter, ok
}

// Dispatch runs req against its adapter. It never returns an error or panics;
// every problem is reported as a Failure result.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.InferenceRequest) model.Result {
	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "model", string(req.Model))

	adapter, ok := d.lookup(req.Model)
	if !ok {
		logger.Warn("unsupported model requested")
		return model.Failure(UnsupportedModelMessage)
	}
	if req.Image.Empty() {
		return model.Failure(MissingImageMessage)
	}
	if strings.TrimSpace(req.Prompt) == "" && !allowsEmptyPrompt(adapter) {
		return model.Failure(fmt.Sprintf("Prompt is required for %s", req.Model))
	}

	start := time.Now()
	text, err := invoke(ctx, adapter, req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("inference failed", "error", err, "elapsed", elapsed)
		return model.Failure(err.Error())
	}
	logger.Info("inference finished", "elapsed", elapsed, "chars", len(text))
	return model.Success(text)
}

// invoke shields the caller from adapter panics.
func invoke(ctx context.Context, adapter Adapter, req model.InferenceRequest) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = errors.Errorf("provider %s crashed: %v", req.Model, r)
		}
	}()
	return adapter.Invoke(ctx, req.Image, req.Prompt)
}

func allowsEmptyPrompt(adapter Adapter) bool {
	opt, ok := adapter.(PromptOptional)
	return ok && opt.AllowsEmptyPrompt()
}
