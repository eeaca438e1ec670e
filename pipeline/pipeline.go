package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/model"
	"github.com/mrsingh-rishi/image-narrator/stt"
)

const (
	MsgSubmitted = "Image submitted for interpretation..."
	MsgWait      = "Please wait..."
	MsgUploaded  = "Image uploaded successfully!"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req model.InferenceRequest) model.Result
}

type Speech interface {
	Speak(ctx context.Context, text string) error
	SynthesizeToFile(ctx context.Context, text string) (*model.AudioArtifact, error)
}

type Packager interface {
	Package(text string, audio *model.AudioArtifact) (model.Bundle, error)
}

type VoiceCapture interface {
	Capture(ctx context.Context, audio <-chan []byte, window time.Duration) (string, error)
}

// Response is the outcome of one submission. Bundle is nil when inference
// failed.
type Response struct {
	ID       string
	Result   model.Result
	Bundle   *model.Bundle
	Warnings []string
}

// Pipeline runs submissions one at a time: dispatch, speak, synthesize,
// package.
type Pipeline struct {
	mu       sync.Mutex
	dispatch Dispatcher
	speech   Speech
	packager Packager
	voice    VoiceCapture
	logger   *slog.Logger
}

func New(dispatch Dispatcher, speech Speech, packager Packager, voice VoiceCapture, logger *slog.Logger) (*Pipeline, error) {
	if dispatch == nil {
		return nil, errors.New("dispatcher is required")
	}
	if packager == nil {
		return nil, errors.New("packager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dispatch: dispatch,
		speech:   speech,
		packager: packager,
		voice:    voice,
		logger:   logger,
	}, nil
}

// Narrate speaks msg. Failures are logged and otherwise ignored.
func (p *Pipeline) Narrate(ctx context.Context, msg string) {
	if p.speech == nil {
		return
	}
	if err := p.speech.Speak(ctx, msg); err != nil {
		p.logger.Warn("narration failed", "message", msg, "error", err)
	}
}

func (p *Pipeline) Submit(ctx context.Context, req model.InferenceRequest) Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp := Response{ID: uuid.NewString()}
	logger := p.logger.With("submission", resp.ID, "model", string(req.Model))

	p.Narrate(ctx, MsgSubmitted)
	p.Narrate(ctx, MsgWait)

	resp.Result = p.dispatch.Dispatch(ctx, req)
	if !resp.Result.OK() {
		logger.Info("submission failed", "reason", resp.Result.Message())
		p.Narrate(ctx, resp.Result.String())
		return resp
	}

	text := resp.Result.Text()
	p.Narrate(ctx, text)

	var audio *model.AudioArtifact
	if p.speech != nil {
		var err error
		audio, err = p.speech.SynthesizeToFile(ctx, text)
		if err != nil {
			logger.Warn("speech synthesis failed", "error", err)
			resp.Warnings = append(resp.Warnings, err.Error())
			audio = nil
		}
	} else {
		resp.Warnings = append(resp.Warnings, "speech synthesis is not configured")
	}

	bundle, err := p.packager.Package(text, audio)
	if err != nil {
		logger.Warn("packaging failed", "error", err)
		resp.Warnings = append(resp.Warnings, err.Error())
	}
	resp.Bundle = &bundle
	logger.Info("submission finished", "bundle", bundle.State().String())
	return resp
}

// PromptFromVoice turns captured speech into a prompt. Any capture problem
// yields an empty prompt.
func (p *Pipeline) PromptFromVoice(ctx context.Context, audio <-chan []byte, window time.Duration) string {
	if p.voice == nil {
		p.logger.Warn("voice capture is not configured")
		return ""
	}
	text, err := p.voice.Capture(ctx, audio, window)
	if err != nil {
		var captureErr *stt.CaptureError
		if errors.As(err, &captureErr) {
			p.logger.Info("no voice prompt", "kind", captureErr.Kind.String())
		} else {
			p.logger.Warn("voice capture failed", "error", err)
		}
		return ""
	}
	return text
}
