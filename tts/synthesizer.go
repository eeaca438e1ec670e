package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/artifact"
	"github.com/mrsingh-rishi/image-narrator/model"
)

//go:generate mockgen -destination=../mocks/mock_tts.go -package=mocks github.com/mrsingh-rishi/image-narrator/tts Engine,Player

// AudioFileName is the fixed name of the rendered speech file.
const AudioFileName = artifact.AudioFileName

// Engine renders text to a complete MP3 byte slice.
type Engine interface {
	Render(ctx context.Context, text string) ([]byte, error)
}

// Player delivers audio for immediate playback. Play returns once the audio
// has been handed to every listener.
type Player interface {
	Play(ctx context.Context, audio *model.AudioArtifact) error
}

// SynthesisError reports that speech could not be rendered or delivered.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech %s failed: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Synthesizer owns the speech engine. Calls are serialized so the engine is
// never used by two callers at once.
type Synthesizer struct {
	mu      sync.Mutex
	engine  Engine
	player  Player
	workDir string
	logger  *slog.Logger
}

func NewSynthesizer(engine Engine, player Player, workDir string, logger *slog.Logger) (*Synthesizer, error) {
	if engine == nil {
		return nil, errors.New("speech engine is required")
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create work dir")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		engine:  engine,
		player:  player,
		workDir: workDir,
		logger:  logger,
	}, nil
}

// SynthesizeToFile renders text into the work directory and returns the
// artifact read back from disk. The audio file is written to a temp file and
// renamed only after it is closed, so a failed call never leaves a partial
// output_audio.mp3 behind.
func (s *Synthesizer) SynthesizeToFile(ctx context.Context, text string) (*model.AudioArtifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Op: "render", Err: errors.New("nothing to say")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := s.engine.Render(ctx, text)
	if err != nil {
		return nil, &SynthesisError{Op: "render", Err: err}
	}
	path := filepath.Join(s.workDir, AudioFileName)
	if err := artifact.WriteFileAtomic(path, audio); err != nil {
		return nil, &SynthesisError{Op: "write", Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SynthesisError{Op: "read", Err: err}
	}
	s.logger.Debug("speech rendered", "path", path, "bytes", len(data))
	return model.NewAudioArtifact(data), nil
}

// Speak renders text and plays it without keeping a file. It is a separate
// engine call from SynthesizeToFile.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s.player == nil {
		return &SynthesisError{Op: "play", Err: errors.New("no playback channel")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := s.engine.Render(ctx, text)
	if err != nil {
		return &SynthesisError{Op: "render", Err: err}
	}
	if err := s.player.Play(ctx, model.NewAudioArtifact(audio)); err != nil {
		return &SynthesisError{Op: "play", Err: err}
	}
	return nil
}
