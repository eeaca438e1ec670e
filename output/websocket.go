package output

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/model"
)

// MarkPlaybackDone is the mark name sent after each narration clip.
const MarkPlaybackDone = "narration sent"

// FrameWriter is the part of a websocket connection the broadcaster needs.
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

type mediaEvent struct {
	Event string `json:"event"`
	Media struct {
		MIMEType string `json:"mime_type"`
		Payload  string `json:"payload"`
	} `json:"media"`
}

type markEvent struct {
	Event string `json:"event"`
	Mark  struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// WebSocketOutput sends narration audio to every connected listener as a
// base64 media event followed by a mark event.
type WebSocketOutput struct {
	mu        sync.Mutex
	listeners map[FrameWriter]struct{}
	logger    *slog.Logger
}

func NewWebSocketOutput(logger *slog.Logger) *WebSocketOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketOutput{
		listeners: make(map[FrameWriter]struct{}),
		logger:    logger,
	}
}

// Attach registers a listener and returns a function that detaches it.
func (o *WebSocketOutput) Attach(w FrameWriter) func() {
	o.mu.Lock()
	o.listeners[w] = struct{}{}
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.listeners, w)
		o.mu.Unlock()
	}
}

func (o *WebSocketOutput) Listeners() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

// Play writes audio to all listeners. Listeners whose write fails are
// dropped. With nobody listening the clip is discarded.
func (o *WebSocketOutput) Play(ctx context.Context, audio *model.AudioArtifact) error {
	if audio == nil || len(audio.Bytes) == 0 {
		return errors.New("no audio to play")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var media mediaEvent
	media.Event = "media"
	media.Media.MIMEType = audio.MIMEType
	media.Media.Payload = base64.StdEncoding.EncodeToString(audio.Bytes)
	var mark markEvent
	mark.Event = "mark"
	mark.Mark.Name = MarkPlaybackDone

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.listeners) == 0 {
		o.logger.Debug("narration dropped, no listeners")
		return nil
	}
	for w := range o.listeners {
		if err := w.WriteJSON(media); err != nil {
			o.logger.Warn("narration media write error", "error", err)
			delete(o.listeners, w)
			continue
		}
		if err := w.WriteJSON(mark); err != nil {
			o.logger.Warn("narration mark write error", "error", err)
			delete(o.listeners, w)
		}
	}
	return nil
}
