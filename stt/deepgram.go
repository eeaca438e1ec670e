package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/queue"
)

const DefaultListenURL = "wss://api.deepgram.com/v1/listen?model=nova-2&language=en-US&punctuate=true&smart_format=true"

// CaptureErrorKind classifies why no prompt was produced.
type CaptureErrorKind int

const (
	Timeout CaptureErrorKind = iota
	Unintelligible
	ServiceUnavailable
)

func (k CaptureErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Unintelligible:
		return "unintelligible"
	default:
		return "service unavailable"
	}
}

// CaptureError is returned by Capture when no prompt could be recognized.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "voice capture: " + e.Kind.String()
	}
	return fmt.Sprintf("voice capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

type transcriptionMessage struct {
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Deepgram recognizes a spoken prompt through Deepgram's live
// transcription websocket.
type Deepgram struct {
	APIKey     string
	URL        string
	Dialer     *gws.Dialer
	CloseGrace time.Duration
	logger     *slog.Logger
}

func NewDeepgram(apiKey, url string, logger *slog.Logger) *Deepgram {
	if url == "" {
		url = DefaultListenURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deepgram{
		APIKey:     apiKey,
		URL:        url,
		Dialer:     gws.DefaultDialer,
		CloseGrace: 3 * time.Second,
		logger:     logger,
	}
}

// Capture streams audio chunks to Deepgram for at most window and returns the
// final transcript. It stops early when the audio channel is closed or when
// Deepgram marks the end of speech.
func (dg *Deepgram) Capture(ctx context.Context, audio <-chan []byte, window time.Duration) (string, error) {
	if dg.APIKey == "" {
		return "", &CaptureError{Kind: ServiceUnavailable, Err: errors.New("missing Deepgram API key")}
	}
	listenCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	header := http.Header{"Authorization": {fmt.Sprintf("Token %s", dg.APIKey)}}
	conn, _, err := dg.Dialer.DialContext(listenCtx, dg.URL, header)
	if err != nil {
		return "", &CaptureError{Kind: ServiceUnavailable, Err: errors.Wrap(err, "dial")}
	}
	defer conn.Close()

	transcripts := queue.New[string]()
	speechEnded := make(chan struct{}, 1)
	readDone := make(chan error, 1)
	go dg.listen(conn, transcripts, speechEnded, readDone)

	heard := false
	var streamErr error
	readFinished := false

stream:
	for {
		select {
		case <-listenCtx.Done():
			break stream
		case <-speechEnded:
			break stream
		case err := <-readDone:
			readFinished = true
			if err != nil && !gws.IsCloseError(err, gws.CloseNormalClosure) {
				streamErr = err
			}
			break stream
		case chunk, ok := <-audio:
			if !ok {
				break stream
			}
			if len(chunk) == 0 {
				continue
			}
			if err := conn.WriteMessage(gws.BinaryMessage, chunk); err != nil {
				streamErr = errors.Wrap(err, "send audio")
				break stream
			}
			heard = true
		}
	}

	if !readFinished {
		// Ask Deepgram to flush pending results, then wait briefly for them.
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"CloseStream"}`))
		select {
		case <-readDone:
		case <-time.After(dg.CloseGrace):
		case <-ctx.Done():
		}
	}

	text := strings.TrimSpace(strings.Join(transcripts.Drain(), " "))
	switch {
	case text != "":
		dg.logger.Info("voice prompt recognized", "chars", len(text))
		return text, nil
	case streamErr != nil:
		return "", &CaptureError{Kind: ServiceUnavailable, Err: streamErr}
	case !heard:
		return "", &CaptureError{Kind: Timeout}
	default:
		return "", &CaptureError{Kind: Unintelligible}
	}
}

func (dg *Deepgram) listen(conn *gws.Conn, transcripts *queue.Queue[string], speechEnded chan<- struct{}, done chan<- error) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}

		var transcription transcriptionMessage
		if err := json.Unmarshal(message, &transcription); err != nil {
			dg.logger.Debug("ignoring deepgram message", "error", err)
			continue
		}
		if !transcription.IsFinal || len(transcription.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(transcription.Channel.Alternatives[0].Transcript); text != "" {
			transcripts.Enqueue(text)
		}
		if transcription.SpeechFinal && !transcripts.IsEmpty() {
			select {
			case speechEnded <- struct{}{}:
			default:
			}
		}
	}
}
