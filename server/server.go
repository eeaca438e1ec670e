package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"

	"github.com/mrsingh-rishi/image-narrator/model"
	"github.com/mrsingh-rishi/image-narrator/output"
	"github.com/mrsingh-rishi/image-narrator/pipeline"
	"github.com/mrsingh-rishi/image-narrator/prompt"
)

const (
	bodyLimit      = 20 << 20
	noResultYet    = "no result available"
	uploadRequired = "image file is required"
)

// Submitter is the part of the pipeline the HTTP layer drives.
type Submitter interface {
	Submit(ctx context.Context, req model.InferenceRequest) pipeline.Response
	Narrate(ctx context.Context, msg string)
	PromptFromVoice(ctx context.Context, audio <-chan []byte, window time.Duration) string
}

// Catalog lists the selectable models.
type Catalog interface {
	Models() []model.ModelName
}

type Server struct {
	app         *fiber.App
	pipeline    Submitter
	catalog     Catalog
	narration   *output.WebSocketOutput
	voiceWindow time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	current *pipeline.Response
}

func New(p Submitter, catalog Catalog, narration *output.WebSocketOutput, voiceWindow time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			BodyLimit:             bodyLimit,
			DisableStartupMessage: true,
		}),
		pipeline:    p,
		catalog:     catalog,
		narration:   narration,
		voiceWindow: voiceWindow,
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("fiber server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	api := s.app.Group("/api")
	api.Get("/models", s.handleModels)
	api.Get("/modes", s.handleModes)
	api.Post("/images", s.handleUpload)
	api.Post("/submit", s.handleSubmit)
	api.Get("/result/text", s.download(func(b *model.Bundle) model.Artifact { return b.Text }))
	api.Get("/result/audio", s.download(func(b *model.Bundle) model.Artifact { return b.Audio }))
	api.Get("/result/zip", s.download(func(b *model.Bundle) model.Artifact { return b.Zip }))
	api.Get("/result/preview", s.handlePreview)

	// Middleware to require WebSocket upgrade on /ws
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/narration", websocket.New(s.handleNarration))
	s.app.Get("/ws/voice", websocket.New(s.handleVoice))
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	names := []string{}
	for _, m := range s.catalog.Models() {
		names = append(names, string(m))
	}
	return c.JSON(fiber.Map{"models": names})
}

type modeResponse struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleModes(c *fiber.Ctx) error {
	modes := []modeResponse{}
	for _, m := range prompt.Modes() {
		modes = append(modes, modeResponse{Name: string(m), Prompt: prompt.DefaultPrompt(m)})
	}
	return c.JSON(fiber.Map{"modes": modes})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	img, err := readImage(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	s.pipeline.Narrate(c.UserContext(), pipeline.MsgUploaded)
	return c.JSON(fiber.Map{
		"name":      img.Name,
		"mime_type": img.MIMEType,
		"size":      len(img.Bytes),
	})
}

// readImage returns the decoded "image" form file. A missing file is an
// error here; handleSubmit treats it as an empty image instead.
func readImage(c *fiber.Ctx) (model.Image, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return model.Image{}, errors.New(uploadRequired)
	}
	f, err := fh.Open()
	if err != nil {
		return model.Image{}, errors.Wrap(err, "open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return model.Image{}, errors.Wrap(err, "read upload")
	}
	return model.NewImage(fh.Filename, data)
}

type artifactStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	URL       string `json:"url,omitempty"`
}

type submitResponse struct {
	ID        string                    `json:"id"`
	OK        bool                      `json:"ok"`
	Result    string                    `json:"result"`
	Warnings  []string                  `json:"warnings,omitempty"`
	Downloads map[string]artifactStatus `json:"downloads,omitempty"`
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	req := model.InferenceRequest{
		Model:  model.ModelName(c.FormValue("model")),
		Prompt: c.FormValue("prompt"),
	}
	if req.Prompt == "" {
		if mode := c.FormValue("mode"); mode != "" {
			req.Prompt = prompt.DefaultPrompt(prompt.Mode(mode))
		}
	}
	if _, err := c.FormFile("image"); err == nil {
		img, err := readImage(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		req.Image = img
	}

	resp := s.pipeline.Submit(c.UserContext(), req)

	s.mu.Lock()
	s.current = &resp
	s.mu.Unlock()

	out := submitResponse{
		ID:       resp.ID,
		OK:       resp.Result.OK(),
		Result:   resp.Result.String(),
		Warnings: resp.Warnings,
	}
	if resp.Bundle != nil {
		out.Downloads = map[string]artifactStatus{
			"text":  status(resp.Bundle.Text, "/api/result/text"),
			"audio": status(resp.Bundle.Audio, "/api/result/audio"),
			"zip":   status(resp.Bundle.Zip, "/api/result/zip"),
		}
	}
	return c.JSON(out)
}

func status(a model.Artifact, url string) artifactStatus {
	st := artifactStatus{Name: a.Name, Available: a.Available(), Reason: a.Unavailable}
	if st.Available {
		st.URL = url
	}
	return st
}

func (s *Server) currentBundle() *model.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Bundle
}

func (s *Server) download(pick func(*model.Bundle) model.Artifact) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bundle := s.currentBundle()
		if bundle == nil {
			return c.Status(fiber.StatusNotFound).SendString(noResultYet)
		}
		a := pick(bundle)
		if !a.Available() {
			return c.Status(fiber.StatusNotFound).SendString(a.Unavailable)
		}
		c.Attachment(a.Name)
		c.Set(fiber.HeaderContentType, a.MIMEType)
		return c.Send(a.Bytes)
	}
}

func (s *Server) handlePreview(c *fiber.Ctx) error {
	bundle := s.currentBundle()
	if bundle == nil || !bundle.Text.Available() {
		return c.Status(fiber.StatusNotFound).SendString(noResultYet)
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(bundle.Text.Bytes, &buf); err != nil {
		s.logger.Error("preview render failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString("preview unavailable")
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// handleNarration keeps the socket registered with the narration broadcaster
// until the client goes away.
func (s *Server) handleNarration(conn *websocket.Conn) {
	defer conn.Close()
	detach := s.narration.Attach(conn)
	defer detach()
	s.logger.Info("narration listener connected", "listeners", s.narration.Listeners())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Debug("narration listener gone", "error", err)
			return
		}
	}
}

// handleVoice reads binary audio frames until a text frame, a close or the
// capture window ends, then replies with the recognized prompt. The reader
// goroutine has exited before the handler returns, since the connection is
// recycled once the handler is done.
func (s *Server) handleVoice(conn *websocket.Conn) {
	defer conn.Close()

	audio := make(chan []byte, 16)
	done := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(audio)
		for {
			select {
			case <-done:
				return
			default:
			}
			mt, msg, err := conn.ReadMessage()
			if err != nil || mt == websocket.TextMessage {
				return
			}
			select {
			case audio <- msg:
			case <-done:
				return
			}
		}
	}()

	text := s.pipeline.PromptFromVoice(context.Background(), audio, s.voiceWindow)
	close(done)
	// Unblock a pending ReadMessage, then wait for the reader.
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		s.logger.Debug("voice read deadline error", "error", err)
	}
	<-readerDone

	if err := conn.WriteJSON(fiber.Map{"prompt": text}); err != nil {
		s.logger.Warn("voice reply write error", "error", err)
	}
}
