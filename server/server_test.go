package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/mrsingh-rishi/image-narrator/artifact"
	"github.com/mrsingh-rishi/image-narrator/model"
	"github.com/mrsingh-rishi/image-narrator/output"
	"github.com/mrsingh-rishi/image-narrator/pipeline"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCatalog []model.ModelName

func (c fakeCatalog) Models() []model.ModelName { return c }

type fakePipeline struct {
	voice     func(audio <-chan []byte) string
	mu        sync.Mutex
	narrated  []string
	requests  []model.InferenceRequest
	result    model.Result
	withAudio bool
}

func (p *fakePipeline) Submit(_ context.Context, req model.InferenceRequest) pipeline.Response {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	resp := pipeline.Response{ID: "sub-1", Result: p.result}
	if !p.result.OK() {
		return resp
	}
	var audio *model.AudioArtifact
	if p.withAudio {
		audio = model.NewAudioArtifact([]byte("ID3fake"))
	}
	bundle, _ := artifact.NewPackager().Package(p.result.Text(), audio)
	resp.Bundle = &bundle
	return resp
}

func (p *fakePipeline) Narrate(_ context.Context, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.narrated = append(p.narrated, msg)
}

func (p *fakePipeline) PromptFromVoice(_ context.Context, audio <-chan []byte, _ time.Duration) string {
	if p.voice != nil {
		return p.voice(audio)
	}
	var parts []string
	for chunk := range audio {
		parts = append(parts, string(chunk))
	}
	return strings.Join(parts, " ")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, fields map[string]string, upload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if upload != nil {
		fw, err := w.CreateFormFile("image", "square.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(upload)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestServer(p *fakePipeline) *Server {
	catalog := fakeCatalog{model.ModelPhiVision, model.ModelFlorence, model.ModelGroq}
	return New(p, catalog, output.NewWebSocketOutput(quiet()), time.Second, quiet())
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestModelsAndModes(t *testing.T) {
	s := newTestServer(&fakePipeline{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if err != nil {
		t.Fatal(err)
	}
	var models struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &models); err != nil {
		t.Fatal(err)
	}
	if len(models.Models) != 3 || models.Models[2] != "Groq" {
		t.Errorf("models = %v", models.Models)
	}

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/modes", nil))
	if err != nil {
		t.Fatal(err)
	}
	var modes struct {
		Modes []modeResponse `json:"modes"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &modes); err != nil {
		t.Fatal(err)
	}
	if len(modes.Modes) != 4 || modes.Modes[0].Prompt != "Describe the image for a blind person." {
		t.Errorf("modes = %+v", modes.Modes)
	}
}

func TestUploadNarrates(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p)

	resp, err := s.App().Test(multipartRequest(t, "/api/images", nil, pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if len(p.narrated) != 1 || p.narrated[0] != pipeline.MsgUploaded {
		t.Errorf("narrated = %v", p.narrated)
	}

	resp, err = s.App().Test(multipartRequest(t, "/api/images", nil, []byte("not an image")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("garbage upload status = %d", resp.StatusCode)
	}
}

func TestSubmitThenDownload(t *testing.T) {
	p := &fakePipeline{result: model.Success("A **red** square."), withAudio: true}
	s := newTestServer(p)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/result/zip", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("download before submit status = %d", resp.StatusCode)
	}

	fields := map[string]string{"model": "Groq", "mode": "Default Mode"}
	resp, err = s.App().Test(multipartRequest(t, "/api/submit", fields, pngBytes(t)), -1)
	if err != nil {
		t.Fatal(err)
	}
	var out submitResponse
	if err := json.Unmarshal([]byte(readBody(t, resp)), &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || out.Result != "A **red** square." {
		t.Errorf("submit response = %+v", out)
	}
	if !out.Downloads["zip"].Available || out.Downloads["zip"].URL != "/api/result/zip" {
		t.Errorf("zip status = %+v", out.Downloads["zip"])
	}
	if got := p.requests[0]; got.Prompt != "Describe the image for a blind person." || got.Image.Empty() {
		t.Errorf("request = %+v", got)
	}

	cases := []struct {
		path, mime, name string
	}{
		{"/api/result/text", artifact.TextMIMEType, artifact.TextFileName},
		{"/api/result/audio", model.AudioMIMEType, artifact.AudioFileName},
		{"/api/result/zip", artifact.ZipMIMEType, artifact.ZipFileName},
	}
	for _, tc := range cases {
		resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", tc.path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != tc.mime {
			t.Errorf("%s content type = %q", tc.path, ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, tc.name) {
			t.Errorf("%s disposition = %q", tc.path, cd)
		}
	}

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/result/preview", nil))
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "<strong>red</strong>") {
		t.Errorf("preview = %q", body)
	}
}

func TestSubmitWithoutAudioHidesZip(t *testing.T) {
	p := &fakePipeline{result: model.Success("A red square.")}
	s := newTestServer(p)

	resp, err := s.App().Test(multipartRequest(t, "/api/submit", map[string]string{"model": "Groq", "prompt": "x"}, pngBytes(t)), -1)
	if err != nil {
		t.Fatal(err)
	}
	var out submitResponse
	if err := json.Unmarshal([]byte(readBody(t, resp)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Downloads["zip"].Available || out.Downloads["zip"].Reason == "" {
		t.Errorf("zip status = %+v", out.Downloads["zip"])
	}
	if !out.Downloads["text"].Available {
		t.Errorf("text status = %+v", out.Downloads["text"])
	}

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/result/zip", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("zip status = %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != artifact.ReasonNoAudio {
		t.Errorf("zip body = %q", body)
	}
}

func TestSubmitFailure(t *testing.T) {
	p := &fakePipeline{result: model.Failure("Unsupported model selected")}
	s := newTestServer(p)

	resp, err := s.App().Test(multipartRequest(t, "/api/submit", map[string]string{"model": "Nope", "prompt": "x"}, nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	var out submitResponse
	if err := json.Unmarshal([]byte(readBody(t, resp)), &out); err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Result != "Error: Unsupported model selected" || out.Downloads != nil {
		t.Errorf("submit response = %+v", out)
	}
	if !p.requests[0].Image.Empty() {
		t.Error("request without upload should carry an empty image")
	}
}

func TestWebSocketRoutesRequireUpgrade(t *testing.T) {
	s := newTestServer(&fakePipeline{})
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/voice", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func listen(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.App().Listener(ln)
	t.Cleanup(func() { s.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func TestVoiceWebSocket(t *testing.T) {
	s := newTestServer(&fakePipeline{})
	base := listen(t, s)

	conn, _, err := gws.DefaultDialer.Dial(base+"/ws/voice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, chunk := range []string{"what", "is", "this"} {
		if err := conn.WriteMessage(gws.BinaryMessage, []byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if err := conn.WriteMessage(gws.TextMessage, []byte("done")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply struct {
		Prompt string `json:"prompt"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Prompt != "what is this" {
		t.Errorf("prompt = %q", reply.Prompt)
	}
}

func TestNarrationWebSocket(t *testing.T) {
	s := newTestServer(&fakePipeline{})
	base := listen(t, s)

	conn, _, err := gws.DefaultDialer.Dial(base+"/ws/narration", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.narration.Listeners() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.narration.Play(context.Background(), model.NewAudioArtifact([]byte("ID3fake"))); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var media struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&media); err != nil {
		t.Fatalf("read media: %v", err)
	}
	if media.Event != "media" {
		t.Errorf("event = %q", media.Event)
	}
}

func TestVoiceWebSocketStopsReadingAfterCaptureEnds(t *testing.T) {
	p := &fakePipeline{voice: func(audio <-chan []byte) string {
		// The capture window closes after the first chunk.
		return string(<-audio)
	}}
	s := newTestServer(p)
	base := listen(t, s)

	for i := 0; i < 5; i++ {
		conn, _, err := gws.DefaultDialer.Dial(base+"/ws/voice", nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}

		stop := make(chan struct{})
		sent := make(chan struct{})
		go func() {
			defer close(sent)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := conn.WriteMessage(gws.BinaryMessage, []byte("chunk")); err != nil {
					return
				}
			}
		}()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply struct {
			Prompt string `json:"prompt"`
		}
		err = conn.ReadJSON(&reply)
		close(stop)
		conn.Close()
		<-sent
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if reply.Prompt != "chunk" {
			t.Errorf("prompt = %q", reply.Prompt)
		}
	}
}
