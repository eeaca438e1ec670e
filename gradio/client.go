package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// DefaultAPIPrefix is where Gradio 5 Spaces mount their API routes. Gradio 4
// Spaces use an empty prefix.
const DefaultAPIPrefix = "/gradio_api"

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SpaceURL turns a Hugging Face Space id such as "maxiw/Phi-3.5-vision" into
// its direct host, https://maxiw-phi-3-5-vision.hf.space.
func SpaceURL(space string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(space), "-")
	return fmt.Sprintf("https://%s.hf.space", strings.Trim(slug, "-"))
}

// FileData is the handle Gradio expects for file inputs.
type FileData struct {
	Path     string            `json:"path"`
	OrigName string            `json:"orig_name,omitempty"`
	Meta     map[string]string `json:"meta"`
}

// Client talks to a single Gradio app.
type Client struct {
	BaseURL   string
	APIPrefix string
	Token     string
	HTTP      *http.Client
}

func NewClient(baseURL, apiPrefix, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIPrefix: apiPrefix,
		Token:     token,
		HTTP:      httpClient,
	}
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL + c.APIPrefix + path
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Upload stores data on the Gradio server and returns a handle that can be
// passed as a file argument to Predict.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (FileData, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", name)
	if err != nil {
		return FileData{}, err
	}
	if _, err := part.Write(data); err != nil {
		return FileData{}, err
	}
	if err := writer.Close(); err != nil {
		return FileData{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload"), &body)
	if err != nil {
		return FileData{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return FileData{}, errors.Wrap(err, "gradio upload")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "gradio upload"); err != nil {
		return FileData{}, err
	}

	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return FileData{}, errors.Wrap(err, "gradio upload: decode response")
	}
	if len(paths) == 0 {
		return FileData{}, errors.New("gradio upload: server returned no file path")
	}
	return FileData{
		Path:     paths[0],
		OrigName: name,
		Meta:     map[string]string{"_type": "gradio.FileData"},
	}, nil
}

// Predict calls a named endpoint such as "/run_example" with positional data
// and waits for the complete event.
func (c *Client) Predict(ctx context.Context, apiName string, data ...any) ([]json.RawMessage, error) {
	apiName = "/" + strings.TrimPrefix(apiName, "/")
	eventID, err := c.submit(ctx, apiName, data)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, apiName, eventID)
}

func (c *Client) submit(ctx context.Context, apiName string, data []any) (string, error) {
	if data == nil {
		data = []any{}
	}
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/call"+apiName), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "gradio %s", apiName)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "gradio "+apiName); err != nil {
		return "", err
	}

	var queued struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return "", errors.Wrapf(err, "gradio %s: decode event id", apiName)
	}
	if queued.EventID == "" {
		return "", errors.Errorf("gradio %s: missing event id", apiName)
	}
	return queued.EventID, nil
}

// await reads the server-sent event stream for eventID until the call
// completes or fails.
func (c *Client) await(ctx context.Context, apiName, eventID string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/call"+apiName+"/"+eventID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "gradio %s", apiName)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "gradio "+apiName); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				var out []json.RawMessage
				if err := json.Unmarshal([]byte(data), &out); err != nil {
					return nil, errors.Wrapf(err, "gradio %s: decode output", apiName)
				}
				return out, nil
			case "error":
				return nil, errors.Errorf("gradio %s: %s", apiName, describeError(data))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "gradio %s: read stream", apiName)
	}
	return nil, errors.Errorf("gradio %s: stream ended without a result", apiName)
}

func describeError(data string) string {
	if data == "" || data == "null" {
		return "the Space reported an error"
	}
	var msg string
	if err := json.Unmarshal([]byte(data), &msg); err == nil && msg != "" {
		return msg
	}
	return data
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Errorf("%s: authentication failed: %s", op, resp.Status)
	}
	return errors.Errorf("%s: bad status %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
}

// FirstString decodes the first output as a string. Non-string outputs are
// returned as their raw JSON text.
func FirstString(out []json.RawMessage) (string, error) {
	if len(out) == 0 {
		return "", errors.New("gradio: empty output")
	}
	var s string
	if err := json.Unmarshal(out[0], &s); err == nil {
		return s, nil
	}
	return string(out[0]), nil
}
