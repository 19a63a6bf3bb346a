// Package comfy is the boundary to the node-graph execution backend: job
// submission and image upload over HTTP, plus the websocket event channel.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
	"github.com/studiumlab/atelier/internal/workflow"
)

// Options configures the backend client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the generation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type queueRequest struct {
	Prompt   workflow.Template `json:"prompt"`
	ClientID string            `json:"client_id"`
}

// QueueAck is the backend's acknowledgment of an accepted submission.
type QueueAck struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// QueuePrompt submits a mutated job template. A non-success status is a hard
// failure for that submission.
func (c *Client) QueuePrompt(ctx context.Context, tpl workflow.Template, clientID string) (*QueueAck, error) {
	body, err := json.Marshal(queueRequest{Prompt: tpl, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrSubmission, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrSubmission, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmission, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrSubmission, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrSubmission, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var ack QueueAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrSubmission, err)
	}
	c.logger.Debug().
		Str("prompt_id", ack.PromptID).
		Int("nodes", len(tpl)).
		Msg("comfy: prompt queued")
	return &ack, nil
}

// UploadImage stores a conditioning image on the backend and returns the
// authoritative stored filename stripped of any path components. The returned
// name, not the client-supplied one, must be used downstream.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("%w: build form: %v", domain.ErrUpload, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: write form: %v", domain.ErrUpload, err)
	}
	if err := mw.WriteField("type", "input"); err != nil {
		return "", fmt.Errorf("%w: write form: %v", domain.ErrUpload, err)
	}
	if err := mw.WriteField("subfolder", ""); err != nil {
		return "", fmt.Errorf("%w: write form: %v", domain.ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: close form: %v", domain.ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrUpload, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrUpload, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrUpload, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrUpload, err)
	}
	name := bareFilename(decoded.Name)
	if name == "" {
		return "", fmt.Errorf("%w: empty stored name", domain.ErrUpload)
	}
	c.logger.Debug().Str("name", name).Msg("comfy: image uploaded")
	return name, nil
}

// ArtifactURL builds the retrieval URL for a declared output artifact. With
// cacheBust set, a throwaway query parameter defeats intermediary caches on a
// verification retry.
func (c *Client) ArtifactURL(artifact domain.ArtifactDescriptor, cacheBust bool) string {
	u := c.baseURL + "/output/" + joinURLPath(artifact.Subfolder, artifact.Filename)
	if cacheBust {
		u += "?rand=" + url.QueryEscape(fmt.Sprintf("%d", time.Now().UnixNano()))
	}
	return u
}

// FetchArtifact attempts one retrieval of the artifact. A non-success status
// or empty body means "not yet available", not "does not exist"; the caller
// owns the retry window.
func (c *Client) FetchArtifact(ctx context.Context, artifact domain.ArtifactDescriptor, cacheBust bool) error {
	target := c.ArtifactURL(artifact, cacheBust)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("comfy: build artifact request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("comfy: artifact status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("comfy: read artifact: %w", err)
	}
	if n == 0 {
		return errors.New("comfy: artifact body empty")
	}
	return nil
}

func bareFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	if base := path.Base(name); base != "." && base != "/" {
		return base
	}
	return ""
}

func joinURLPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
