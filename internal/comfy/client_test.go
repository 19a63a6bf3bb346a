package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/workflow"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestQueuePromptPayloadAndAck(t *testing.T) {
	var got struct {
		Prompt   map[string]json.RawMessage `json:"prompt"`
		ClientID string                     `json:"client_id"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"prompt_id": "abc-123", "number": 7}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tpl := workflow.Template{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"steps": 20}},
	}
	ack, err := c.QueuePrompt(context.Background(), tpl, "client-xyz")
	if err != nil {
		t.Fatalf("QueuePrompt error: %v", err)
	}
	if ack.PromptID != "abc-123" || ack.Number != 7 {
		t.Fatalf("ack = %+v", ack)
	}
	if got.ClientID != "client-xyz" {
		t.Fatalf("submitted client_id = %q", got.ClientID)
	}
	if _, ok := got.Prompt["3"]; !ok {
		t.Fatalf("submitted prompt missing node: %v", got.Prompt)
	}
}

func TestQueuePromptRejectionWrapsSubmissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.QueuePrompt(context.Background(), workflow.Template{}, "client")
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("error = %v, want ErrSubmission", err)
	}
	if !strings.Contains(err.Error(), "invalid prompt") {
		t.Fatalf("error lost the backend message: %v", err)
	}
}

func TestUploadImageFormAndStoredName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("type"); got != "input" {
			t.Errorf("type field = %q", got)
		}
		if _, ok := r.MultipartForm.Value["subfolder"]; !ok {
			t.Errorf("subfolder field missing")
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image field: %v", err)
		} else {
			file.Close()
			if header.Filename != "photo.png" {
				t.Errorf("uploaded filename = %q", header.Filename)
			}
		}
		// Backends may return the name with a path; callers get the base.
		w.Write([]byte(`{"name": "subdir\\photo (1).png", "subfolder": "", "type": "input"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	name, err := c.UploadImage(context.Background(), "photo.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("UploadImage error: %v", err)
	}
	if name != "photo (1).png" {
		t.Fatalf("stored name = %q", name)
	}
}

func TestUploadImageFailuresWrapUploadError(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer rejecting.Close()

	c := newTestClient(t, rejecting.URL)
	if _, err := c.UploadImage(context.Background(), "a.png", nil); !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("status error = %v, want ErrUpload", err)
	}

	nameless := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": ""}`))
	}))
	defer nameless.Close()

	c = newTestClient(t, nameless.URL)
	if _, err := c.UploadImage(context.Background(), "a.png", nil); !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("empty-name error = %v, want ErrUpload", err)
	}
}

func TestArtifactURL(t *testing.T) {
	c := newTestClient(t, "http://backend:8188/")

	artifact := domain.ArtifactDescriptor{Subfolder: "gradio/session_abc", Filename: "img.png"}
	if got := c.ArtifactURL(artifact, false); got != "http://backend:8188/output/gradio/session_abc/img.png" {
		t.Fatalf("URL = %q", got)
	}
	if got := c.ArtifactURL(domain.ArtifactDescriptor{Filename: "img.png"}, false); got != "http://backend:8188/output/img.png" {
		t.Fatalf("URL without subfolder = %q", got)
	}
	busted := c.ArtifactURL(artifact, true)
	if !strings.HasPrefix(busted, "http://backend:8188/output/gradio/session_abc/img.png?rand=") {
		t.Fatalf("cache-busted URL = %q", busted)
	}
}

func TestFetchArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/output/ok.png":
			w.Write([]byte("pixels"))
		case "/output/empty.png":
			// 200 with no body still counts as not yet available.
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if err := c.FetchArtifact(ctx, domain.ArtifactDescriptor{Filename: "ok.png"}, false); err != nil {
		t.Fatalf("FetchArtifact(ok) error: %v", err)
	}
	if err := c.FetchArtifact(ctx, domain.ArtifactDescriptor{Filename: "empty.png"}, false); err == nil {
		t.Fatalf("empty body should be an error")
	}
	if err := c.FetchArtifact(ctx, domain.ArtifactDescriptor{Filename: "gone.png"}, false); err == nil {
		t.Fatalf("missing artifact should be an error")
	}
}
