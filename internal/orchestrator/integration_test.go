package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/studiumlab/atelier/internal/comfy"
	"github.com/studiumlab/atelier/internal/comfytest"
	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/workflow"
)

const integrationTemplate = `{
	"3":  {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20, "cfg": 8.0}},
	"5":  {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 512}},
	"30": {"class_type": "CLIPTextEncodeSDXL", "inputs": {"text_g": "", "text_l": ""}},
	"33": {"class_type": "CLIPTextEncodeSDXL", "inputs": {"text_g": "", "text_l": ""}},
	"28": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out"}}
}`

// Drives one generation through the real backend client, template store and
// websocket channel against the fake backend, artifact retry included.
func TestGenerationAgainstFakeBackend(t *testing.T) {
	backend := comfytest.New()
	defer backend.Close()
	backend.SetTemplate("fastSDXLtext2img.json", []byte(integrationTemplate))
	// First retrieval 404s, simulating the write still propagating.
	backend.SetArtifact("gradio", "img.png", []byte("pixels"), 1)

	client, err := comfy.NewClient(comfy.Options{BaseURL: backend.URL()})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	store := workflow.NewStore(workflow.StoreOptions{BaseURL: backend.URL()})
	mutator := workflow.NewMutator(workflow.MutatorOptions{SessionFolder: "gradio/session_int"})
	verifier := NewVerifier(VerifierOptions{Fetcher: client, RetryDelay: 5 * time.Millisecond})

	engine, err := NewEngine(Options{
		ClientID:  "client-int",
		Loader:    store,
		Mutator:   mutator,
		Submitter: client,
		Verifier:  verifier,
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel, err := comfy.Dial(ctx, "client-int", comfy.ChannelOptions{URL: backend.WSURL()})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer channel.Close()
	go engine.Run(ctx, channel.Events())

	type outcome struct {
		result *domain.GenerationResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Generate(ctx, GenerateInput{
			PositiveText: "a museum hall, nsfw",
			Settings:     domain.SettingsSnapshot{QualityPercent: 40, DefinitionPercent: 60},
		})
		done <- outcome{result, err}
	}()

	waitFor(t, "submission", func() bool { return len(backend.Submissions()) == 1 })

	sub := backend.Submissions()[0]
	if sub.ClientID != "client-int" {
		t.Fatalf("submitted client id = %q", sub.ClientID)
	}
	if got := sub.Prompt["30"].Inputs["text_g"]; got != "a museum hall" {
		t.Fatalf("submitted positive = %v, want moderated text", got)
	}
	neg, _ := sub.Prompt["33"].Inputs["text_g"].(string)
	if !strings.Contains(neg, "worst quality") {
		t.Fatalf("submitted negative lacks the hidden suffix: %q", neg)
	}

	events := []struct {
		kind string
		data any
	}{
		{"executing", map[string]any{"node": "3"}},
		{"progress", map[string]any{"value": 7, "max": 14}},
		{"progress", map[string]any{"value": 14, "max": 14}},
		{"executed", map[string]any{"output": map[string]any{
			"images": []map[string]any{{"subfolder": "gradio", "filename": "img.png", "type": "output"}},
		}}},
	}
	for _, ev := range events {
		if err := backend.SendEvent("client-int", ev.kind, ev.data); err != nil {
			t.Fatalf("SendEvent(%s) error: %v", ev.kind, err)
		}
	}

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("generation never completed")
	}
	if got.err != nil {
		t.Fatalf("Generate error: %v", got.err)
	}
	if len(got.result.Artifacts) != 1 {
		t.Fatalf("artifacts = %+v", got.result.Artifacts)
	}
	artifact := got.result.Artifacts[0]
	if !artifact.OK {
		t.Fatalf("artifact failed verification: %v", artifact.Err)
	}
	if !strings.HasSuffix(artifact.URL, "/output/gradio/img.png") {
		t.Fatalf("artifact URL = %q", artifact.URL)
	}
}

func TestGenerationRejectedByBackend(t *testing.T) {
	backend := comfytest.New()
	defer backend.Close()
	backend.SetTemplate("fastSDXLtext2img.json", []byte(integrationTemplate))
	backend.RejectNextPrompt()

	client, err := comfy.NewClient(comfy.Options{BaseURL: backend.URL()})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	queue := NewSubmissionQueue()
	engine, err := NewEngine(Options{
		ClientID:  "client-rej",
		Loader:    workflow.NewStore(workflow.StoreOptions{BaseURL: backend.URL()}),
		Mutator:   workflow.NewMutator(workflow.MutatorOptions{}),
		Submitter: client,
		Verifier:  NewVerifier(VerifierOptions{Fetcher: client, RetryDelay: time.Millisecond}),
		Queue:     queue,
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	if _, err := engine.Generate(context.Background(), GenerateInput{PositiveText: "p"}); err == nil {
		t.Fatalf("Generate should fail when the backend rejects the prompt")
	}
	if queue.Len() != 0 {
		t.Fatalf("rejected submission left %d entries queued", queue.Len())
	}
}
