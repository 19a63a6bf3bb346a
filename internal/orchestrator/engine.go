// Package orchestrator reconciles the backend's low-level execution events
// back to the requests that caused them: template mutation, submission,
// FIFO correlation, progress estimation and artifact verification.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiumlab/atelier/internal/comfy"
	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
	"github.com/studiumlab/atelier/internal/styles"
	"github.com/studiumlab/atelier/internal/workflow"
)

// Submitter is the slice of the backend client the engine submits through.
type Submitter interface {
	QueuePrompt(ctx context.Context, tpl workflow.Template, clientID string) (*comfy.QueueAck, error)
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
}

// TemplateLoader yields independent template copies per mode.
type TemplateLoader interface {
	Load(ctx context.Context, mode domain.Mode) (workflow.Template, error)
}

// ImageFile is a raw conditioning image supplied by the photo-capture
// collaborator.
type ImageFile struct {
	Name string
	Data []byte
}

// GenerateInput describes one generation command from the UI collaborator.
type GenerateInput struct {
	Mode         domain.Mode
	PositiveText string
	NegativeText string
	// StyleIDs name catalog styles whose fragments are spliced into the
	// prompts before moderation.
	StyleIDs []string
	Settings domain.SettingsSnapshot
	// ConditioningImage is uploaded first in img2img mode. Alternatively
	// ConditioningImageRef names an image already stored on the backend.
	ConditioningImage    *ImageFile
	ConditioningImageRef string
}

// Options configures the engine.
type Options struct {
	ClientID  string
	Loader    TemplateLoader
	Mutator   *workflow.Mutator
	Submitter Submitter
	Verifier  *Verifier
	Queue     Correlator
	// StageRules overrides the node classification table. Nil means defaults.
	StageRules []StageRule
	// JobTimeout is the watchdog ceiling after which the oldest pending
	// request is failed with an unknown outcome. Zero means 10 minutes.
	JobTimeout time.Duration
	// CompletionLinger is the pause between reporting 100% and delivering
	// the result, letting the terminal progress state be visible.
	CompletionLinger time.Duration
	// OnProgress, when set, receives stage and percentage updates.
	OnProgress func(domain.ProgressUpdate)
	Logger     *infra.Logger
}

// Engine is the orchestration core. One Run loop consumes backend events
// while Generate drives submissions; submissions are single-flight because
// progress events carry no request id (lifting the gate only requires the
// event routing below, which already targets the oldest pending request).
type Engine struct {
	clientID         string
	loader           TemplateLoader
	mutator          *workflow.Mutator
	submitter        Submitter
	verifier         *Verifier
	queue            Correlator
	stageRules       []StageRule
	jobTimeout       time.Duration
	completionLinger time.Duration
	onProgress       func(domain.ProgressUpdate)
	logger           *infra.Logger

	mu       sync.Mutex
	flights  map[uint64]*flight
	gateHeld bool
}

type flight struct {
	estimator  *Estimator
	classTypes map[string]string
	resultCh   chan domain.GenerationResult
}

// NewEngine constructs the engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("orchestrator: client id is required")
	}
	if opts.Loader == nil || opts.Mutator == nil || opts.Submitter == nil || opts.Verifier == nil {
		return nil, fmt.Errorf("orchestrator: loader, mutator, submitter and verifier are required")
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewSubmissionQueue()
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Engine{
		clientID:         opts.ClientID,
		loader:           opts.Loader,
		mutator:          opts.Mutator,
		submitter:        opts.Submitter,
		verifier:         opts.Verifier,
		queue:            queue,
		stageRules:       opts.StageRules,
		jobTimeout:       jobTimeout,
		completionLinger: opts.CompletionLinger,
		onProgress:       opts.OnProgress,
		logger:           logger,
		flights:          make(map[uint64]*flight),
	}, nil
}

// Run consumes backend events until the channel closes or the context ends.
// Call it once, in its own goroutine, before the first Generate.
func (e *Engine) Run(ctx context.Context, events <-chan comfy.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(ctx, event)
		}
	}
}

// Generate runs one generation end to end: optional image upload, template
// acquisition and mutation, submission, then blocks until the completion
// event is paired and every declared artifact verified, the watchdog ceiling
// elapses, or the context ends.
func (e *Engine) Generate(ctx context.Context, input GenerateInput) (*domain.GenerationResult, error) {
	if input.Mode == "" {
		input.Mode = domain.ModeText2Img
	}

	if !e.tryAcquire() {
		return nil, domain.ErrBusy
	}
	release := true
	defer func() {
		if release {
			// Nothing was enqueued; just drop the gate.
			e.mu.Lock()
			e.gateHeld = false
			e.mu.Unlock()
		}
	}()

	positive, negative := styles.Compose(input.PositiveText, input.NegativeText, input.StyleIDs...)

	imageRef := input.ConditioningImageRef
	if input.Mode == domain.ModeImg2Img && input.ConditioningImage != nil {
		name, err := e.submitter.UploadImage(ctx, input.ConditioningImage.Name, input.ConditioningImage.Data)
		if err != nil {
			return nil, err
		}
		imageRef = name
	}
	if input.Mode == domain.ModeImg2Img && imageRef == "" {
		return nil, domain.ErrMissingConditioningImage
	}

	tpl, err := e.loader.Load(ctx, input.Mode)
	if err != nil {
		return nil, err
	}
	mutation, err := e.mutator.Apply(tpl, input.Mode, input.Settings, positive, negative, imageRef)
	if err != nil {
		return nil, err
	}

	req := e.queue.Enqueue(domain.GenerationRequest{
		PositiveText:         mutation.FilteredPositive,
		NegativeText:         mutation.FilteredNegative,
		Mode:                 input.Mode,
		ConditioningImageRef: imageRef,
		Settings:             input.Settings.Normalize(),
	})
	fl := e.register(req, mutation.Template)
	release = false

	if _, err := e.submitter.QueuePrompt(ctx, mutation.Template, e.clientID); err != nil {
		// Never leave an unacknowledged request queued: it would desync the
		// FIFO pairing for every request after it.
		e.abandon(req.ID)
		return nil, err
	}
	e.logger.Info().
		Uint64("request_id", req.ID).
		Str("mode", string(input.Mode)).
		Msg("orchestrator: generation submitted")
	e.emit(req.ID, domain.StageIdle, 0)

	select {
	case result := <-fl.resultCh:
		return &result, nil
	case <-time.After(e.jobTimeout):
		e.abandon(req.ID)
		e.logger.Error().
			Uint64("request_id", req.ID).
			Dur("timeout", e.jobTimeout).
			Msg("orchestrator: completion never arrived")
		return nil, domain.ErrWatchdogTimeout
	case <-ctx.Done():
		e.abandon(req.ID)
		return nil, ctx.Err()
	}
}

func (e *Engine) handleEvent(ctx context.Context, event comfy.Event) {
	switch event.Type {
	case comfy.EventProgress:
		req, fl, ok := e.current()
		if !ok {
			return
		}
		stage, percent := fl.estimator.ObserveSampling(event.Progress.Value, event.Progress.Max)
		e.emit(req.ID, stage, percent)
	case comfy.EventExecuting:
		req, fl, ok := e.current()
		if !ok {
			return
		}
		stage, percent := fl.estimator.ObserveNode(event.Executing.Node, fl.classTypes[event.Executing.Node])
		e.emit(req.ID, stage, percent)
	case comfy.EventExecuted:
		if len(event.Executed.Output.Images) == 0 {
			return
		}
		req, ok := e.queue.DequeueOldest()
		if !ok {
			e.logger.Warn().
				Err(domain.ErrQueueDesync).
				Msg("orchestrator: ignoring stray completion event")
			return
		}
		// Verification waits on network and fixed delays; run it off the
		// event loop so channel reads keep up.
		go e.complete(ctx, req, event.Executed.Output.Images)
	}
}

func (e *Engine) complete(ctx context.Context, req domain.GenerationRequest, artifacts []domain.ArtifactDescriptor) {
	verified := e.verifier.VerifyAll(ctx, artifacts)
	result := domain.GenerationResult{Request: req, Artifacts: verified}

	// Look the flight up only after verification: the caller may have
	// abandoned the request while VerifyAll ran (watchdog fired, context
	// canceled), and by then the gate can belong to a newer generation.
	e.mu.Lock()
	fl, ok := e.flights[req.ID]
	e.mu.Unlock()
	if !ok {
		// Completion for a request nobody is waiting on. The queue entry
		// was consumed either way.
		e.logger.Warn().
			Uint64("request_id", req.ID).
			Msg("orchestrator: completion for abandoned request")
		return
	}

	_, percent := fl.estimator.Complete()
	e.emit(req.ID, domain.StageCompleted, percent)
	if e.completionLinger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(e.completionLinger):
		}
	}

	e.unregister(req.ID)
	fl.resultCh <- result
}

// current resolves the request the backend is executing right now: the
// oldest pending one.
func (e *Engine) current() (domain.GenerationRequest, *flight, bool) {
	req, ok := e.queue.Oldest()
	if !ok {
		return domain.GenerationRequest{}, nil, false
	}
	e.mu.Lock()
	fl, ok := e.flights[req.ID]
	e.mu.Unlock()
	if !ok {
		return domain.GenerationRequest{}, nil, false
	}
	return req, fl, true
}

func (e *Engine) register(req domain.GenerationRequest, tpl workflow.Template) *flight {
	classTypes := make(map[string]string, len(tpl))
	for id, node := range tpl {
		classTypes[id] = node.ClassType
	}
	fl := &flight{
		estimator:  NewEstimator(req.Mode, e.stageRules),
		classTypes: classTypes,
		resultCh:   make(chan domain.GenerationResult, 1),
	}
	e.mu.Lock()
	e.flights[req.ID] = fl
	e.mu.Unlock()
	return fl
}

// unregister drops the flight and lifts the gate, but only when the id is
// still registered: a stale completion must not release a gate a newer
// generation holds.
func (e *Engine) unregister(id uint64) {
	e.mu.Lock()
	if _, ok := e.flights[id]; ok {
		delete(e.flights, id)
		e.gateHeld = false
	}
	e.mu.Unlock()
}

func (e *Engine) abandon(id uint64) {
	e.queue.Remove(id)
	e.unregister(id)
}

func (e *Engine) tryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gateHeld {
		return false
	}
	e.gateHeld = true
	return true
}

func (e *Engine) emit(requestID uint64, stage domain.Stage, percent float64) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(domain.ProgressUpdate{RequestID: requestID, Stage: stage, Percent: percent})
}
