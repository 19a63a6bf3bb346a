package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
)

// ArtifactFetcher is the slice of the backend client the verifier needs.
type ArtifactFetcher interface {
	ArtifactURL(artifact domain.ArtifactDescriptor, cacheBust bool) string
	FetchArtifact(ctx context.Context, artifact domain.ArtifactDescriptor, cacheBust bool) error
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	Fetcher ArtifactFetcher
	// RetryDelay is the wait before the single retry, long enough for the
	// backend's write to propagate. Zero means 3 seconds.
	RetryDelay time.Duration
	Logger     *infra.Logger
}

// Verifier confirms that declared output artifacts are actually retrievable.
// A first fetch failure is treated as a write-propagation race: wait, then
// retry exactly once with a cache-busting parameter. A second failure is
// terminal for that artifact and never retried further.
type Verifier struct {
	fetcher    ArtifactFetcher
	retryDelay time.Duration
	logger     *infra.Logger
}

// NewVerifier constructs a verifier with sane defaults.
func NewVerifier(opts VerifierOptions) *Verifier {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Verifier{fetcher: opts.Fetcher, retryDelay: delay, logger: logger}
}

// VerifyAll checks every artifact of one completed job concurrently and
// reports per-artifact outcomes in input order. A failed artifact never
// blocks siblings that did succeed.
func (v *Verifier) VerifyAll(ctx context.Context, artifacts []domain.ArtifactDescriptor) []domain.VerifiedArtifact {
	out := make([]domain.VerifiedArtifact, len(artifacts))
	var wg sync.WaitGroup
	for i, artifact := range artifacts {
		wg.Add(1)
		go func(i int, artifact domain.ArtifactDescriptor) {
			defer wg.Done()
			out[i] = v.Verify(ctx, artifact)
		}(i, artifact)
	}
	wg.Wait()
	return out
}

// Verify checks a single artifact.
func (v *Verifier) Verify(ctx context.Context, artifact domain.ArtifactDescriptor) domain.VerifiedArtifact {
	result := domain.VerifiedArtifact{
		Artifact: artifact,
		URL:      v.fetcher.ArtifactURL(artifact, false),
	}

	firstErr := v.fetcher.FetchArtifact(ctx, artifact, false)
	if firstErr == nil {
		result.OK = true
		return result
	}
	v.logger.Debug().
		Err(firstErr).
		Str("filename", artifact.Filename).
		Msg("orchestrator: artifact not yet retrievable, retrying once")

	select {
	case <-ctx.Done():
		result.Err = fmt.Errorf("%w: %v", domain.ErrArtifactVerification, ctx.Err())
		return result
	case <-time.After(v.retryDelay):
	}

	if err := v.fetcher.FetchArtifact(ctx, artifact, true); err != nil {
		v.logger.Warn().
			Err(err).
			Str("filename", artifact.Filename).
			Msg("orchestrator: artifact verification failed")
		result.Err = fmt.Errorf("%w: %v", domain.ErrArtifactVerification, err)
		return result
	}
	result.OK = true
	result.URL = v.fetcher.ArtifactURL(artifact, false)
	return result
}
