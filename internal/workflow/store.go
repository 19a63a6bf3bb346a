package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
)

// StoreOptions configures the template store.
type StoreOptions struct {
	// BaseURL is the root the per-mode template documents are served under.
	BaseURL string
	// Paths maps a generation mode to the template document path. Defaults
	// cover the stock text2img/img2img workflow files.
	Paths      map[domain.Mode]string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Store fetches job templates, caches one immutable copy per mode for the
// session, and hands out independent deep copies on every Load. The cache is
// explicit state owned by the store; Clear drops it so the next Load re-fetches.
type Store struct {
	baseURL    string
	paths      map[domain.Mode]string
	httpClient *http.Client
	logger     *infra.Logger

	mu     sync.Mutex
	cached map[domain.Mode]Template
}

// NewStore constructs a template store with sane defaults.
func NewStore(opts StoreOptions) *Store {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	paths := opts.Paths
	if paths == nil {
		paths = map[domain.Mode]string{
			domain.ModeText2Img: "/js/fastSDXLtext2img.json",
			domain.ModeImg2Img:  "/js/fastSDXLimg2img.json",
		}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Store{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		paths:      paths,
		httpClient: httpClient,
		logger:     logger,
		cached:     make(map[domain.Mode]Template),
	}
}

// Load returns a deep copy of the template for the given mode, fetching it on
// first use. A fetch or decode failure is fatal to the calling request and is
// not retried here; the caller decides whether to retry the whole generation.
func (s *Store) Load(ctx context.Context, mode domain.Mode) (Template, error) {
	s.mu.Lock()
	if tpl, ok := s.cached[mode]; ok {
		s.mu.Unlock()
		return tpl.Clone(), nil
	}
	s.mu.Unlock()

	tpl, err := s.fetch(ctx, mode)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A concurrent Load may have fetched first; either copy is equivalent.
	if existing, ok := s.cached[mode]; ok {
		tpl = existing
	} else {
		s.cached[mode] = tpl
	}
	s.mu.Unlock()

	return tpl.Clone(), nil
}

// Clear drops all cached templates so subsequent Loads fetch fresh copies.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cached = make(map[domain.Mode]Template)
	s.mu.Unlock()
}

func (s *Store) fetch(ctx context.Context, mode domain.Mode) (Template, error) {
	path, ok := s.paths[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no template path for mode %q", domain.ErrTemplateFetch, mode)
	}
	url := s.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrTemplateFetch, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTemplateFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d for %s", domain.ErrTemplateFetch, resp.StatusCode, url)
	}

	var tpl Template
	if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrTemplateFetch, url, err)
	}
	if len(tpl) == 0 {
		return nil, fmt.Errorf("%w: empty template at %s", domain.ErrTemplateFetch, url)
	}

	s.logger.Debug().
		Str("mode", string(mode)).
		Int("nodes", len(tpl)).
		Msg("workflow: template loaded")
	return tpl, nil
}
