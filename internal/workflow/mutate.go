package workflow

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/studiumlab/atelier/internal/domain"
)

// NodeMap names the template nodes the mutator writes, keyed by role rather
// than inferred from identifier substrings. Every id listed in a required
// role must exist in the template; a miss is a configuration error.
type NodeMap struct {
	// Sampler carries seed, steps and (when it exposes one) the cfg field.
	Sampler string
	// Latent is the empty-latent node sized in text2img mode.
	Latent string
	// PositiveEncodes and NegativeEncodes receive the moderated prompt texts.
	// In img2img mode they also receive width/height conditioning fields.
	PositiveEncodes []string
	NegativeEncodes []string
	// Save receives the output path prefix.
	Save string
	// LoadImage receives the conditioning image reference (img2img only).
	LoadImage string
	// Scale is the optional image-scale node sized in img2img mode.
	Scale string
	// LoRA is the optional style-adapter node checked against AllowedAdapters.
	LoRA string
}

// DefaultNodeMap matches the stock fastSDXL workflow documents.
func DefaultNodeMap() NodeMap {
	return NodeMap{
		Sampler:         "3",
		Latent:          "5",
		PositiveEncodes: []string{"30"},
		NegativeEncodes: []string{"33"},
		Save:            "28",
		LoadImage:       "65",
		Scale:           "76",
		LoRA:            "63",
	}
}

// MutatorOptions configures a Mutator.
type MutatorOptions struct {
	Nodes NodeMap
	// AllowedAdapters is the style-adapter allow-list; an unlisted value in
	// the template is silently replaced by the first entry.
	AllowedAdapters []string
	// SessionFolder prefixes every output path.
	SessionFolder string
	// Now and SeedFn exist for tests; nil means wall clock and math/rand.
	Now    func() time.Time
	SeedFn func() int64
}

// Mutator applies a settings snapshot and moderated prompts onto a cloned
// template, producing a ready-to-submit job. It never touches the source
// template or any other in-flight clone.
type Mutator struct {
	nodes           NodeMap
	allowedAdapters []string
	sessionFolder   string
	now             func() time.Time
	seedFn          func() int64
}

// Mutation is the outcome of one Apply: the mutated template plus the values
// actually written, for display and replay.
type Mutation struct {
	Template         Template
	FilteredPositive string
	FilteredNegative string
	Seed             int64
	Steps            int
	CFG              float64
}

// NewMutator constructs a mutator with sane defaults.
func NewMutator(opts MutatorOptions) *Mutator {
	nodes := opts.Nodes
	if nodes.Sampler == "" {
		nodes = DefaultNodeMap()
	}
	adapters := opts.AllowedAdapters
	if len(adapters) == 0 {
		adapters = []string{"MJ52_v2.0.safetensors"}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seedFn := opts.SeedFn
	if seedFn == nil {
		seedFn = func() int64 { return rand.Int64N(10_000_000_000) }
	}
	return &Mutator{
		nodes:           nodes,
		allowedAdapters: adapters,
		sessionFolder:   strings.TrimRight(opts.SessionFolder, "/"),
		now:             now,
		seedFn:          seedFn,
	}
}

// Apply writes settings, prompts and the conditioning image reference into
// the given template clone. The mode decides which dimension and image nodes
// are touched. Moderation runs here so no unfiltered text can reach a
// template field.
func (m *Mutator) Apply(tpl Template, mode domain.Mode, settings domain.SettingsSnapshot, positive, negative, imageRef string) (*Mutation, error) {
	settings = settings.Normalize()

	if mode == domain.ModeImg2Img && imageRef == "" {
		return nil, domain.ErrMissingConditioningImage
	}

	sampler, err := m.node(tpl, m.nodes.Sampler, "sampler")
	if err != nil {
		return nil, err
	}

	seed := m.resolveSeed(settings)
	sampler.Inputs["seed"] = seed

	steps := mapSteps(settings.QualityPercent)
	sampler.Inputs["steps"] = steps

	cfg := 0.0
	if _, ok := sampler.Inputs["cfg"]; ok {
		cfg = mapCFG(settings.DefinitionPercent)
		sampler.Inputs["cfg"] = cfg
	}

	width, height := settings.Dimensions()
	switch mode {
	case domain.ModeImg2Img:
		for _, id := range append(append([]string{}, m.nodes.PositiveEncodes...), m.nodes.NegativeEncodes...) {
			enc, err := m.node(tpl, id, "text encode")
			if err != nil {
				return nil, err
			}
			enc.Inputs["width"] = width
			enc.Inputs["height"] = height
			enc.Inputs["target_width"] = width
			enc.Inputs["target_height"] = height
		}
		if m.nodes.Scale != "" {
			// Optional: only sized when the template carries it.
			if scale, err := m.node(tpl, m.nodes.Scale, "scale"); err == nil {
				scale.Inputs["width"] = width
				scale.Inputs["height"] = height
			}
		}
		load, err := m.node(tpl, m.nodes.LoadImage, "load image")
		if err != nil {
			return nil, err
		}
		load.Inputs["image"] = imageRef
	default:
		latent, err := m.node(tpl, m.nodes.Latent, "latent")
		if err != nil {
			return nil, err
		}
		latent.Inputs["width"] = width
		latent.Inputs["height"] = height
	}

	filteredPositive := FilterText(positive)
	filteredNegative := FilterText(negative)
	combinedNegative := ComposeNegative(negative)

	for _, id := range m.nodes.PositiveEncodes {
		enc, err := m.node(tpl, id, "positive encode")
		if err != nil {
			return nil, err
		}
		enc.Inputs["text_g"] = filteredPositive
		enc.Inputs["text_l"] = filteredPositive
	}
	for _, id := range m.nodes.NegativeEncodes {
		enc, err := m.node(tpl, id, "negative encode")
		if err != nil {
			return nil, err
		}
		enc.Inputs["text_g"] = combinedNegative
		enc.Inputs["text_l"] = combinedNegative
	}

	save, err := m.node(tpl, m.nodes.Save, "save")
	if err != nil {
		return nil, err
	}
	save.Inputs["filename_prefix"] = m.outputPrefix()

	if m.nodes.LoRA != "" {
		if lora, ok := tpl[m.nodes.LoRA]; ok {
			if name, ok := lora.Inputs["lora_name"].(string); ok && !m.adapterAllowed(name) {
				lora.Inputs["lora_name"] = m.allowedAdapters[0]
			}
		}
	}

	return &Mutation{
		Template:         tpl,
		FilteredPositive: filteredPositive,
		FilteredNegative: filteredNegative,
		Seed:             seed,
		Steps:            steps,
		CFG:              cfg,
	}, nil
}

func (m *Mutator) node(tpl Template, id, role string) (Node, error) {
	node, ok := tpl[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s node %q", domain.ErrUnknownNode, role, id)
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]any)
		tpl[id] = node
	}
	return node, nil
}

func (m *Mutator) resolveSeed(settings domain.SettingsSnapshot) int64 {
	if settings.SeedMode == domain.SeedModeFixed {
		if v, err := strconv.ParseInt(strings.TrimSpace(settings.SeedValue), 10, 64); err == nil {
			return v
		}
	}
	return m.seedFn()
}

func (m *Mutator) adapterAllowed(name string) bool {
	for _, allowed := range m.allowedAdapters {
		if name == allowed {
			return true
		}
	}
	return false
}

func (m *Mutator) outputPrefix() string {
	timestamp := m.now().UTC().Format("2006-01-02-15-04-05")
	if m.sessionFolder == "" {
		return timestamp
	}
	return m.sessionFolder + "/" + timestamp
}

// mapSteps linearly maps a quality percentage in [0,100] onto the backend's
// accepted step range [5,30].
func mapSteps(quality int) int {
	steps := int(math.Round(5 + float64(clampPercent(quality))/100*25))
	if steps < 5 {
		steps = 5
	}
	if steps > 30 {
		steps = 30
	}
	return steps
}

// mapCFG linearly maps a definition percentage in [0,100] onto the guidance
// scale range [0.5,3.0], rounded to one decimal.
func mapCFG(definition int) float64 {
	cfg := 0.5 + float64(clampPercent(definition))/100*2.5
	cfg = math.Round(cfg*10) / 10
	if cfg < 0.5 {
		cfg = 0.5
	}
	if cfg > 3.0 {
		cfg = 3.0
	}
	return cfg
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
