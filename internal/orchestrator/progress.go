package orchestrator

import (
	"strings"

	"github.com/studiumlab/atelier/internal/domain"
)

// StageRule associates an identifying fragment of a node's class type (or
// its exact id) with a pipeline stage. Rules are configuration, matched in
// order with first match winning, so a backend rename means editing a table
// rather than chasing string literals.
type StageRule struct {
	Fragment string
	Stage    domain.Stage
}

// DefaultStageRules covers the stock fastSDXL workflows.
func DefaultStageRules() []StageRule {
	return []StageRule{
		{Fragment: "KSampler", Stage: domain.StageSampling},
		{Fragment: "VAEDecode", Stage: domain.StagePostprocessing},
		{Fragment: "SaveImage", Stage: domain.StagePostprocessing},
		{Fragment: "LoadImage", Stage: domain.StagePreprocessing},
		{Fragment: "ImageScale", Stage: domain.StagePreprocessing},
		{Fragment: "VAEEncode", Stage: domain.StagePreprocessing},
	}
}

// Stage weights for conditioned-mode estimation, in percentage points.
const (
	preprocessingWeight  = 30.0
	samplingWeight       = 60.0
	preprocessingStep    = 4.0
	preprocessingCeiling = 20.0
	postprocessingMark   = 95.0
)

// Estimator maps backend execution events onto a single monotonic 0-100
// percentage for one request. State is reset only by constructing a new
// estimator for the next request.
type Estimator struct {
	mode          domain.Mode
	rules         []StageRule
	stage         domain.Stage
	executedNodes map[string]struct{}
	lastPercent   float64
}

// NewEstimator constructs an estimator for one request. Nil rules means
// DefaultStageRules.
func NewEstimator(mode domain.Mode, rules []StageRule) *Estimator {
	if rules == nil {
		rules = DefaultStageRules()
	}
	return &Estimator{
		mode:          mode,
		rules:         rules,
		stage:         domain.StageIdle,
		executedNodes: make(map[string]struct{}),
	}
}

// Stage returns the current pipeline stage.
func (e *Estimator) Stage() domain.Stage { return e.stage }

// Percent returns the last reported percentage.
func (e *Estimator) Percent() float64 { return e.lastPercent }

// ObserveNode classifies a node-executing event and advances the stage and
// percentage. The label is the node's class type when the submitted template
// knows it, otherwise the raw node id.
func (e *Estimator) ObserveNode(nodeID, label string) (domain.Stage, float64) {
	stage, ok := e.classify(nodeID, label)
	if !ok {
		return e.stage, e.lastPercent
	}
	e.advance(stage)

	if e.stage == domain.StagePreprocessing && e.mode == domain.ModeImg2Img {
		// No step counts during preprocessing: climb a fixed increment per
		// distinct executed node, capped below the stage's full weight.
		if _, seen := e.executedNodes[nodeID]; !seen {
			e.executedNodes[nodeID] = struct{}{}
			climb := float64(len(e.executedNodes)) * preprocessingStep
			if climb > preprocessingCeiling {
				climb = preprocessingCeiling
			}
			e.raise(climb)
		}
	}
	if e.stage == domain.StagePostprocessing {
		e.raise(postprocessingMark)
	}
	return e.stage, e.lastPercent
}

// ObserveSampling folds a step-level progress event into the percentage.
func (e *Estimator) ObserveSampling(value, max int) (domain.Stage, float64) {
	if max <= 0 {
		return e.stage, e.lastPercent
	}
	e.advance(domain.StageSampling)
	frac := float64(value) / float64(max)
	if frac > 1 {
		frac = 1
	}
	if e.mode == domain.ModeImg2Img {
		e.raise(preprocessingWeight + frac*samplingWeight)
	} else {
		e.raise(frac * 100)
	}
	return e.stage, e.lastPercent
}

// Complete forces the terminal state regardless of the intermediate estimate.
func (e *Estimator) Complete() (domain.Stage, float64) {
	e.advance(domain.StageCompleted)
	e.raise(100)
	return e.stage, e.lastPercent
}

func (e *Estimator) classify(nodeID, label string) (domain.Stage, bool) {
	for _, rule := range e.rules {
		if rule.Fragment == nodeID || (label != "" && strings.Contains(label, rule.Fragment)) {
			return rule.Stage, true
		}
	}
	return domain.StageIdle, false
}

// advance moves the stage forward only; a late event for an earlier stage
// never rewinds it.
func (e *Estimator) advance(stage domain.Stage) {
	if stageRank(stage) > stageRank(e.stage) {
		e.stage = stage
	}
}

// raise is the monotonicity guard: the reported percentage never decreases.
func (e *Estimator) raise(percent float64) {
	if percent > e.lastPercent {
		e.lastPercent = percent
	}
}

func stageRank(s domain.Stage) int {
	switch s {
	case domain.StagePreprocessing:
		return 1
	case domain.StageSampling:
		return 2
	case domain.StagePostprocessing:
		return 3
	case domain.StageCompleted:
		return 4
	default:
		return 0
	}
}
