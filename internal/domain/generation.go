package domain

import "time"

// Mode enumerates supported generation pipelines.
type Mode string

const (
	// ModeText2Img generates from text prompts alone.
	ModeText2Img Mode = "text2img"
	// ModeImg2Img conditions generation on a user-supplied image.
	ModeImg2Img Mode = "img2img"
)

// SeedMode selects between backend-randomized and caller-pinned seeds.
type SeedMode string

const (
	SeedModeRandom SeedMode = "random"
	SeedModeFixed  SeedMode = "fixed"
)

// OutputFormat enumerates the supported output aspect ratios.
type OutputFormat string

const (
	FormatSquare    OutputFormat = "square"
	FormatPortrait  OutputFormat = "portrait"
	FormatLandscape OutputFormat = "landscape"
)

// Default slider values applied when a settings snapshot omits them.
const (
	DefaultQualityPercent    = 15
	DefaultDefinitionPercent = 75
)

// SettingsSnapshot captures the user-facing generation knobs at submission
// time. Quality and definition are percentages in [0,100]; out-of-range
// values fall back to the defaults before they reach a template field.
type SettingsSnapshot struct {
	SeedMode          SeedMode
	SeedValue         string
	QualityPercent    int
	DefinitionPercent int
	OutputFormat      OutputFormat
}

// DefaultSettings returns the documented defaults for a snapshot whose
// values the caller did not supply.
func DefaultSettings() SettingsSnapshot {
	return SettingsSnapshot{
		SeedMode:          SeedModeRandom,
		QualityPercent:    DefaultQualityPercent,
		DefinitionPercent: DefaultDefinitionPercent,
		OutputFormat:      FormatSquare,
	}
}

// Normalize replaces out-of-range or unknown values with the documented
// defaults. In-range values, zero included, pass through unchanged.
func (s SettingsSnapshot) Normalize() SettingsSnapshot {
	out := s
	if out.SeedMode != SeedModeFixed {
		out.SeedMode = SeedModeRandom
	}
	if out.QualityPercent < 0 || out.QualityPercent > 100 {
		out.QualityPercent = DefaultQualityPercent
	}
	if out.DefinitionPercent < 0 || out.DefinitionPercent > 100 {
		out.DefinitionPercent = DefaultDefinitionPercent
	}
	switch out.OutputFormat {
	case FormatSquare, FormatPortrait, FormatLandscape:
	default:
		out.OutputFormat = FormatSquare
	}
	return out
}

// Dimensions returns the pixel size for the snapshot's output format.
func (s SettingsSnapshot) Dimensions() (width, height int) {
	switch s.OutputFormat {
	case FormatPortrait:
		return 1024, 1820
	case FormatLandscape:
		return 1820, 1024
	default:
		return 1024, 1024
	}
}

// GenerationRequest is the immutable record of one submitted generation,
// owned by the submission queue from enqueue until it is paired with a
// completion event.
type GenerationRequest struct {
	ID                   uint64
	PositiveText         string
	NegativeText         string
	Mode                 Mode
	ConditioningImageRef string
	Settings             SettingsSnapshot
	SubmittedAt          time.Time
}

// Clone returns an independent copy safe to hand to callers for replay.
func (r GenerationRequest) Clone() GenerationRequest {
	return r
}

// ArtifactDescriptor locates one backend-produced output file. Ephemeral:
// never persisted past the session.
type ArtifactDescriptor struct {
	Subfolder string `json:"subfolder"`
	Filename  string `json:"filename"`
	Kind      string `json:"type"`
}

// VerifiedArtifact pairs an artifact with the outcome of retrieval
// verification and the URL it was (or was not) fetched from.
type VerifiedArtifact struct {
	Artifact ArtifactDescriptor
	URL      string
	OK       bool
	Err      error
}

// GenerationResult is handed to the results collaborator once a completed
// job's artifacts have been verified.
type GenerationResult struct {
	Request   GenerationRequest
	Artifacts []VerifiedArtifact
}

// Succeeded reports whether at least one artifact verified successfully.
func (r GenerationResult) Succeeded() bool {
	for _, a := range r.Artifacts {
		if a.OK {
			return true
		}
	}
	return false
}

// Stage enumerates the phases of the backend pipeline as observed through
// its execution events.
type Stage string

const (
	StageIdle           Stage = "idle"
	StagePreprocessing  Stage = "preprocessing"
	StageSampling       Stage = "sampling"
	StagePostprocessing Stage = "postprocessing"
	StageCompleted      Stage = "completed"
)

// ProgressUpdate is delivered to the progress collaborator as events arrive.
// Percent is monotonically non-decreasing for one request.
type ProgressUpdate struct {
	RequestID uint64
	Stage     Stage
	Percent   float64
}
