package config

import (
	"fmt"

	"github.com/jorgevx/escriba/pkg/document"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// Overrides is the per-job subset of profile fields a submitter may change.
// Nil pointers leave the base profile value untouched.
type Overrides struct {
	ModelSize           *ModelSize `yaml:"model_size" json:"model_size,omitempty"`
	Language            *Language  `yaml:"language" json:"language,omitempty"`
	Temperature         *float64   `yaml:"temperature" json:"temperature,omitempty"`
	VADEnabled          *bool      `yaml:"vad_enabled" json:"vad_enabled,omitempty"`
	MinSpeakers         *int       `yaml:"min_speakers" json:"min_speakers,omitempty"`
	MaxSpeakers         *int       `yaml:"max_speakers" json:"max_speakers,omitempty"`
	ClusteringThreshold *float64   `yaml:"clustering_threshold" json:"clustering_threshold,omitempty"`
	ChunkSeconds        *int       `yaml:"chunk_seconds" json:"chunk_seconds,omitempty"`
	OverlapSeconds      *int       `yaml:"overlap_seconds" json:"overlap_seconds,omitempty"`
	UseGPU              *bool      `yaml:"use_gpu" json:"use_gpu,omitempty"`
	NoiseFilter         *bool      `yaml:"noise_filter" json:"noise_filter,omitempty"`
	NormalizeAudio      *bool      `yaml:"normalize_audio" json:"normalize_audio,omitempty"`
}

// Effective is the fully resolved per-job configuration handed to the
// adapters. It is immutable for the life of the job.
type Effective struct {
	Profile

	// ParticipantsExpected is the roster injected into the bundle. The
	// speaker-count force rule has already been applied when it holds two or
	// more entries.
	ParticipantsExpected []document.RosterParticipant
}

// Resolve merges, in order: the base profile, the per-job overrides, and the
// roster-derived speaker bounds. When the roster holds two or more
// participants, min_speakers and max_speakers are pinned to the roster size
// so the diarization model cannot return more or fewer labels.
//
// The merged result is validated against the documented ranges before it is
// returned.
func Resolve(base Profile, ov Overrides, roster []document.RosterParticipant) (Effective, error) {
	p := withDefaults(base)

	if ov.ModelSize != nil {
		p.ModelSize = *ov.ModelSize
	}
	if ov.Language != nil {
		p.Language = *ov.Language
	}
	if ov.Temperature != nil {
		p.Temperature = *ov.Temperature
	}
	if ov.VADEnabled != nil {
		p.VADEnabled = *ov.VADEnabled
	}
	if ov.MinSpeakers != nil {
		p.MinSpeakers = *ov.MinSpeakers
	}
	if ov.MaxSpeakers != nil {
		p.MaxSpeakers = *ov.MaxSpeakers
	}
	if ov.ClusteringThreshold != nil {
		p.ClusteringThreshold = *ov.ClusteringThreshold
	}
	if ov.ChunkSeconds != nil {
		p.ChunkSeconds = *ov.ChunkSeconds
	}
	if ov.OverlapSeconds != nil {
		p.OverlapSeconds = *ov.OverlapSeconds
	}
	if ov.UseGPU != nil {
		p.UseGPU = *ov.UseGPU
	}
	if ov.NoiseFilter != nil {
		p.NoiseFilter = *ov.NoiseFilter
	}
	if ov.NormalizeAudio != nil {
		p.NormalizeAudio = *ov.NormalizeAudio
	}

	// Roster-derived speaker bounds win over both profile and overrides.
	if len(roster) >= 2 {
		p.MinSpeakers = len(roster)
		p.MaxSpeakers = len(roster)
	}

	if err := ValidateProfile(p); err != nil {
		return Effective{}, fmt.Errorf("config: resolve: %w", err)
	}

	return Effective{
		Profile:              p,
		ParticipantsExpected: roster,
	}, nil
}

// withDefaults fills the zero-valued fields of p from [DefaultProfileValues].
func withDefaults(p Profile) Profile {
	def := DefaultProfileValues()
	if p.ModelSize == "" {
		p.ModelSize = def.ModelSize
	}
	if p.Language == "" {
		p.Language = def.Language
	}
	if p.MinSpeakers == 0 {
		p.MinSpeakers = def.MinSpeakers
	}
	if p.MaxSpeakers == 0 {
		p.MaxSpeakers = def.MaxSpeakers
	}
	if p.ClusteringThreshold == 0 {
		p.ClusteringThreshold = def.ClusteringThreshold
	}
	if p.ChunkSeconds == 0 {
		p.ChunkSeconds = def.ChunkSeconds
	}
	if p.OverlapSeconds == 0 {
		p.OverlapSeconds = def.OverlapSeconds
	}
	return p
}

// STTOptions projects the effective config onto the STT adapter's option set.
func (e Effective) STTOptions() stt.Options {
	return stt.Options{
		ModelSize:   string(e.ModelSize),
		Language:    string(e.Language),
		Temperature: e.Temperature,
		VADEnabled:  e.VADEnabled,
	}
}

// DiarizeOptions projects the effective config onto the diarization adapter's
// option set.
func (e Effective) DiarizeOptions() diarize.Options {
	return diarize.Options{
		MinSpeakers:         e.MinSpeakers,
		MaxSpeakers:         e.MaxSpeakers,
		ClusteringThreshold: e.ClusteringThreshold,
	}
}
