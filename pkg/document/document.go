// Package document defines the canonical conversational document produced by
// reconciling speech-to-text output with mapped speaker-diarization output,
// together with its stable JSON wire form, derived projections, and invariant
// validation.
//
// A document is created exactly once, when its job completes. Afterwards it is
// mutated only through the document store's edit operations, which call
// [Document.RebuildDerived] so that the structured-text projection and the
// metadata totals never drift from the conversation.
package document

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// StructureVersion identifies the current document layout.
const StructureVersion = "v1"

// RosterParticipant is one expected participant, supplied with the job.
// Index is the authoritative ordering; index 0 is the participant expected to
// speak first.
type RosterParticipant struct {
	Index        int    `json:"index"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	Role         string `json:"role,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// DisplayName returns "GivenName FamilyName" with either part omitted when
// empty.
func (p RosterParticipant) DisplayName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}

// SpeakerRef identifies a speaker in the mapping: the roster (or synthetic)
// index plus the human-readable name shown in the document.
type SpeakerRef struct {
	Index       int    `json:"index"`
	DisplayName string `json:"display_name"`

	// Synthetic marks speakers not present in the roster, either because the
	// roster was shorter than the detected label set or because an editor
	// added the speaker after completion.
	Synthetic bool `json:"synthetic,omitempty"`
}

// SpeakerMapping maps detected diarization labels (e.g. "SPEAKER_00") to
// speakers. It is a pure function of the diarization result and the roster;
// see the mapper package.
type SpeakerMapping map[string]SpeakerRef

// RefByName returns the mapping entry whose display name equals name.
func (m SpeakerMapping) RefByName(name string) (SpeakerRef, bool) {
	for _, ref := range m {
		if ref.DisplayName == name {
			return ref, true
		}
	}
	return SpeakerRef{}, false
}

// DisplayNames returns all display names in the mapping, unordered.
func (m SpeakerMapping) DisplayNames() []string {
	names := make([]string, 0, len(m))
	for _, ref := range m {
		names = append(names, ref.DisplayName)
	}
	return names
}

// MaxIndex returns the highest speaker index in the mapping, or -1 when the
// mapping is empty.
func (m SpeakerMapping) MaxIndex() int {
	max := -1
	for _, ref := range m {
		if ref.Index > max {
			max = ref.Index
		}
	}
	return max
}

// DiarizationTurn is one raw speaker interval as produced by the diarization
// model, kept in the header so the chronological mapping can be recomputed
// and audited after the fact.
type DiarizationTurn struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// Segment is a single conversational line: a speech interval attributed to
// one speaker.
type Segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Duration     float64 `json:"duration"`
	SpeakerName  string  `json:"speaker_display_name"`
	SpeakerIndex int     `json:"speaker_index"`
	Text         string  `json:"text"`
	Edited       bool    `json:"edited"`
	EditOrigin   string  `json:"edit_origin,omitempty"`
}

// AudioInfo is the snapshot of the input artifact taken at reconciliation time.
type AudioInfo struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"`
	Enhanced        bool    `json:"enhanced,omitempty"`
}

// TranscriptionInfo records how the document was produced.
type TranscriptionInfo struct {
	JobID            string    `json:"job_id"`
	ModelSize        string    `json:"model_size,omitempty"`
	Language         string    `json:"language,omitempty"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	SubmittedBy      string    `json:"submitted_by,omitempty"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// Header carries the audio and job snapshots, the speaker mapping, the raw
// diarization turns the mapping was derived from, and the full roster.
type Header struct {
	Audio         AudioInfo           `json:"audio"`
	Transcription TranscriptionInfo   `json:"transcription"`
	Mapping       SpeakerMapping      `json:"mapping"`
	Diarization   []DiarizationTurn   `json:"diarization,omitempty"`
	Roster        []RosterParticipant `json:"roster"`
}

// Metadata holds document totals and edit bookkeeping. All totals are derived
// from the conversation and regenerated on every write.
type Metadata struct {
	Segments            int       `json:"segments"`
	Speakers            int       `json:"speakers"`
	Words               int       `json:"words"`
	DurationSeconds     float64   `json:"duration_seconds"`
	AvgConfidence       float64   `json:"avg_confidence,omitempty"`
	LastEditAt          time.Time `json:"last_edit_at"`
	LastEditor          string    `json:"last_editor,omitempty"`
	StructureVersion    string    `json:"structure_version"`
	DiarizationDegraded bool      `json:"diarization_degraded,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// Document is the canonical post-reconciliation document.
type Document struct {
	Header         Header    `json:"header"`
	Conversation   []Segment `json:"conversation"`
	StructuredText string    `json:"structured_text"`
	Metadata       Metadata  `json:"metadata"`
}

// Round2 rounds v to two decimal places, the precision used for all times in
// the wire format.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatTimestamp renders seconds as zero-padded "MM:SS".
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// StructuredLine renders one structured-text line for s, in the stable
// "MM:SS,<display name>,<text>" form. Embedded newlines and carriage returns
// in the text are collapsed to single spaces so that every segment occupies
// exactly one line.
func StructuredLine(s Segment) string {
	text := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s.Text)
	return FormatTimestamp(s.Start) + "," + s.SpeakerName + "," + text
}

// RebuildDerived regenerates the structured-text projection and the metadata
// totals from the conversation, stamping the given editor and edit time. It
// must be called after every mutation of Conversation or Header.Mapping.
func (d *Document) RebuildDerived(editor string, at time.Time) {
	lines := make([]string, len(d.Conversation))
	words := 0
	speakerSet := make(map[int]struct{})
	var duration float64

	for i, seg := range d.Conversation {
		lines[i] = StructuredLine(seg)
		words += len(strings.Fields(seg.Text))
		speakerSet[seg.SpeakerIndex] = struct{}{}
		duration += seg.Duration
	}

	d.StructuredText = strings.Join(lines, "\n")
	d.Metadata.Segments = len(d.Conversation)
	d.Metadata.Speakers = len(speakerSet)
	d.Metadata.Words = words
	d.Metadata.DurationSeconds = Round2(duration)
	d.Metadata.LastEditAt = at
	d.Metadata.LastEditor = editor
	if d.Metadata.StructureVersion == "" {
		d.Metadata.StructureVersion = StructureVersion
	}
}
