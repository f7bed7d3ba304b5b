// Package reconcile fuses speech-to-text segments with mapped diarization
// turns into the canonical conversational document.
//
// Build never fails: if anything goes wrong mid-assembly the job still has to
// reach completion so an operator can inspect the partial output and re-run.
// A failed build yields a minimal document whose metadata carries the error.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jorgevx/escriba/internal/mapper"
	"github.com/jorgevx/escriba/pkg/document"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// Inputs bundles everything Build needs.
type Inputs struct {
	STT         stt.Result
	Diarization diarize.Result
	Mapping     document.SpeakerMapping
	Roster      []document.RosterParticipant
	Audio       document.AudioInfo
	Job         document.TranscriptionInfo
}

// Build assembles the canonical document from the raw model outputs.
//
// Empty STT segments are dropped. Each remaining segment is attributed to the
// diarization turn with the greatest temporal overlap, falling back to the
// chronologically nearest turn, falling back to the first speaker when no
// turns exist at all. The chosen label is translated through the mapping; the
// roster itself is never consulted here.
func Build(in Inputs, now time.Time) (doc document.Document) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reconciliation failed, emitting minimal document",
				"job_id", in.Job.JobID, "panic", r)
			doc = minimalDocument(in, fmt.Sprintf("reconciliation failed: %v", r), now)
		}
	}()

	segments := make([]document.Segment, 0, len(in.STT.Segments))
	var confidenceSum float64
	var confidenceN int

	for _, s := range in.STT.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}

		ref := speakerFor(s, in.Diarization.Turns, in.Mapping)
		start := document.Round2(s.Start)
		end := document.Round2(s.End)
		segments = append(segments, document.Segment{
			Start:        start,
			End:          end,
			Duration:     document.Round2(end - start),
			SpeakerName:  ref.DisplayName,
			SpeakerIndex: ref.Index,
			Text:         text,
		})
		if s.Confidence > 0 {
			confidenceSum += s.Confidence
			confidenceN++
		}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	turns := make([]document.DiarizationTurn, len(in.Diarization.Turns))
	for i, t := range in.Diarization.Turns {
		turns[i] = document.DiarizationTurn{
			Start: document.Round2(t.Start),
			End:   document.Round2(t.End),
			Label: t.Label,
		}
	}

	doc = document.Document{
		Header: document.Header{
			Audio:         in.Audio,
			Transcription: in.Job,
			Mapping:       in.Mapping,
			Diarization:   turns,
			Roster:        in.Roster,
		},
		Conversation: segments,
		Metadata: document.Metadata{
			StructureVersion:    document.StructureVersion,
			DiarizationDegraded: in.Diarization.Degraded,
		},
	}
	if confidenceN > 0 {
		doc.Metadata.AvgConfidence = document.Round2(confidenceSum / float64(confidenceN))
	}
	doc.RebuildDerived(in.Job.SubmittedBy, now)
	return doc
}

// speakerFor resolves the speaker reference for one STT segment.
func speakerFor(s stt.Segment, turns []diarize.Turn, mapping document.SpeakerMapping) document.SpeakerRef {
	if len(turns) == 0 {
		return fallbackRef(mapping)
	}

	best := -1
	bestOverlap := 0.0
	for i, t := range turns {
		o := overlap(s.Start, s.End, t.Start, t.End)
		if o > bestOverlap {
			bestOverlap = o
			best = i
		}
	}

	if best < 0 {
		// No overlapping turn; use the chronologically nearest one.
		bestDist := 0.0
		for i, t := range turns {
			d := distance(s.Start, s.End, t.Start, t.End)
			if best < 0 || d < bestDist {
				bestDist = d
				best = i
			}
		}
	}

	if ref, ok := mapping[turns[best].Label]; ok {
		return ref
	}
	return fallbackRef(mapping)
}

// fallbackRef is the speaker used when a segment cannot be attributed at all:
// the lowest-indexed mapped speaker, or a synthetic first speaker when the
// mapping is empty.
func fallbackRef(mapping document.SpeakerMapping) document.SpeakerRef {
	var best document.SpeakerRef
	found := false
	for _, ref := range mapping {
		if !found || ref.Index < best.Index {
			best = ref
			found = true
		}
	}
	if found {
		return best
	}
	return document.SpeakerRef{Index: 0, DisplayName: mapper.SyntheticName(0), Synthetic: true}
}

// overlap returns the length of the intersection of [aStart,aEnd] and
// [bStart,bEnd], or 0 when they do not intersect.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// distance returns the gap between two non-overlapping intervals.
func distance(aStart, aEnd, bStart, bEnd float64) float64 {
	if bStart > aEnd {
		return bStart - aEnd
	}
	if aStart > bEnd {
		return aStart - bEnd
	}
	return 0
}

// minimalDocument is the degraded output used when assembly panics.
func minimalDocument(in Inputs, errMsg string, now time.Time) document.Document {
	doc := document.Document{
		Header: document.Header{
			Audio:         in.Audio,
			Transcription: in.Job,
			Mapping:       document.SpeakerMapping{},
			Roster:        in.Roster,
		},
		Conversation: nil,
		Metadata: document.Metadata{
			StructureVersion: document.StructureVersion,
			Error:            errMsg,
		},
	}
	doc.RebuildDerived(in.Job.SubmittedBy, now)
	return doc
}
