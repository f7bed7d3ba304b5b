// Package diarize defines the Provider interface for speaker-diarization
// backends.
//
// A diarization provider answers "who spoke when": it returns labelled time
// intervals where each label is an opaque speaker identifier chosen by the
// model (e.g. "SPEAKER_00"). Labels carry no roster meaning on their own; the
// chronological mapper resolves them to participants.
//
// When the job carries a roster of two or more expected participants, the
// provider must be forced to detect exactly that many speakers. The
// configuration resolver sets MinSpeakers = MaxSpeakers = len(roster) and
// implementations must honour the pinned count rather than their natural
// clustering.
package diarize

import (
	"context"
	"sort"
)

// Options is the diarization configuration subset handed to a provider.
type Options struct {
	// MinSpeakers and MaxSpeakers bound the number of distinct labels the
	// model may return. When equal, the count is pinned.
	MinSpeakers int
	MaxSpeakers int

	// ClusteringThreshold tunes the speaker-embedding clustering in
	// [0.1, 1.0]. Zero means the backend default.
	ClusteringThreshold float64
}

// Turn is one labelled speaker interval. Times are seconds from the start of
// the audio.
type Turn struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// Result is the complete output of one Diarize call. Intervals sharing a
// label are disjoint; intervals of different labels may overlap.
type Result struct {
	Turns []Turn

	// Degraded is true when the result is the single-speaker substitute
	// produced because the diarization backend was unavailable. The job still
	// completes; the flag is surfaced in the document metadata.
	Degraded bool
}

// Labels returns the distinct labels in the result, ordered by the minimum
// start time of their intervals, ties broken lexicographically.
func (r Result) Labels() []string {
	first := make(map[string]float64)
	for _, t := range r.Turns {
		if cur, ok := first[t.Label]; !ok || t.Start < cur {
			first[t.Label] = t.Start
		}
	}
	labels := make([]string, 0, len(first))
	for l := range first {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if first[a] != first[b] {
			return first[a] < first[b]
		}
		return a < b
	})
	return labels
}

// SingleSpeaker returns the degraded fallback result: one label covering the
// whole recording. Used when the diarization backend is unavailable so the
// job can still complete.
func SingleSpeaker(durationSeconds float64) Result {
	if durationSeconds <= 0 {
		durationSeconds = 1
	}
	return Result{
		Turns:    []Turn{{Start: 0, End: durationSeconds, Label: "SPEAKER_00"}},
		Degraded: true,
	}
}

// Provider is the abstraction over any speaker-diarization backend.
type Provider interface {
	// Diarize analyses the audio file at path and returns its speaker turns.
	// Failures are reported as provider.ModelError values using the same kind
	// taxonomy as the STT providers.
	Diarize(ctx context.Context, path string, opts Options) (Result, error)
}
