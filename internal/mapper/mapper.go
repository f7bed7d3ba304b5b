// Package mapper assigns detected diarization labels to roster participants
// by chronological first appearance.
//
// The contract is "first to speak = first in roster": detected labels are
// ordered by the earliest start time across their intervals and the k-th
// label is assigned to the k-th roster entry. The roster's own listing order
// never influences which label a participant gets — an earlier revision of
// the system assigned by roster order and produced inverted speakers whenever
// the second-listed person opened the meeting. Callers are responsible for
// ordering the roster by expected speaking order.
//
// The mapping is a pure function of the diarization result and the roster:
// re-sorting conversation lines later can never change it.
package mapper

import (
	"fmt"
	"log/slog"

	"github.com/jorgevx/escriba/pkg/document"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
)

// SyntheticName returns the display name used for speakers beyond the roster,
// "Speaker_<k>".
func SyntheticName(k int) string {
	return fmt.Sprintf("Speaker_%d", k)
}

// Map builds the speaker mapping for a diarization result and a roster.
//
// Labels are ordered by minimum interval start, ties broken lexicographically
// on the label string so the result is deterministic. The k-th label maps to
// roster[k] when the roster is long enough; any excess labels become
// synthetic speakers. With an empty roster every label is synthetic.
//
// Roster entries beyond the number of detected labels get no mapping entry;
// they still appear in the document header's roster but never in the
// conversation.
func Map(diar diarize.Result, roster []document.RosterParticipant) document.SpeakerMapping {
	labels := diar.Labels()
	mapping := make(document.SpeakerMapping, len(labels))

	for k, label := range labels {
		if k < len(roster) {
			mapping[label] = document.SpeakerRef{
				Index:       roster[k].Index,
				DisplayName: roster[k].DisplayName(),
			}
			continue
		}
		mapping[label] = document.SpeakerRef{
			Index:       k,
			DisplayName: SyntheticName(k),
			Synthetic:   true,
		}
	}

	if len(roster) > 0 && len(labels) > len(roster) {
		// The diarization adapter should have pinned the speaker count; more
		// labels than roster entries means the pin was not honoured.
		slog.Warn("diarization returned more labels than roster entries",
			"labels", len(labels), "roster", len(roster))
	}

	return mapping
}
