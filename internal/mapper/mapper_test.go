package mapper_test

import (
	"testing"

	"github.com/jorgevx/escriba/internal/mapper"
	"github.com/jorgevx/escriba/pkg/document"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
)

func testRoster() []document.RosterParticipant {
	return []document.RosterParticipant{
		{Index: 0, GivenName: "Beto", FamilyName: "Lima"},
		{Index: 1, GivenName: "Ely", FamilyName: "Soto"},
	}
}

func TestMapFirstToSpeakGetsFirstRosterEntry(t *testing.T) {
	t.Parallel()

	// SPEAKER_01 speaks first, so it must map to the first roster entry even
	// though its label sorts after SPEAKER_00.
	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 12.0, End: 20.0, Label: "SPEAKER_00"},
		{Start: 0.5, End: 11.5, Label: "SPEAKER_01"},
	}}

	m := mapper.Map(diar, testRoster())

	if got := m["SPEAKER_01"].DisplayName; got != "Beto Lima" {
		t.Errorf("SPEAKER_01 mapped to %q, want Beto Lima", got)
	}
	if got := m["SPEAKER_00"].DisplayName; got != "Ely Soto" {
		t.Errorf("SPEAKER_00 mapped to %q, want Ely Soto", got)
	}
}

func TestMapUsesEarliestIntervalPerLabel(t *testing.T) {
	t.Parallel()

	// SPEAKER_00's earliest interval (0.2) precedes SPEAKER_01's (1.0) even
	// though SPEAKER_00 also has a later interval.
	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 30.0, End: 40.0, Label: "SPEAKER_00"},
		{Start: 1.0, End: 25.0, Label: "SPEAKER_01"},
		{Start: 0.2, End: 0.9, Label: "SPEAKER_00"},
	}}

	m := mapper.Map(diar, testRoster())

	if got := m["SPEAKER_00"].DisplayName; got != "Beto Lima" {
		t.Errorf("SPEAKER_00 mapped to %q, want Beto Lima", got)
	}
}

func TestMapTieBreaksOnLabel(t *testing.T) {
	t.Parallel()

	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 0, End: 5, Label: "SPEAKER_01"},
		{Start: 0, End: 5, Label: "SPEAKER_00"},
	}}

	m := mapper.Map(diar, testRoster())

	if got := m["SPEAKER_00"].DisplayName; got != "Beto Lima" {
		t.Errorf("SPEAKER_00 mapped to %q, want Beto Lima", got)
	}
	if got := m["SPEAKER_01"].DisplayName; got != "Ely Soto" {
		t.Errorf("SPEAKER_01 mapped to %q, want Ely Soto", got)
	}
}

func TestMapExcessLabelsBecomeSynthetic(t *testing.T) {
	t.Parallel()

	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 0, End: 3, Label: "SPEAKER_00"},
		{Start: 4, End: 7, Label: "SPEAKER_01"},
		{Start: 8, End: 11, Label: "SPEAKER_02"},
	}}

	m := mapper.Map(diar, testRoster())

	ref, ok := m["SPEAKER_02"]
	if !ok {
		t.Fatal("SPEAKER_02 has no mapping entry")
	}
	if !ref.Synthetic {
		t.Error("excess label not marked synthetic")
	}
	if ref.DisplayName != mapper.SyntheticName(2) {
		t.Errorf("synthetic name = %q, want %q", ref.DisplayName, mapper.SyntheticName(2))
	}
	if ref.Index != 2 {
		t.Errorf("synthetic index = %d, want 2", ref.Index)
	}
}

func TestMapEmptyRosterAllSynthetic(t *testing.T) {
	t.Parallel()

	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 0, End: 3, Label: "SPEAKER_00"},
		{Start: 4, End: 7, Label: "SPEAKER_01"},
	}}

	m := mapper.Map(diar, nil)

	if len(m) != 2 {
		t.Fatalf("mapping has %d entries, want 2", len(m))
	}
	for label, ref := range m {
		if !ref.Synthetic {
			t.Errorf("label %s not synthetic with empty roster", label)
		}
	}
}

func TestMapRosterLargerThanLabels(t *testing.T) {
	t.Parallel()

	roster := append(testRoster(), document.RosterParticipant{
		Index: 2, GivenName: "Carla", FamilyName: "Paz",
	})
	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 0, End: 10, Label: "SPEAKER_00"},
	}}

	m := mapper.Map(diar, roster)

	if len(m) != 1 {
		t.Fatalf("mapping has %d entries, want 1", len(m))
	}
	if got := m["SPEAKER_00"].DisplayName; got != "Beto Lima" {
		t.Errorf("SPEAKER_00 mapped to %q, want Beto Lima", got)
	}
}

func TestMapDeterministic(t *testing.T) {
	t.Parallel()

	diar := diarize.Result{Turns: []diarize.Turn{
		{Start: 3.2, End: 8, Label: "SPEAKER_02"},
		{Start: 0.1, End: 3, Label: "SPEAKER_01"},
		{Start: 9, End: 14, Label: "SPEAKER_00"},
	}}

	first := mapper.Map(diar, testRoster())
	for i := 0; i < 50; i++ {
		again := mapper.Map(diar, testRoster())
		for label, ref := range first {
			if again[label] != ref {
				t.Fatalf("run %d: label %s mapped to %+v, previously %+v", i, label, again[label], ref)
			}
		}
	}
}
