package docstore

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jorgevx/escriba/pkg/document"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

// testDocument is a small two-speaker document used across the edit tests.
func testDocument() document.Document {
	doc := document.Document{
		Header: document.Header{
			Audio: document.AudioInfo{Path: "/data/acta.wav", DurationSeconds: 30},
			Transcription: document.TranscriptionInfo{
				JobID:       "job-1",
				ModelSize:   "medium",
				Language:    "es",
				ProcessedAt: fixedNow(),
			},
			Mapping: document.SpeakerMapping{
				"SPEAKER_00": {Index: 0, DisplayName: "Beto Lima"},
				"SPEAKER_01": {Index: 1, DisplayName: "Ely Soto"},
			},
			Roster: []document.RosterParticipant{
				{Index: 0, GivenName: "Beto", FamilyName: "Lima"},
				{Index: 1, GivenName: "Ely", FamilyName: "Soto"},
			},
		},
		Conversation: []document.Segment{
			{Start: 0, End: 4.5, Duration: 4.5, SpeakerName: "Beto Lima", SpeakerIndex: 0, Text: "Buenos días a todos."},
			{Start: 5, End: 9.25, Duration: 4.25, SpeakerName: "Ely Soto", SpeakerIndex: 1, Text: "Gracias, comenzamos con el acta."},
			{Start: 10, End: 14, Duration: 4, SpeakerName: "Beto Lima", SpeakerIndex: 0, Text: "Primer punto del orden del día."},
		},
	}
	doc.RebuildDerived("pipeline", fixedNow())
	return doc
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(NewMemBackend())
	s.now = fixedNow
	if _, err := s.Create(context.Background(), "job-1", testDocument()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	doc, version, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if doc.Metadata.Segments != 3 {
		t.Errorf("segments = %d, want 3", doc.Metadata.Segments)
	}
	if doc.Metadata.Speakers != 2 {
		t.Errorf("speakers = %d, want 2", doc.Metadata.Speakers)
	}

	if _, err := s.Create(context.Background(), "job-1", testDocument()); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create error = %v, want ErrAlreadyExists", err)
	}
	if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}
}

func TestEditSegmentText(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	text := "Buenas tardes a todos."
	res, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Text: &text}, WriteOpts{ExpectedVersion: 1, Actor: "ana"})
	if err != nil {
		t.Fatalf("EditSegment: %v", err)
	}
	if res.NewVersion != 2 {
		t.Errorf("new version = %d, want 2", res.NewVersion)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	seg := doc.Conversation[0]
	if seg.Text != text {
		t.Errorf("text = %q, want %q", seg.Text, text)
	}
	if !seg.Edited || seg.EditOrigin != "manual" {
		t.Errorf("edit markers = (%t, %q), want (true, manual)", seg.Edited, seg.EditOrigin)
	}
	if doc.Metadata.LastEditor != "ana" {
		t.Errorf("last editor = %q, want ana", doc.Metadata.LastEditor)
	}
	if !strings.Contains(doc.StructuredText, "00:00,Beto Lima,Buenas tardes a todos.") {
		t.Errorf("structured text not regenerated:\n%s", doc.StructuredText)
	}
	// Untouched segments keep their pipeline provenance.
	if doc.Conversation[1].Edited {
		t.Error("segment 1 unexpectedly marked edited")
	}
}

func TestEditSegmentVersionConflict(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	text := "cambio"
	if _, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Text: &text}, WriteOpts{ExpectedVersion: 1}); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	_, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Text: &text}, WriteOpts{ExpectedVersion: 1})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale edit error = %v, want ErrVersionConflict", err)
	}
}

func TestEditSegmentValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	empty := "   "
	if _, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Text: &empty}, WriteOpts{ExpectedVersion: 1}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty text error = %v, want ErrValidation", err)
	}

	badEnd := 0.0
	if _, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{End: &badEnd}, WriteOpts{ExpectedVersion: 1}); !errors.Is(err, ErrValidation) {
		t.Errorf("inverted bounds error = %v, want ErrValidation", err)
	}

	text := "x"
	if _, err := s.EditSegment(ctx, "job-1", 99, SegmentChanges{Text: &text}, WriteOpts{ExpectedVersion: 1}); !errors.Is(err, ErrValidation) {
		t.Errorf("out-of-range index error = %v, want ErrValidation", err)
	}

	// Failed edits must not bump the version.
	if _, version, err := s.Get(ctx, "job-1"); err != nil || version != 1 {
		t.Errorf("version after failed edits = %d (err %v), want 1", version, err)
	}
}

func TestEditSegmentUnknownSpeakerSuggestion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	speaker := "Beto Lma"
	_, err := s.EditSegment(context.Background(), "job-1", 0, SegmentChanges{Speaker: &speaker}, WriteOpts{ExpectedVersion: 1})
	if !errors.Is(err, ErrUnknownSpeaker) {
		t.Fatalf("error = %v, want ErrUnknownSpeaker", err)
	}
	if !strings.Contains(err.Error(), "Beto Lima") {
		t.Errorf("error %q does not suggest the closest name", err)
	}
}

func TestEditSegmentStartChangeResorts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	// Move the first segment after the last one.
	start, end := 20.0, 24.0
	if _, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Start: &start, End: &end}, WriteOpts{ExpectedVersion: 1}); err != nil {
		t.Fatalf("EditSegment: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	last := doc.Conversation[len(doc.Conversation)-1]
	if last.Start != 20 || last.Text != "Buenos días a todos." {
		t.Errorf("moved segment not at end: start=%.2f text=%q", last.Start, last.Text)
	}
}

func TestInsertSegment(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	seg := NewSegment{Start: 4.6, End: 4.9, Speaker: "Ely Soto", Text: "De acuerdo."}
	res, err := s.InsertSegment(ctx, "job-1", 1, seg, WriteOpts{ExpectedVersion: 1, Actor: "ana"})
	if err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}
	if res.Metadata.Segments != 4 {
		t.Errorf("segments = %d, want 4", res.Metadata.Segments)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	inserted := doc.Conversation[1]
	if inserted.Text != "De acuerdo." || inserted.SpeakerIndex != 1 {
		t.Errorf("inserted segment at wrong position: %+v", inserted)
	}

	if _, err := s.InsertSegment(ctx, "job-1", 0, NewSegment{Start: 1, End: 2, Speaker: "Nadie", Text: "x"}, WriteOpts{}); !errors.Is(err, ErrUnknownSpeaker) {
		t.Errorf("unknown speaker error = %v, want ErrUnknownSpeaker", err)
	}
	if _, err := s.InsertSegment(ctx, "job-1", 99, NewSegment{Start: 1, End: 2, Speaker: "Ely Soto", Text: "x"}, WriteOpts{}); !errors.Is(err, ErrValidation) {
		t.Errorf("out-of-range position error = %v, want ErrValidation", err)
	}
}

func TestInsertSegmentIncompatiblePositionResorts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	// Position 0 with a late start time breaks order; the store re-sorts and
	// records it in the log entry.
	seg := NewSegment{Start: 15, End: 16, Speaker: "Ely Soto", Text: "Una aclaración."}
	if _, err := s.InsertSegment(ctx, "job-1", 0, seg, WriteOpts{}); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	last := doc.Conversation[len(doc.Conversation)-1]
	if last.Text != "Una aclaración." {
		t.Errorf("segment not re-sorted to its chronological position: %+v", last)
	}

	entries, err := s.EditLog(ctx, "job-1")
	if err != nil {
		t.Fatalf("EditLog: %v", err)
	}
	after, ok := entries[len(entries)-1].After.(InsertedSegment)
	if !ok {
		t.Fatalf("after value has type %T", entries[len(entries)-1].After)
	}
	if !after.Resorted {
		t.Error("re-sort not recorded in log entry")
	}
}

func TestDeleteInsertRestoresSegment(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	orig, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := orig.Conversation[1]

	if _, err := s.DeleteSegment(ctx, "job-1", 1, WriteOpts{}); err != nil {
		t.Fatalf("DeleteSegment: %v", err)
	}
	if _, err := s.InsertSegment(ctx, "job-1", 1, NewSegment{
		Start:   want.Start,
		End:     want.End,
		Speaker: want.SpeakerName,
		Text:    want.Text,
	}, WriteOpts{}); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// The re-inserted segment keeps its pipeline provenance; the conversation
	// is byte-for-byte what it was before the delete.
	if doc.Conversation[1] != want {
		t.Errorf("restored segment = %+v, want %+v", doc.Conversation[1], want)
	}
	if !reflect.DeepEqual(doc.Conversation, orig.Conversation) {
		t.Errorf("conversation not restored:\ngot  %+v\nwant %+v", doc.Conversation, orig.Conversation)
	}

	// A genuinely new segment still gets manual provenance.
	if _, err := s.InsertSegment(ctx, "job-1", 3, NewSegment{Start: 15, End: 16, Speaker: "Ely Soto", Text: "Nuevo apunte."}, WriteOpts{}); err != nil {
		t.Fatalf("InsertSegment new: %v", err)
	}
	doc, _, err = s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if seg := doc.Conversation[3]; !seg.Edited || seg.EditOrigin != "manual" {
		t.Errorf("new segment markers = (%t, %q), want (true, manual)", seg.Edited, seg.EditOrigin)
	}
}

func TestDeleteSegment(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.DeleteSegment(ctx, "job-1", 1, WriteOpts{ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("DeleteSegment: %v", err)
	}
	if res.Metadata.Segments != 2 {
		t.Errorf("segments = %d, want 2", res.Metadata.Segments)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, seg := range doc.Conversation {
		if seg.Text == "Gracias, comenzamos con el acta." {
			t.Error("deleted segment still present")
		}
	}
	// Ely no longer speaks, so the speaker total drops even though the
	// mapping keeps the entry.
	if doc.Metadata.Speakers != 1 {
		t.Errorf("speakers = %d, want 1", doc.Metadata.Speakers)
	}
	if _, ok := doc.Header.Mapping.RefByName("Ely Soto"); !ok {
		t.Error("mapping entry removed by segment delete")
	}
}

func TestAddSpeaker(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddSpeaker(ctx, "job-1", "Carla Paz", "Secretaria", WriteOpts{ExpectedVersion: 1}); err != nil {
		t.Fatalf("AddSpeaker: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ref, ok := doc.Header.Mapping.RefByName("Carla Paz")
	if !ok {
		t.Fatal("added speaker not in mapping")
	}
	if ref.Index != 2 || !ref.Synthetic {
		t.Errorf("ref = %+v, want index 2, synthetic", ref)
	}
	// Unreferenced speakers do not count toward the metadata total.
	if doc.Metadata.Speakers != 2 {
		t.Errorf("speakers = %d, want 2", doc.Metadata.Speakers)
	}

	if _, err := s.AddSpeaker(ctx, "job-1", "Beto Lima", "", WriteOpts{}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate error = %v, want ErrDuplicateName", err)
	}
}

func TestRenameSpeaker(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RenameSpeaker(ctx, "job-1", "Beto Lima", "Alberto Lima", WriteOpts{ExpectedVersion: 1}); err != nil {
		t.Fatalf("RenameSpeaker: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := doc.Header.Mapping.RefByName("Beto Lima"); ok {
		t.Error("old name still in mapping")
	}
	for i, seg := range doc.Conversation {
		if seg.SpeakerIndex == 0 && seg.SpeakerName != "Alberto Lima" {
			t.Errorf("segment %d speaker = %q, want Alberto Lima", i, seg.SpeakerName)
		}
	}
	if !strings.Contains(doc.StructuredText, "Alberto Lima") || strings.Contains(doc.StructuredText, "Beto Lima") {
		t.Errorf("structured text not renamed:\n%s", doc.StructuredText)
	}

	if _, err := s.RenameSpeaker(ctx, "job-1", "Alberto Lima", "Ely Soto", WriteOpts{}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("rename onto existing name error = %v, want ErrDuplicateName", err)
	}
	if _, err := s.RenameSpeaker(ctx, "job-1", "Nadie", "Alguien", WriteOpts{}); !errors.Is(err, ErrUnknownSpeaker) {
		t.Errorf("rename unknown error = %v, want ErrUnknownSpeaker", err)
	}
}

func TestDeleteSpeaker(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.DeleteSpeaker(ctx, "job-1", "Ely Soto", WriteOpts{}); !errors.Is(err, ErrSpeakerInUse) {
		t.Fatalf("delete referenced speaker error = %v, want ErrSpeakerInUse", err)
	}

	// Reattribute Ely's only segment, then the delete goes through.
	speaker := "Beto Lima"
	if _, err := s.EditSegment(ctx, "job-1", 1, SegmentChanges{Speaker: &speaker}, WriteOpts{}); err != nil {
		t.Fatalf("reattribute: %v", err)
	}
	if _, err := s.DeleteSpeaker(ctx, "job-1", "Ely Soto", WriteOpts{}); err != nil {
		t.Fatalf("DeleteSpeaker: %v", err)
	}

	doc, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := doc.Header.Mapping.RefByName("Ely Soto"); ok {
		t.Error("deleted speaker still in mapping")
	}
}

func TestReplaceDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	replacement := testDocument()
	replacement.Conversation = replacement.Conversation[:2]
	res, err := s.Replace(ctx, "job-1", replacement, WriteOpts{ExpectedVersion: 1, Actor: "ana"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.Metadata.Segments != 2 {
		t.Errorf("segments = %d, want 2", res.Metadata.Segments)
	}

	bad := testDocument()
	bad.Conversation[0].SpeakerName = "Nadie"
	if _, err := s.Replace(ctx, "job-1", bad, WriteOpts{}); !errors.Is(err, ErrUnknownSpeaker) {
		t.Errorf("replace with unknown speaker error = %v, want ErrUnknownSpeaker", err)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	orig, _, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if _, err := s.RenameSpeaker(ctx, "job-1", "Beto Lima", "Alberto Lima", WriteOpts{Actor: "ana"}); err != nil {
		t.Fatalf("rename forward: %v", err)
	}
	if _, err := s.RenameSpeaker(ctx, "job-1", "Alberto Lima", "Beto Lima", WriteOpts{Actor: "ana"}); err != nil {
		t.Fatalf("rename back: %v", err)
	}

	doc, version, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
	if !reflect.DeepEqual(doc.Header, orig.Header) {
		t.Errorf("header changed by rename round trip:\ngot  %+v\nwant %+v", doc.Header, orig.Header)
	}
	if !reflect.DeepEqual(doc.Conversation, orig.Conversation) {
		t.Errorf("conversation changed by rename round trip")
	}
	if doc.StructuredText != orig.StructuredText {
		t.Errorf("structured text changed:\ngot  %s\nwant %s", doc.StructuredText, orig.StructuredText)
	}
	if doc.Metadata.Segments != orig.Metadata.Segments || doc.Metadata.Speakers != orig.Metadata.Speakers {
		t.Errorf("metadata totals changed: %+v", doc.Metadata)
	}

	entries, err := s.EditLog(ctx, "job-1")
	if err != nil {
		t.Fatalf("EditLog: %v", err)
	}
	if len(entries) != 3 || entries[1].Kind != KindSpeakerRename || entries[2].Kind != KindSpeakerRename {
		t.Errorf("log = %+v, want create plus two renames", entries)
	}
}

func TestReplaceLogsFullDocuments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	replacement := testDocument()
	replacement.Conversation = replacement.Conversation[:2]
	if _, err := s.Replace(ctx, "job-1", replacement, WriteOpts{Actor: "ana"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	entries, err := s.EditLog(ctx, "job-1")
	if err != nil {
		t.Fatalf("EditLog: %v", err)
	}
	last := entries[len(entries)-1]
	before, ok := last.Before.(document.Document)
	if !ok {
		t.Fatalf("before value has type %T, want the full prior document", last.Before)
	}
	if len(before.Conversation) != 3 {
		t.Errorf("before has %d segments, want 3", len(before.Conversation))
	}
	after, ok := last.After.(*document.Document)
	if !ok {
		t.Fatalf("after value has type %T, want the full accepted document", last.After)
	}
	if len(after.Conversation) != 2 {
		t.Errorf("after has %d segments, want 2", len(after.Conversation))
	}
	if after.StructuredText == "" || after.Metadata.Segments != 2 {
		t.Error("after value missing the regenerated derived fields")
	}
}

func TestEditLog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	text := "uno"
	if _, err := s.EditSegment(ctx, "job-1", 0, SegmentChanges{Text: &text}, WriteOpts{Actor: "ana", Comment: "corrección"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := s.AddSpeaker(ctx, "job-1", "Carla Paz", "", WriteOpts{Actor: "ana"}); err != nil {
		t.Fatalf("add speaker: %v", err)
	}

	entries, err := s.EditLog(ctx, "job-1")
	if err != nil {
		t.Fatalf("EditLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	wantKinds := []EntryKind{KindDocumentCreate, KindSegmentEdit, KindSpeakerAdd}
	for i, want := range wantKinds {
		if entries[i].Kind != want {
			t.Errorf("entries[%d].Kind = %q, want %q", i, entries[i].Kind, want)
		}
	}
	if entries[1].Version != 2 || entries[1].Comment != "corrección" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	before, ok := entries[1].Before.(document.Segment)
	if !ok {
		t.Fatalf("entry 1 before has type %T", entries[1].Before)
	}
	if before.Text != "Buenos días a todos." {
		t.Errorf("before.Text = %q", before.Text)
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	entries, err := s.EditLog(ctx, "job-1")
	if err != nil {
		t.Fatalf("EditLog: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("edit log survived delete: %d entries", len(entries))
	}
}
