package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jorgevx/escriba/pkg/document"
)

// WriteOpts carries the common parameters of every edit operation.
// ExpectedVersion 0 disables the optimistic check (last write wins);
// callers that read before writing should always pass the version they read.
type WriteOpts struct {
	ExpectedVersion int64
	Actor           string
	Comment         string
}

// edit is one mutation applied under the job write lock. apply mutates doc in
// place and returns the before/after values recorded in the edit log.
type edit interface {
	kind() EntryKind
	apply(doc *document.Document) (before, after any, err error)
}

// historyAware is implemented by edits whose semantics depend on earlier log
// entries. loadHistory runs under the job write lock, before apply.
type historyAware interface {
	loadHistory(entries []EditLogEntry)
}

// decodeLogValue converts a log entry value back into its concrete type.
// Values read from the in-memory backend keep their Go type; values read from
// PostgreSQL come back as generic JSON maps and need a decode cycle.
func decodeLogValue[T any](v any) (T, bool) {
	var out T
	if v == nil {
		return out, false
	}
	if typed, ok := v.(T); ok {
		return typed, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// unknownSpeaker builds the ErrUnknownSpeaker error, including the closest
// existing display name when one is similar enough to look like a typo.
func unknownSpeaker(name string, mapping document.SpeakerMapping) error {
	if suggestion, ok := ClosestName(name, mapping.DisplayNames()); ok {
		return fmt.Errorf("docstore: speaker %q (did you mean %q?): %w", name, suggestion, ErrUnknownSpeaker)
	}
	return fmt.Errorf("docstore: speaker %q: %w", name, ErrUnknownSpeaker)
}

func segmentIndexError(i, n int) error {
	return fmt.Errorf("docstore: segment index %d out of range [0,%d): %w", i, n, ErrValidation)
}

// SegmentChanges holds the optional fields of an EditSegment call. Nil fields
// are left untouched.
type SegmentChanges struct {
	Text    *string
	Speaker *string
	Start   *float64
	End     *float64
}

type segmentEdit struct {
	index   int
	changes SegmentChanges
}

func (segmentEdit) kind() EntryKind { return KindSegmentEdit }

func (e segmentEdit) apply(doc *document.Document) (any, any, error) {
	if e.index < 0 || e.index >= len(doc.Conversation) {
		return nil, nil, segmentIndexError(e.index, len(doc.Conversation))
	}
	seg := doc.Conversation[e.index]
	before := seg

	if e.changes.Text != nil {
		text := strings.TrimSpace(*e.changes.Text)
		if text == "" {
			return nil, nil, fmt.Errorf("docstore: segment text must not be empty: %w", ErrValidation)
		}
		seg.Text = text
	}
	if e.changes.Speaker != nil {
		ref, ok := doc.Header.Mapping.RefByName(*e.changes.Speaker)
		if !ok {
			return nil, nil, unknownSpeaker(*e.changes.Speaker, doc.Header.Mapping)
		}
		seg.SpeakerName = ref.DisplayName
		seg.SpeakerIndex = ref.Index
	}
	if e.changes.Start != nil {
		seg.Start = document.Round2(*e.changes.Start)
	}
	if e.changes.End != nil {
		seg.End = document.Round2(*e.changes.End)
	}
	if seg.End <= seg.Start {
		return nil, nil, fmt.Errorf("docstore: segment end %.2f must be after start %.2f: %w",
			seg.End, seg.Start, ErrValidation)
	}
	seg.Duration = document.Round2(seg.End - seg.Start)
	seg.Edited = true
	seg.EditOrigin = "manual"

	doc.Conversation[e.index] = seg
	if e.changes.Start != nil {
		sortConversation(doc)
	}
	return before, seg, nil
}

// EditSegment updates the text, speaker, or time bounds of the segment at
// index. A start-time change re-sorts the conversation.
func (s *Store) EditSegment(ctx context.Context, jobID string, index int, changes SegmentChanges, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, segmentEdit{index: index, changes: changes})
}

// NewSegment is the payload of an InsertSegment call.
type NewSegment struct {
	Start   float64
	End     float64
	Speaker string
	Text    string
}

// InsertedSegment is the after-value recorded for a segment insertion.
// Resorted reports that the caller's position broke chronological order and
// the conversation was re-sorted.
type InsertedSegment struct {
	Segment  document.Segment `json:"segment"`
	Position int              `json:"position"`
	Resorted bool             `json:"resorted,omitempty"`
}

type segmentInsert struct {
	position int
	seg      NewSegment

	// lastDeleted is the before-value of the most recent segment.delete
	// entry, used to restore edit flags on a delete-then-reinsert.
	lastDeleted *document.Segment
}

func (*segmentInsert) kind() EntryKind { return KindSegmentAdd }

func (e *segmentInsert) loadHistory(entries []EditLogEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind != KindSegmentDelete {
			continue
		}
		if seg, ok := decodeLogValue[document.Segment](entries[i].Before); ok {
			e.lastDeleted = &seg
		}
		return
	}
}

func (e *segmentInsert) apply(doc *document.Document) (any, any, error) {
	if e.position < 0 || e.position > len(doc.Conversation) {
		return nil, nil, fmt.Errorf("docstore: insert position %d out of range [0,%d]: %w",
			e.position, len(doc.Conversation), ErrValidation)
	}
	text := strings.TrimSpace(e.seg.Text)
	if text == "" {
		return nil, nil, fmt.Errorf("docstore: segment text must not be empty: %w", ErrValidation)
	}
	if e.seg.End <= e.seg.Start {
		return nil, nil, fmt.Errorf("docstore: segment end %.2f must be after start %.2f: %w",
			e.seg.End, e.seg.Start, ErrValidation)
	}
	ref, ok := doc.Header.Mapping.RefByName(e.seg.Speaker)
	if !ok {
		return nil, nil, unknownSpeaker(e.seg.Speaker, doc.Header.Mapping)
	}

	start := document.Round2(e.seg.Start)
	end := document.Round2(e.seg.End)
	seg := document.Segment{
		Start:        start,
		End:          end,
		Duration:     document.Round2(end - start),
		SpeakerName:  ref.DisplayName,
		SpeakerIndex: ref.Index,
		Text:         text,
		Edited:       true,
		EditOrigin:   "manual",
	}
	// Re-inserting the segment removed by the preceding delete restores it
	// exactly, original edit flags included.
	if d := e.lastDeleted; d != nil &&
		d.Start == seg.Start && d.End == seg.End &&
		d.Text == seg.Text && d.SpeakerName == seg.SpeakerName {
		seg.Edited = d.Edited
		seg.EditOrigin = d.EditOrigin
	}
	doc.Conversation = append(doc.Conversation, document.Segment{})
	copy(doc.Conversation[e.position+1:], doc.Conversation[e.position:])
	doc.Conversation[e.position] = seg

	resorted := !conversationSorted(doc)
	if resorted {
		sortConversation(doc)
	}
	return nil, InsertedSegment{Segment: seg, Position: e.position, Resorted: resorted}, nil
}

// InsertSegment adds a new manually-authored segment at position. When the
// chosen position breaks chronological order the conversation is re-sorted
// and the log entry records that.
func (s *Store) InsertSegment(ctx context.Context, jobID string, position int, seg NewSegment, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, &segmentInsert{position: position, seg: seg})
}

type segmentDelete struct {
	index int
}

func (segmentDelete) kind() EntryKind { return KindSegmentDelete }

func (e segmentDelete) apply(doc *document.Document) (any, any, error) {
	if e.index < 0 || e.index >= len(doc.Conversation) {
		return nil, nil, segmentIndexError(e.index, len(doc.Conversation))
	}
	before := doc.Conversation[e.index]
	doc.Conversation = append(doc.Conversation[:e.index], doc.Conversation[e.index+1:]...)
	return before, nil, nil
}

// DeleteSegment removes the segment at index.
func (s *Store) DeleteSegment(ctx context.Context, jobID string, index int, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, segmentDelete{index: index})
}

// AddedSpeaker is the after-value recorded for a speaker addition.
type AddedSpeaker struct {
	Ref  document.SpeakerRef `json:"ref"`
	Role string              `json:"role,omitempty"`
}

type speakerAdd struct {
	name string
	role string
}

func (speakerAdd) kind() EntryKind { return KindSpeakerAdd }

func (e speakerAdd) apply(doc *document.Document) (any, any, error) {
	name := strings.TrimSpace(e.name)
	if name == "" {
		return nil, nil, fmt.Errorf("docstore: speaker name must not be empty: %w", ErrValidation)
	}
	if _, ok := doc.Header.Mapping.RefByName(name); ok {
		return nil, nil, fmt.Errorf("docstore: speaker %q: %w", name, ErrDuplicateName)
	}
	index := doc.Header.Mapping.MaxIndex() + 1
	ref := document.SpeakerRef{Index: index, DisplayName: name, Synthetic: true}
	if doc.Header.Mapping == nil {
		doc.Header.Mapping = make(document.SpeakerMapping)
	}
	doc.Header.Mapping[fmt.Sprintf("MANUAL_%02d", index)] = ref
	return nil, AddedSpeaker{Ref: ref, Role: e.role}, nil
}

// AddSpeaker registers a new speaker, assigning the next free index. The
// speaker is available for segment edits immediately but appears in the
// metadata speaker count only once a segment references it. role is optional
// and recorded in the edit log only.
func (s *Store) AddSpeaker(ctx context.Context, jobID string, name, role string, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, speakerAdd{name: name, role: role})
}

type speakerRename struct {
	from, to string
}

func (speakerRename) kind() EntryKind { return KindSpeakerRename }

func (e speakerRename) apply(doc *document.Document) (any, any, error) {
	to := strings.TrimSpace(e.to)
	if to == "" {
		return nil, nil, fmt.Errorf("docstore: speaker name must not be empty: %w", ErrValidation)
	}
	ref, ok := doc.Header.Mapping.RefByName(e.from)
	if !ok {
		return nil, nil, unknownSpeaker(e.from, doc.Header.Mapping)
	}
	if existing, ok := doc.Header.Mapping.RefByName(to); ok && existing.Index != ref.Index {
		return nil, nil, fmt.Errorf("docstore: speaker %q: %w", to, ErrDuplicateName)
	}

	for label, r := range doc.Header.Mapping {
		if r.Index == ref.Index {
			r.DisplayName = to
			doc.Header.Mapping[label] = r
		}
	}
	for i := range doc.Conversation {
		if doc.Conversation[i].SpeakerIndex == ref.Index {
			doc.Conversation[i].SpeakerName = to
		}
	}
	return e.from, to, nil
}

// RenameSpeaker changes a speaker's display name everywhere: in the mapping
// and in every segment attributed to the speaker.
func (s *Store) RenameSpeaker(ctx context.Context, jobID string, from, to string, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, speakerRename{from: from, to: to})
}

type speakerDelete struct {
	name string
}

func (speakerDelete) kind() EntryKind { return KindSpeakerDelete }

func (e speakerDelete) apply(doc *document.Document) (any, any, error) {
	ref, ok := doc.Header.Mapping.RefByName(e.name)
	if !ok {
		return nil, nil, unknownSpeaker(e.name, doc.Header.Mapping)
	}
	for _, seg := range doc.Conversation {
		if seg.SpeakerIndex == ref.Index {
			return nil, nil, fmt.Errorf("docstore: speaker %q: %w", e.name, ErrSpeakerInUse)
		}
	}
	for label, r := range doc.Header.Mapping {
		if r.Index == ref.Index {
			delete(doc.Header.Mapping, label)
		}
	}
	return ref, nil, nil
}

// DeleteSpeaker removes a speaker from the mapping. It fails with
// [ErrSpeakerInUse] while any segment still references the speaker;
// reattribute or delete those segments first.
func (s *Store) DeleteSpeaker(ctx context.Context, jobID string, name string, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, speakerDelete{name: name})
}

type documentReplace struct {
	doc document.Document
}

func (documentReplace) kind() EntryKind { return KindDocumentReplace }

func (e documentReplace) apply(doc *document.Document) (any, any, error) {
	before := *doc
	replacement := e.doc
	for i := range replacement.Conversation {
		seg := &replacement.Conversation[i]
		ref, ok := replacement.Header.Mapping.RefByName(seg.SpeakerName)
		if !ok {
			return nil, nil, unknownSpeaker(seg.SpeakerName, replacement.Header.Mapping)
		}
		seg.SpeakerIndex = ref.Index
	}
	sortConversation(&replacement)
	*doc = replacement
	// after aliases the live document so the log entry captures the accepted
	// state including the regenerated derived fields.
	return before, doc, nil
}

// Replace swaps in a whole new document body, used by bulk editors that
// operate on an exported copy. Derived fields are regenerated and the full
// invariant set is validated before the write lands. The log entry records
// the complete prior and accepted documents.
func (s *Store) Replace(ctx context.Context, jobID string, doc document.Document, opts WriteOpts) (Result, error) {
	return s.apply(ctx, jobID, opts.ExpectedVersion, opts.Actor, opts.Comment, documentReplace{doc: doc})
}

// sortConversation restores chronological order after a mutation that may
// have displaced a segment. The sort is stable so equal-start segments keep
// their relative order.
func sortConversation(doc *document.Document) {
	sort.SliceStable(doc.Conversation, func(i, j int) bool {
		return doc.Conversation[i].Start < doc.Conversation[j].Start
	})
}

// conversationSorted reports whether the conversation is in chronological
// order.
func conversationSorted(doc *document.Document) bool {
	return sort.SliceIsSorted(doc.Conversation, func(i, j int) bool {
		return doc.Conversation[i].Start < doc.Conversation[j].Start
	})
}
