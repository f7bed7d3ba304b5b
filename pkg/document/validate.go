package document

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// durationTolerance is the maximum allowed drift between a segment's stored
// duration and end-start, in seconds.
const durationTolerance = 0.01

// ValidateSegment checks a single segment against the per-segment invariants:
// end strictly after start, non-empty trimmed text, and a duration consistent
// with the interval.
func ValidateSegment(s Segment) error {
	var errs []error

	if s.End <= s.Start {
		errs = append(errs, fmt.Errorf("end %.2f must be greater than start %.2f", s.End, s.Start))
	}
	if strings.TrimSpace(s.Text) == "" {
		errs = append(errs, errors.New("text must not be empty"))
	}
	if math.Abs(s.Duration-(s.End-s.Start)) > durationTolerance {
		errs = append(errs, fmt.Errorf("duration %.2f does not match end-start %.2f", s.Duration, s.End-s.Start))
	}
	if s.SpeakerIndex < 0 {
		errs = append(errs, fmt.Errorf("speaker_index %d must not be negative", s.SpeakerIndex))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Validate checks the whole-document invariants:
//
//   - the conversation is sorted non-decreasing by start;
//   - every segment passes [ValidateSegment];
//   - every speaker display name in the conversation appears in the header
//     mapping;
//   - the structured text has exactly one line per segment and line k encodes
//     segment k;
//   - the structure version is set.
func Validate(d *Document) error {
	var errs []error

	for i, seg := range d.Conversation {
		if err := ValidateSegment(seg); err != nil {
			errs = append(errs, fmt.Errorf("conversation[%d]: %w", i, err))
		}
		if i > 0 && seg.Start < d.Conversation[i-1].Start {
			errs = append(errs, fmt.Errorf("conversation[%d]: start %.2f precedes previous start %.2f", i, seg.Start, d.Conversation[i-1].Start))
		}
		if _, ok := d.Header.Mapping.RefByName(seg.SpeakerName); !ok {
			errs = append(errs, fmt.Errorf("conversation[%d]: speaker %q not present in header mapping", i, seg.SpeakerName))
		}
	}

	if len(d.Conversation) == 0 {
		if d.StructuredText != "" {
			errs = append(errs, errors.New("structured_text must be empty for an empty conversation"))
		}
	} else {
		lines := strings.Split(d.StructuredText, "\n")
		if len(lines) != len(d.Conversation) {
			errs = append(errs, fmt.Errorf("structured_text has %d lines, conversation has %d segments", len(lines), len(d.Conversation)))
		} else {
			for i, seg := range d.Conversation {
				if lines[i] != StructuredLine(seg) {
					errs = append(errs, fmt.Errorf("structured_text line %d does not encode conversation[%d]", i, i))
				}
			}
		}
	}

	if d.Metadata.StructureVersion == "" {
		errs = append(errs, errors.New("metadata.structure_version must be set"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
