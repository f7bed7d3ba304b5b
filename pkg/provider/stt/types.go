package stt

// Segment is one timestamped recognition result. Times are seconds from the
// start of the audio.
type Segment struct {
	Start float64

	End float64

	// Text is the recognized speech with surrounding whitespace trimmed.
	// May be empty for silence-only intervals.
	Text string

	// Confidence is the recognition confidence in [0.0, 1.0], or zero when
	// the backend does not report one.
	Confidence float64
}

// Result is the complete output of one Transcribe call.
type Result struct {
	// Segments are sorted by Start, non-decreasing.
	Segments []Segment

	// Language is the language of the transcription. When the caller
	// requested autodetection this is the detected language.
	Language string

	// Model identifies the model that produced the result, for the document
	// header.
	Model string
}
