package model

import "fmt"

// TimedWord is one word with its position in the clip, in seconds.
type TimedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment mirrors the verbose_json segment returned by whisper providers.
type Segment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// Transcription is the timing payload persisted as timed_json. The rest of
// the system treats it as ground truth for lyric timing, so it is stored
// exactly as the provider returned it.
type Transcription struct {
	Text     string      `json:"text"`
	Words    []TimedWord `json:"words"`
	Segments []Segment   `json:"segments"`
	Language string      `json:"language"`
	Duration float64     `json:"duration"`
}

// Validate checks that words are ordered by start and never end before they
// begin.
func (t *Transcription) Validate() error {
	if t == nil {
		return fmt.Errorf("transcription is nil")
	}
	prev := 0.0
	for i, w := range t.Words {
		if w.Start < 0 {
			return fmt.Errorf("word %d (%q) starts before 0", i, w.Word)
		}
		if w.End < w.Start {
			return fmt.Errorf("word %d (%q) ends at %.3f before it starts at %.3f", i, w.Word, w.End, w.Start)
		}
		if i > 0 && w.Start < prev {
			return fmt.Errorf("word %d (%q) starts at %.3f, before previous word at %.3f", i, w.Word, w.Start, prev)
		}
		prev = w.Start
	}
	return nil
}
