package transcription

import "github.com/dharsanguruparan/LyricSync/internal/model"

// MockTranscription returns the canned response used in mock mode. It has the
// same shape as a live verbose_json answer so callers cannot tell the modes
// apart. A fresh copy is returned on every call.
func MockTranscription() *model.Transcription {
	return &model.Transcription{
		Text:     "I've been walking through the city lights, searching for a sign. Every corner holds a memory, frozen in time. And I wonder if you think of me, the way I think of you. In the silence of the night, I'm still missing you.",
		Language: "en",
		Duration: 32.5,
		Segments: []model.Segment{
			{ID: 0, Seek: 0, Start: 0.0, End: 4.5, Text: "I've been walking through the city lights, searching for a sign.", Tokens: []int{1, 2, 3, 4, 5}, AvgLogprob: -0.25, CompressionRatio: 1.5, NoSpeechProb: 0.01},
			{ID: 1, Seek: 450, Start: 4.5, End: 9.2, Text: "Every corner holds a memory, frozen in time.", Tokens: []int{6, 7, 8, 9, 10}, AvgLogprob: -0.22, CompressionRatio: 1.45, NoSpeechProb: 0.02},
			{ID: 2, Seek: 920, Start: 9.2, End: 14.8, Text: "And I wonder if you think of me, the way I think of you.", Tokens: []int{11, 12, 13, 14, 15}, AvgLogprob: -0.28, CompressionRatio: 1.52, NoSpeechProb: 0.015},
			{ID: 3, Seek: 1480, Start: 14.8, End: 19.5, Text: "In the silence of the night, I'm still missing you.", Tokens: []int{16, 17, 18, 19, 20}, AvgLogprob: -0.24, CompressionRatio: 1.48, NoSpeechProb: 0.018},
		},
		Words: []model.TimedWord{
			{Word: "I've", Start: 0.0, End: 0.3},
			{Word: "been", Start: 0.3, End: 0.5},
			{Word: "walking", Start: 0.5, End: 0.9},
			{Word: "through", Start: 0.9, End: 1.2},
			{Word: "the", Start: 1.2, End: 1.3},
			{Word: "city", Start: 1.3, End: 1.6},
			{Word: "lights,", Start: 1.6, End: 2.1},
			{Word: "searching", Start: 2.5, End: 3.0},
			{Word: "for", Start: 3.0, End: 3.2},
			{Word: "a", Start: 3.2, End: 3.3},
			{Word: "sign.", Start: 3.3, End: 4.5},
			{Word: "Every", Start: 4.5, End: 4.9},
			{Word: "corner", Start: 4.9, End: 5.3},
			{Word: "holds", Start: 5.3, End: 5.7},
			{Word: "a", Start: 5.7, End: 5.8},
			{Word: "memory,", Start: 5.8, End: 6.4},
			{Word: "frozen", Start: 6.8, End: 7.3},
			{Word: "in", Start: 7.3, End: 7.4},
			{Word: "time.", Start: 7.4, End: 9.2},
			{Word: "And", Start: 9.2, End: 9.4},
			{Word: "I", Start: 9.4, End: 9.5},
			{Word: "wonder", Start: 9.5, End: 9.9},
			{Word: "if", Start: 9.9, End: 10.0},
			{Word: "you", Start: 10.0, End: 10.2},
			{Word: "think", Start: 10.2, End: 10.5},
			{Word: "of", Start: 10.5, End: 10.7},
			{Word: "me,", Start: 10.7, End: 11.2},
			{Word: "the", Start: 11.6, End: 11.7},
			{Word: "way", Start: 11.7, End: 11.9},
			{Word: "I", Start: 11.9, End: 12.0},
			{Word: "think", Start: 12.0, End: 12.3},
			{Word: "of", Start: 12.3, End: 12.5},
			{Word: "you.", Start: 12.5, End: 14.8},
			{Word: "In", Start: 14.8, End: 15.0},
			{Word: "the", Start: 15.0, End: 15.1},
			{Word: "silence", Start: 15.1, End: 15.6},
			{Word: "of", Start: 15.6, End: 15.7},
			{Word: "the", Start: 15.7, End: 15.8},
			{Word: "night,", Start: 15.8, End: 16.5},
			{Word: "I'm", Start: 16.9, End: 17.1},
			{Word: "still", Start: 17.1, End: 17.4},
			{Word: "missing", Start: 17.4, End: 17.9},
			{Word: "you.", Start: 17.9, End: 19.5},
		},
	}
}
