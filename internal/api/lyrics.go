package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

type wordEdit struct {
	Word  string  `json:"word" validate:"required,max=256"`
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtefield=Start"`
}

type lyricsRequest struct {
	Text  string     `json:"text" validate:"max=100000"`
	Words []wordEdit `json:"words" validate:"required,min=1,max=20000,dive"`
}

// handleLyrics accepts edited word timings. The write is debounced per
// project, so rapid edits collapse into one transcript upsert.
func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request, id, owner string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lyricsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := s.deps.Projects.Get(r.Context(), id, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if project.Status.IsRunning() {
		s.respondError(w, r, model.ErrLeaseHeld)
		return
	}
	if project.TimedJSON == nil {
		s.respondError(w, r, fmt.Errorf("%w: no transcript to edit", model.ErrPreconditionFailed))
		return
	}

	edited := applyEdits(project.TimedJSON, req)
	if err := edited.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	store := s.deps.Projects
	s.deps.Autosave.Schedule(id, func(ctx context.Context) error {
		return store.UpsertTranscript(ctx, id, edited.Text, edited)
	})
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     id,
		"status": "scheduled",
		"words":  len(edited.Words),
	})
}

// applyEdits replaces the word list and keeps the provider's segments,
// language and duration.
func applyEdits(current *model.Transcription, req lyricsRequest) *model.Transcription {
	out := *current
	out.Words = make([]model.TimedWord, len(req.Words))
	parts := make([]string, len(req.Words))
	for i, w := range req.Words {
		out.Words[i] = model.TimedWord{Word: w.Word, Start: w.Start, End: w.End}
		parts[i] = strings.TrimSpace(w.Word)
	}
	out.Text = req.Text
	if out.Text == "" {
		out.Text = strings.Join(parts, " ")
	}
	return &out
}
