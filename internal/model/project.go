// Package model contains simple struct definitions shared across packages.
package model

import (
	"strings"
	"time"
)

// ProjectStatus describes where a project sits in the audio-to-lyrics
// lifecycle. The zero value is not a valid status.
type ProjectStatus string

const (
	StatusIdle         ProjectStatus = "idle"
	StatusUploading    ProjectStatus = "uploading"
	StatusIsolating    ProjectStatus = "isolating"
	StatusDegraded     ProjectStatus = "degraded"
	StatusTranscribing ProjectStatus = "transcribing"
	StatusCompleted    ProjectStatus = "completed"
	StatusError        ProjectStatus = "error"
)

// ParseProjectStatus maps stored values onto the unified enum. Rows written by
// the older pipeline used pending/processing/failed.
func ParseProjectStatus(raw string) (ProjectStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle", "pending":
		return StatusIdle, true
	case "uploading":
		return StatusUploading, true
	case "isolating", "processing":
		return StatusIsolating, true
	case "degraded":
		return StatusDegraded, true
	case "transcribing":
		return StatusTranscribing, true
	case "completed":
		return StatusCompleted, true
	case "error", "failed":
		return StatusError, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further automatic transition follows.
func (s ProjectStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsRunning reports whether a pipeline run is mid-flight in this status.
func (s ProjectStatus) IsRunning() bool {
	switch s {
	case StatusIsolating, StatusDegraded, StatusTranscribing:
		return true
	default:
		return false
	}
}

// Project is the durable record for one audio-to-lyrics job. Optional columns
// are pointers so "absent" and "empty" stay distinguishable in JSON.
type Project struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"ownerId"`
	AudioURL          *string        `json:"audioUrl,omitempty"`
	IsolatedVocalsURL *string        `json:"isolatedVocalsUrl,omitempty"`
	RawText           *string        `json:"rawText,omitempty"`
	TimedJSON         *Transcription `json:"timedJson,omitempty"`
	Status            ProjectStatus  `json:"status"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	ProcessingNotes   *string        `json:"processingNotes,omitempty"`
	VideoURL          *string        `json:"videoUrl,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// HasAudio reports whether an audio recording has been uploaded.
func (p *Project) HasAudio() bool {
	return p.AudioURL != nil && strings.TrimSpace(*p.AudioURL) != ""
}

// ProjectUpdate is a partial merge applied to a Project. Nil fields are left
// untouched. Stage failures never clear artifact columns; only a new
// recording does, through ResetArtifacts.
type ProjectUpdate struct {
	Status            *ProjectStatus
	AudioURL          *string
	IsolatedVocalsURL *string
	ErrorMessage      *string
	// ClearError writes NULL to error_message and wins over ErrorMessage.
	ClearError      bool
	ProcessingNotes *string
	// ClearNotes writes NULL to processing_notes and wins over ProcessingNotes.
	ClearNotes bool
	// ResetArtifacts drops everything derived from the previous recording:
	// isolated vocals, the transcript and the rendered video. It wins over
	// IsolatedVocalsURL.
	ResetArtifacts bool
}

// Apply merges u into p in place. Stores without a query language use it so
// the merge rules live in one place.
func (u ProjectUpdate) Apply(p *Project) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.AudioURL != nil {
		p.AudioURL = strPtr(*u.AudioURL)
	}
	switch {
	case u.ResetArtifacts:
		p.IsolatedVocalsURL = nil
		p.RawText = nil
		p.TimedJSON = nil
		p.VideoURL = nil
	case u.IsolatedVocalsURL != nil:
		p.IsolatedVocalsURL = strPtr(*u.IsolatedVocalsURL)
	}
	switch {
	case u.ClearError:
		p.ErrorMessage = nil
	case u.ErrorMessage != nil:
		p.ErrorMessage = strPtr(*u.ErrorMessage)
	}
	switch {
	case u.ClearNotes:
		p.ProcessingNotes = nil
	case u.ProcessingNotes != nil:
		p.ProcessingNotes = strPtr(*u.ProcessingNotes)
	}
}

// Empty reports whether the update would change nothing.
func (u ProjectUpdate) Empty() bool {
	return u.Status == nil && u.AudioURL == nil && u.IsolatedVocalsURL == nil &&
		u.ErrorMessage == nil && !u.ClearError && u.ProcessingNotes == nil && !u.ClearNotes &&
		!u.ResetArtifacts
}

// StatusPtr is a small helper for building updates inline.
func StatusPtr(s ProjectStatus) *ProjectStatus { return &s }

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return strPtr(s) }

func strPtr(s string) *string { return &s }
