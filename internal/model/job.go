package model

// JobStatus is the rendering service's view of an export job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether the job will not change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobDescriptor is the JSON document served by the job status endpoint.
// Timestamps are kept as the renderer formats them (ISO-8601, often without
// a zone).
type JobDescriptor struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message"`
	OutputPath  string    `json:"output_path,omitempty"`
	VideoURL    string    `json:"video_url,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	LyricsCount int       `json:"lyrics_count,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty"`
	CompletedAt string    `json:"completed_at,omitempty"`
}

// ArtifactURL returns the best available location of the rendered video.
func (j *JobDescriptor) ArtifactURL() string {
	if j.VideoURL != "" {
		return j.VideoURL
	}
	return j.OutputPath
}
