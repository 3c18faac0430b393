package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWatchRenderProjectNeedsOwnerAndDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "watch-render", "job-1", "--url", "http://127.0.0.1:1", "--project", "p1")
	assert.EqualError(t, err, "--owner is required with --project")

	_, err = execute(t, "watch-render", "job-1", "--url", "http://127.0.0.1:1", "--project", "p1", "--owner", "alice")
	assert.EqualError(t, err, "DATABASE_URL is required with --project")
}

func TestWatchRenderFollowsJobToCompletion(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/job-1", r.URL.Path)
		job := model.JobDescriptor{JobID: "job-1", Status: model.JobProcessing, Progress: 42.5, Message: "rendering"}
		if hits.Add(1) > 1 {
			job = model.JobDescriptor{JobID: "job-1", Status: model.JobCompleted, Progress: 100, VideoURL: "https://cdn/video.mp4"}
		}
		_ = json.NewEncoder(w).Encode(job)
	}))
	defer srv.Close()

	out, err := execute(t, "watch-render", "job-1", "--url", srv.URL, "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, " 42.5% rendering")
	assert.Contains(t, out, "video: https://cdn/video.mp4 (from renderer)")
	assert.Equal(t, int32(2), hits.Load())
}

func TestWatchRenderReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.JobDescriptor{JobID: "job-1", Status: model.JobFailed, Error: "ffmpeg exited 1"})
	}))
	defer srv.Close()

	_, err := execute(t, "watch-render", "job-1", "--url", srv.URL, "--interval", "10ms")
	assert.EqualError(t, err, "ffmpeg exited 1")
}

func TestProcessMockPrintsTimedTranscript(t *testing.T) {
	t.Setenv("LYRICSYNC_MOCK_DELAY", "1ms")

	out, err := execute(t, "process", "a.mp3", "--mock", "--json")
	require.NoError(t, err)
	var transcript model.Transcription
	require.NoError(t, json.Unmarshal([]byte(out), &transcript))
	require.NotEmpty(t, transcript.Words)
	assert.Equal(t, 0.0, transcript.Words[0].Start)
}
