package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/autosave"
	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/signing"
	"github.com/dharsanguruparan/LyricSync/internal/storage"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, projectID, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{projectID, ownerID})
	return f.err
}

func (f *fakeDispatcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDispatcher) dispatched() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.calls...)
}

type failingAudio struct{}

func (failingAudio) Put(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", errors.New("bucket gone")
}

type harness struct {
	srv        *httptest.Server
	store      *storage.MemoryStore
	dispatcher *fakeDispatcher
	autosave   *autosave.Scheduler
}

func newHarness(t *testing.T, audio AudioStore) *harness {
	t.Helper()
	cfg := &config.Config{
		Address:       ":0",
		MaxFileSize:   1 << 20,
		AllowedTypes:  []string{"audio/mpeg", "audio/wave"},
		AutosaveDelay: time.Hour,
	}
	h := &harness{
		store:      storage.NewMemoryStore(),
		dispatcher: &fakeDispatcher{},
		autosave:   autosave.New(time.Hour, 0, logger.Discard().Entry),
	}
	var media MediaSource
	h.srv = httptest.NewUnstartedServer(nil)
	if audio == nil {
		disk, err := storage.NewDiskAudioStore(t.TempDir(), "http://"+h.srv.Listener.Addr().String(), signing.NewSigner([]byte("k")), time.Hour)
		require.NoError(t, err)
		audio, media = disk, disk
	}
	s := New(cfg, Deps{
		Projects:   h.store,
		Audio:      audio,
		Dispatcher: h.dispatcher,
		Media:      media,
		Autosave:   h.autosave,
		Log:        logger.Discard(),
	})
	h.srv.Config.Handler = s.Handler()
	h.srv.Start()
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) seed(t *testing.T, p *model.Project) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), p))
}

func multipartBody(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeProject(t *testing.T, resp *http.Response) model.Project {
	t.Helper()
	var p model.Project
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestHealthAndOwnerRequired(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil, "").StatusCode)
	resp := h.do(t, http.MethodGet, "/projects/p1", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(logger.RequestIDHeader))
}

func TestCreateAndGetProject(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/projects", "alice", strings.NewReader(`{"id":"p1"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeProject(t, resp)
	assert.Equal(t, "p1", created.ID)
	assert.Equal(t, model.StatusIdle, created.Status)

	resp = h.do(t, http.MethodGet, "/projects/p1", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", decodeProject(t, resp).OwnerID)

	resp = h.do(t, http.MethodGet, "/projects/p1", "mallory", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/projects", "alice", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, decodeProject(t, resp).ID)

	resp = h.do(t, http.MethodPost, "/projects", "alice", strings.NewReader(`{"id":"a/b"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadSetsAudioURL(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice"})
	audio := append([]byte("ID3"), bytes.Repeat([]byte{0x42}, 2048)...)

	body, ct := multipartBody(t, "song.mp3", audio)
	resp := h.do(t, http.MethodPost, "/projects/p1/audio", "alice", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeProject(t, resp)
	assert.Equal(t, model.StatusIdle, p.Status)
	require.NotNil(t, p.AudioURL)
	assert.True(t, strings.HasPrefix(*p.AudioURL, h.srv.URL+"/media/alice/p1/"))
	assert.Contains(t, *p.AudioURL, ".mp3?")

	u, err := url.Parse(*p.AudioURL)
	require.NoError(t, err)
	media := h.do(t, http.MethodGet, u.RequestURI(), "", nil, "")
	require.Equal(t, http.StatusOK, media.StatusCode)
	got, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	assert.Equal(t, audio, got)

	tampered := h.do(t, http.MethodGet, u.Path+"?expires="+u.Query().Get("expires")+"&signature=00", "", nil, "")
	assert.Equal(t, http.StatusForbidden, tampered.StatusCode)
}

func TestUploadRejectsNonAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice"})

	body, ct := multipartBody(t, "notes.txt", []byte("just some text"))
	resp := h.do(t, http.MethodPost, "/projects/p1/audio", "alice", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	p, err := h.store.Get(context.Background(), "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, p.Status)
	assert.Nil(t, p.AudioURL)
}

func TestUploadStorageFailureMarksError(t *testing.T) {
	h := newHarness(t, failingAudio{})
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice"})

	body, ct := multipartBody(t, "song.mp3", append([]byte("ID3"), make([]byte, 64)...))
	resp := h.do(t, http.MethodPost, "/projects/p1/audio", "alice", body, ct)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	p, err := h.store.Get(context.Background(), "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, p.Status)
	assert.Equal(t, "upload failed: bucket gone", *p.ErrorMessage)
	assert.Nil(t, p.AudioURL)
}

func TestProcessDispatch(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, &model.Project{ID: "silent", OwnerID: "alice"})
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice", AudioURL: model.StringPtr("a.mp3")})

	resp := h.do(t, http.MethodPost, "/projects/silent/process", "alice", nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	msg, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(msg), "no audio uploaded")

	resp = h.do(t, http.MethodPost, "/projects/p1/process", "mallory", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/projects/p1/process", "alice", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, [][2]string{{"p1", "alice"}}, h.dispatcher.dispatched())

	h.dispatcher.fail(model.ErrLeaseHeld)
	resp = h.do(t, http.MethodPost, "/projects/p1/process", "alice", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLyricsEditsAreDebounced(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice", AudioURL: model.StringPtr("a.mp3")})
	require.NoError(t, h.store.Update(ctx, "p1", "alice", model.ProjectUpdate{Status: model.StatusPtr(model.StatusCompleted)}))
	require.NoError(t, h.store.UpsertTranscript(ctx, "p1", "helo world", &model.Transcription{
		Text:     "helo world",
		Words:    []model.TimedWord{{Word: "helo", Start: 0, End: 0.4}, {Word: "world", Start: 0.5, End: 0.9}},
		Language: "en",
		Duration: 1.2,
	}))

	first := `{"words":[{"word":"hello","start":0,"end":0.4},{"word":"world","start":0.5,"end":0.9}]}`
	second := `{"words":[{"word":"hello","start":0,"end":0.45},{"word":"world!","start":0.5,"end":0.9}]}`
	assert.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(first), "application/json").StatusCode)
	assert.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(second), "application/json").StatusCode)
	assert.True(t, h.autosave.Pending("p1"))

	p, err := h.store.Get(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "helo world", *p.RawText)

	h.autosave.Flush()
	p, err = h.store.Get(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world!", *p.RawText)
	assert.Equal(t, 0.45, p.TimedJSON.Words[0].End)
	assert.Equal(t, 1.2, p.TimedJSON.Duration)
	assert.Equal(t, "en", p.TimedJSON.Language)
}

func TestLyricsValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, &model.Project{ID: "fresh", OwnerID: "alice"})
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice"})
	require.NoError(t, h.store.UpsertTranscript(ctx, "p1", "a b", &model.Transcription{
		Words: []model.TimedWord{{Word: "a", Start: 0, End: 1}, {Word: "b", Start: 1, End: 2}},
	}))

	backwards := `{"words":[{"word":"a","start":1,"end":0.5}]}`
	resp := h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(backwards), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unordered := `{"words":[{"word":"b","start":1,"end":2},{"word":"a","start":0,"end":1}]}`
	resp = h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(unordered), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	ok := `{"words":[{"word":"a","start":0,"end":1}]}`
	resp = h.do(t, http.MethodPut, "/projects/fresh/lyrics", "alice", strings.NewReader(ok), "application/json")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.False(t, h.autosave.Pending("p1"))
}

type downIsolator struct{}

func (downIsolator) Isolate(context.Context, string) (string, error) {
	return "", errors.New("isolation down")
}

type inputRecorder struct {
	mu     sync.Mutex
	inputs []string
}

func (r *inputRecorder) Transcribe(ctx context.Context, audioURL string) (*model.Transcription, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, audioURL)
	r.mu.Unlock()
	return &model.Transcription{Text: "songB", Words: []model.TimedWord{{Word: "songB", Start: 0, End: 1}}}, nil
}

func uploadMP3(t *testing.T, h *harness, id string) model.Project {
	t.Helper()
	body, ct := multipartBody(t, "song.mp3", append([]byte("ID3"), bytes.Repeat([]byte{0x17}, 256)...))
	resp := h.do(t, http.MethodPost, "/projects/"+id+"/audio", "alice", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeProject(t, resp)
}

func TestReuploadDropsPreviousRecordingArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice"})
	uploadMP3(t, h, "p1")

	// A finished run on the first recording.
	require.NoError(t, h.store.Update(ctx, "p1", "alice", model.ProjectUpdate{
		Status:            model.StatusPtr(model.StatusCompleted),
		IsolatedVocalsURL: model.StringPtr("vocalsA.mp3"),
	}))
	require.NoError(t, h.store.UpsertTranscript(ctx, "p1", "songA", &model.Transcription{Text: "songA"}))

	second := uploadMP3(t, h, "p1")
	assert.Equal(t, model.StatusIdle, second.Status)
	assert.Nil(t, second.IsolatedVocalsURL)
	assert.Nil(t, second.RawText)
	assert.Nil(t, second.TimedJSON)

	tr := &inputRecorder{}
	o := pipeline.New(h.store, downIsolator{}, tr, pipeline.Options{
		FallbackOnIsolationFailure: true,
		Log:                        logger.Discard().Entry,
	})
	out, err := o.RunPipeline(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{*second.AudioURL}, tr.inputs)
	assert.Equal(t, "vocal isolation failed, used raw audio instead: isolation down", out.Warning)

	p, err := h.store.Get(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, p.Status)
	assert.Equal(t, "songB", *p.RawText)
	assert.Nil(t, p.IsolatedVocalsURL)
}

func seedTranscribed(t *testing.T, h *harness, text string) {
	t.Helper()
	ctx := context.Background()
	h.seed(t, &model.Project{ID: "p1", OwnerID: "alice", AudioURL: model.StringPtr("a.mp3")})
	require.NoError(t, h.store.Update(ctx, "p1", "alice", model.ProjectUpdate{Status: model.StatusPtr(model.StatusCompleted)}))
	require.NoError(t, h.store.UpsertTranscript(ctx, "p1", text, &model.Transcription{
		Text:  text,
		Words: []model.TimedWord{{Word: text, Start: 0, End: 1}},
	}))
}

func TestProcessDiscardsPendingLyricEdit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seedTranscribed(t, h, "original")

	edit := `{"words":[{"word":"edited","start":0,"end":1}]}`
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(edit), "application/json").StatusCode)
	require.True(t, h.autosave.Pending("p1"))

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/projects/p1/process", "alice", nil, "").StatusCode)
	assert.False(t, h.autosave.Pending("p1"))

	// The dispatched run writes its transcript; nothing may replace it later.
	require.NoError(t, h.store.UpsertTranscript(ctx, "p1", "rerun", &model.Transcription{Text: "rerun"}))
	h.autosave.Flush()
	p, err := h.store.Get(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "rerun", *p.RawText)
}

func TestUploadDiscardsPendingLyricEdit(t *testing.T) {
	h := newHarness(t, nil)
	seedTranscribed(t, h, "original")

	edit := `{"words":[{"word":"edited","start":0,"end":1}]}`
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/projects/p1/lyrics", "alice", strings.NewReader(edit), "application/json").StatusCode)
	uploadMP3(t, h, "p1")
	assert.False(t, h.autosave.Pending("p1"))

	h.autosave.Flush()
	p, err := h.store.Get(context.Background(), "p1", "alice")
	require.NoError(t, err)
	assert.Nil(t, p.RawText)
}
