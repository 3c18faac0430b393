// Package transcription wraps the hosted speech-to-text model used to produce
// word-level lyric timing.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/inference"
	"github.com/dharsanguruparan/LyricSync/internal/model"
)

const serviceName = "Groq"

// Options configures a Client.
type Options struct {
	Endpoint  string
	Token     string
	Model     string
	Timeout   time.Duration
	Retries   int
	UseMocks  bool
	MockDelay time.Duration
	// TempDir receives the transient copy of the audio; empty means os.TempDir.
	TempDir string
	HTTP    *http.Client
	Log     *logrus.Entry
}

// OptionsFromConfig maps the inference settings onto Options.
func OptionsFromConfig(cfg config.Inference) Options {
	return Options{
		Endpoint:  cfg.TranscriptionURL,
		Token:     cfg.TranscriptionToken,
		Model:     cfg.TranscriptionModel,
		Timeout:   cfg.TranscriptionTimeout,
		Retries:   cfg.Retries,
		UseMocks:  cfg.UseMocks,
		MockDelay: cfg.MockDelay,
		TempDir:   cfg.TempDir,
	}
}

// Client transcribes audio into text with word timestamps.
type Client struct {
	opts   Options
	caller *inference.Caller
	log    *logrus.Entry
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{}
	}
	if opts.Model == "" {
		opts.Model = "whisper-large-v3"
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("module", "transcription")
	return &Client{
		opts: opts,
		caller: &inference.Caller{
			Service: serviceName,
			HTTP:    opts.HTTP,
			Retries: opts.Retries,
			Log:     log,
		},
		log: log,
	}
}

// verboseResponse is the verbose_json body. Optional arrays may be missing.
type verboseResponse struct {
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Duration float64           `json:"duration"`
	Segments []model.Segment   `json:"segments"`
	Words    []model.TimedWord `json:"words"`
}

// Transcribe returns the transcription of the audio at audioURL.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (*model.Transcription, error) {
	if c.opts.UseMocks {
		c.log.WithField("audio_url", audioURL).Info("mock mode: simulating transcription")
		if err := inference.Sleep(ctx, c.opts.MockDelay); err != nil {
			return nil, err
		}
		return MockTranscription(), nil
	}
	if strings.TrimSpace(c.opts.Token) == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is %w", model.ErrNotConfigured)
	}
	if strings.TrimSpace(c.opts.Endpoint) == "" {
		return nil, fmt.Errorf("transcription endpoint is %w", model.ErrNotConfigured)
	}

	callCtx, cancel := inference.WithDeadline(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	result, err := c.transcribeRemote(callCtx, audioURL)
	if err != nil {
		err = inference.TranslateTimeout(ctx, callCtx, err)
		c.log.WithError(err).WithField("elapsed_ms", time.Since(start).Milliseconds()).Warn("transcription failed")
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"elapsed_ms": time.Since(start).Milliseconds(),
		"words":      len(result.Words),
		"language":   result.Language,
	}).Info("transcription complete")
	return result, nil
}

// transcribeRemote materializes the audio locally because the provider takes
// a file upload, not a URL. The temporary file is removed on every path.
func (c *Client) transcribeRemote(ctx context.Context, audioURL string) (*model.Transcription, error) {
	tmp, err := os.CreateTemp(c.opts.TempDir, "lyricsync-audio-"+uuid.NewString()+"-*"+audioExt(audioURL))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			c.log.WithError(rmErr).WithField("path", tmp.Name()).Warn("failed to remove temp audio")
		}
	}()

	if err := c.download(ctx, audioURL, tmp); err != nil {
		return nil, err
	}

	body, err := c.caller.Execute(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.uploadRequest(ctx, tmp)
	})
	if err != nil {
		return nil, err
	}

	var resp verboseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &model.UpstreamError{Service: serviceName, Reason: "invalid JSON response: " + err.Error()}
	}
	result := &model.Transcription{
		Text:     resp.Text,
		Words:    resp.Words,
		Segments: resp.Segments,
		Language: resp.Language,
		Duration: resp.Duration,
	}
	if result.Words == nil {
		result.Words = []model.TimedWord{}
	}
	if result.Segments == nil {
		result.Segments = []model.Segment{}
	}
	if result.Language == "" {
		result.Language = "en"
	}
	if err := result.Validate(); err != nil {
		return nil, &model.UpstreamError{Service: serviceName, Reason: "malformed word timing: " + err.Error()}
	}
	return result, nil
}

func (c *Client) download(ctx context.Context, audioURL string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.opts.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download audio file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download audio file: %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to download audio file: %w", err)
	}
	return nil
}

func (c *Client) uploadRequest(ctx context.Context, audio *os.File) (*http.Request, error) {
	if _, err := audio.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temp audio: %w", err)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio"+audioExt(audio.Name()))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	fields := [][2]string{
		{"model", c.opts.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"timestamp_granularities[]", "segment"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// audioExt keeps the source extension so providers can sniff the container.
func audioExt(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	ext := strings.ToLower(path.Ext(raw))
	if ext == "" || len(ext) > 6 {
		return ".mp3"
	}
	return ext
}
