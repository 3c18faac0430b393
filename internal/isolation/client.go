// Package isolation wraps the hosted vocal isolation model. The live path
// posts the source audio URL and receives the URL of an isolated vocal stem.
package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/inference"
	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// MockVocalsURL is what mock mode returns for every request.
const MockVocalsURL = "https://example.com/mock-isolated-vocals.mp3"

const serviceName = "Hugging Face"

// Options configures a Client.
type Options struct {
	Endpoint  string
	Token     string
	Timeout   time.Duration
	Retries   int
	UseMocks  bool
	MockDelay time.Duration
	HTTP      *http.Client
	Log       *logrus.Entry
}

// OptionsFromConfig maps the inference settings onto Options.
func OptionsFromConfig(cfg config.Inference) Options {
	return Options{
		Endpoint:  cfg.IsolationURL,
		Token:     cfg.IsolationToken,
		Timeout:   cfg.IsolationTimeout,
		Retries:   cfg.Retries,
		UseMocks:  cfg.UseMocks,
		MockDelay: cfg.MockDelay,
	}
}

// Client isolates vocals from a mixed recording.
type Client struct {
	opts   Options
	caller *inference.Caller
	log    *logrus.Entry
}

// New builds a Client. A nil HTTP client falls back to one without its own
// timeout since every call is bounded by Options.Timeout.
func New(opts Options) *Client {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("module", "isolation")
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

type isolateRequest struct {
	Inputs   string         `json:"inputs"`
	AudioURL string         `json:"audio_url"`
	Options  requestOptions `json:"options"`
}

type requestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type isolateResponse struct {
	VocalsURL string `json:"vocals_url"`
}

// Isolate returns the URL of the isolated vocal stem for audioURL. When the
// call exceeds the configured timeout the error is model.ErrTimeout itself.
func (c *Client) Isolate(ctx context.Context, audioURL string) (string, error) {
	if c.opts.UseMocks {
		c.log.WithField("audio_url", audioURL).Info("mock mode: simulating vocal isolation")
		if err := inference.Sleep(ctx, c.opts.MockDelay); err != nil {
			return "", err
		}
		return MockVocalsURL, nil
	}
	if strings.TrimSpace(c.opts.Token) == "" {
		return "", fmt.Errorf("HUGGINGFACE_API_KEY is %w", model.ErrNotConfigured)
	}
	if strings.TrimSpace(c.opts.Endpoint) == "" {
		return "", fmt.Errorf("isolation endpoint is %w", model.ErrNotConfigured)
	}

	payload, err := json.Marshal(isolateRequest{
		Inputs:   audioURL,
		AudioURL: audioURL,
		Options:  requestOptions{WaitForModel: true},
	})
	if err != nil {
		return "", fmt.Errorf("marshal isolation request: %w", err)
	}

	callCtx, cancel := inference.WithDeadline(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	body, err := c.caller.Execute(callCtx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		err = inference.TranslateTimeout(ctx, callCtx, err)
		c.log.WithError(err).WithField("elapsed_ms", time.Since(start).Milliseconds()).Warn("vocal isolation failed")
		return "", err
	}

	var resp isolateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &model.UpstreamError{Service: serviceName, Reason: "invalid JSON response: " + err.Error()}
	}
	if strings.TrimSpace(resp.VocalsURL) == "" {
		return "", &model.UpstreamError{Service: serviceName, Reason: "invalid response - no vocals URL returned"}
	}
	c.log.WithField("elapsed_ms", time.Since(start).Milliseconds()).Info("vocal isolation complete")
	return resp.VocalsURL, nil
}
