package isolation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

func TestIsolateMockMode(t *testing.T) {
	c := New(Options{UseMocks: true})

	url, err := c.Isolate(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, MockVocalsURL, url)
}

func TestIsolateFailsFastWithoutToken(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Timeout: time.Second})
	_, err := c.Isolate(context.Background(), "a.mp3")
	require.ErrorIs(t, err, model.ErrNotConfigured)
	assert.Contains(t, err.Error(), "HUGGINGFACE_API_KEY")
	assert.False(t, hit, "no request may be sent without credentials")
}

func TestIsolateLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body isolateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn/a.mp3", body.AudioURL)
		assert.True(t, body.Options.WaitForModel)
		_, _ = w.Write([]byte(`{"vocals_url":"https://cdn/a.vocals.mp3"}`))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Token: "tok", Timeout: time.Second})
	url, err := c.Isolate(context.Background(), "https://cdn/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.vocals.mp3", url)
}

func TestIsolateTimeoutIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Token: "tok", Timeout: 50 * time.Millisecond, Retries: 2})
	_, err := c.Isolate(context.Background(), "a.mp3")
	require.ErrorIs(t, err, model.ErrTimeout)
	assert.Equal(t, "timed out", err.Error())
}

func TestIsolateRejectsMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Token: "tok", Timeout: time.Second})
	_, err := c.Isolate(context.Background(), "a.mp3")
	var uerr *model.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, err.Error(), "no vocals URL")
}

func TestIsolateSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Token: "tok", Timeout: time.Second})
	_, err := c.Isolate(context.Background(), "a.mp3")
	require.Error(t, err)
	assert.Equal(t, "Hugging Face API error: 502 - model overloaded", err.Error())
}
