// Package config centralizes how LyricSync reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents runtime configuration shared by the api, worker and
// standalone binaries. Fields a binary does not need are simply ignored.
type Config struct {
	Address      string   `validate:"required"`
	MaxFileSize  int64    `validate:"gt=0"`
	AllowedTypes []string `validate:"min=1,dive,required"`
	// SigningSecret signs local media URLs in standalone mode.
	SigningSecret []byte
	// SignedURLTTL is how long an audio URL stays valid. It has to outlive
	// the gap between upload and the transcription download.
	SignedURLTTL   time.Duration
	ProcessingPool int
	UploadDir      string
	PublicBaseURL  string `validate:"omitempty,url"`

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	AudioBucket string `validate:"required"`

	Inference Inference

	FallbackOnIsolationFailure bool
	RenderStatusURL            string `validate:"required,url"`
	PollInterval               time.Duration
	AutosaveDelay              time.Duration
}

// Inference holds the settings of the hosted isolation and transcription
// endpoints. UseMocks short-circuits both to canned responses.
type Inference struct {
	UseMocks             bool
	MockDelay            time.Duration
	IsolationURL         string `validate:"omitempty,url"`
	IsolationToken       string
	IsolationTimeout     time.Duration
	TranscriptionURL     string `validate:"omitempty,url"`
	TranscriptionToken   string
	TranscriptionModel   string `validate:"required"`
	TranscriptionTimeout time.Duration
	Retries              int
	TempDir              string
}

const (
	defaultAddress       = ":8080"
	defaultMaxFileSize   = 50 << 20 // 50 MiB
	defaultAllowedTypes  = "audio/mpeg,audio/wave,audio/wav,audio/x-wav,audio/ogg,audio/aiff,audio/mp4,video/mp4,application/ogg"
	defaultSignedTTL     = 7 * 24 * time.Hour
	defaultWorkerCount   = 2
	defaultRedisAddr     = "localhost:6379"
	defaultS3Endpoint    = "localhost:9000"
	defaultS3Region      = "us-east-1"
	defaultAudioBucket   = "project-audio"
	defaultMockDelay     = 2 * time.Second
	defaultIsolationURL  = "https://api-inference.huggingface.co/models/facebook/demucs"
	defaultIsolationTime = 30 * time.Second
	defaultTranscribeURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	defaultModel         = "whisper-large-v3"
	defaultTranscribeTTL = 2 * time.Minute
	defaultRetries       = 2
	defaultPollInterval  = 2 * time.Second
	defaultAutosaveDelay = 1500 * time.Millisecond
)

// Load reads configuration from environment variables falling back to
// defaults. Invalid numeric values are ignored in favour of the default;
// malformed URLs are reported.
func Load() (*Config, error) {
	cfg := &Config{
		Address:        readEnv("LYRICSYNC_ADDRESS", defaultAddress),
		MaxFileSize:    parseInt64("LYRICSYNC_MAX_FILE_BYTES", defaultMaxFileSize),
		AllowedTypes:   parseList("LYRICSYNC_ALLOWED_TYPES", defaultAllowedTypes),
		SigningSecret:  parseSecret("LYRICSYNC_SIGNING_SECRET"),
		SignedURLTTL:   parseDuration("LYRICSYNC_SIGNED_TTL", defaultSignedTTL),
		ProcessingPool: parseInt("LYRICSYNC_WORKERS", defaultWorkerCount),
		UploadDir:      readEnv("LYRICSYNC_UPLOAD_DIR", filepath.Join(os.TempDir(), "lyricsync")),
		PublicBaseURL:  readEnv("LYRICSYNC_PUBLIC_URL", ""),

		DatabaseURL:   readEnv("DATABASE_URL", ""),
		RedisAddr:     readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt("REDIS_DB", 0),

		S3Endpoint:  readEnv("S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey: readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("S3_SECRET_KEY", ""),
		S3Region:    readEnv("S3_REGION", defaultS3Region),
		S3UseSSL:    parseBool("S3_USE_SSL", false),
		AudioBucket: readEnv("LYRICSYNC_AUDIO_BUCKET", defaultAudioBucket),

		Inference: Inference{
			UseMocks:             parseBool("LYRICSYNC_USE_MOCKS", false),
			MockDelay:            parseDuration("LYRICSYNC_MOCK_DELAY", defaultMockDelay),
			IsolationURL:         readEnv("LYRICSYNC_ISOLATION_URL", defaultIsolationURL),
			IsolationToken:       readEnv("HUGGINGFACE_API_KEY", ""),
			IsolationTimeout:     parseDuration("LYRICSYNC_ISOLATION_TIMEOUT", defaultIsolationTime),
			TranscriptionURL:     readEnv("LYRICSYNC_TRANSCRIPTION_URL", defaultTranscribeURL),
			TranscriptionToken:   readEnv("GROQ_API_KEY", ""),
			TranscriptionModel:   readEnv("LYRICSYNC_TRANSCRIPTION_MODEL", defaultModel),
			TranscriptionTimeout: parseDuration("LYRICSYNC_TRANSCRIPTION_TIMEOUT", defaultTranscribeTTL),
			Retries:              parseInt("LYRICSYNC_INFERENCE_RETRIES", defaultRetries),
			TempDir:              readEnv("LYRICSYNC_TEMP_DIR", ""),
		},

		FallbackOnIsolationFailure: parseBool("LYRICSYNC_FALLBACK_ON_ISOLATION_FAILURE", false),
		RenderStatusURL:            readEnv("LYRICSYNC_RENDER_URL", "http://localhost:8000"),
		PollInterval:               parseDuration("LYRICSYNC_POLL_INTERVAL", defaultPollInterval),
		AutosaveDelay:              parseDuration("LYRICSYNC_AUTOSAVE_DELAY", defaultAutosaveDelay),
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.Inference.IsolationTimeout <= 0 {
		cfg.Inference.IsolationTimeout = defaultIsolationTime
	}
	if cfg.Inference.TranscriptionTimeout <= 0 {
		cfg.Inference.TranscriptionTimeout = defaultTranscribeTTL
	}
	if cfg.Inference.Retries < 0 {
		cfg.Inference.Retries = 0
	}
	if cfg.Inference.MockDelay < 0 {
		cfg.Inference.MockDelay = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = defaultAutosaveDelay
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	// strconv.ParseBool accepts 1/t/true/TRUE and friends.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
