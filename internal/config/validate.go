package config

import (
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	whisperlang "github.com/leonardotrapani/segscribe/internal/language"
	"github.com/leonardotrapani/segscribe/internal/models/whisper"
)

func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	validFormats := map[string]bool{"auto": true, "console": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format: %s (must be auto, console, or json)", c.Log.Format)
	}

	switch c.Storage.Backend {
	case "local":
	case "minio":
		m := c.Storage.MinIO
		if m.Endpoint == "" || m.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket required when storage.backend = \"minio\"")
		}
	default:
		return fmt.Errorf("unsupported storage.backend: %s (must be local or minio)", c.Storage.Backend)
	}

	if u, err := url.Parse(c.Transcription.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid transcription.base_url: %q", c.Transcription.BaseURL)
	}
	if c.Transcription.Model == "" {
		return fmt.Errorf("invalid transcription.model: empty")
	}
	if !whisperlang.IsValidCode(c.Transcription.Language) {
		return fmt.Errorf("invalid transcription.language: %s (use empty string for auto-detect or ISO-639-1 codes like 'en', 'es', 'fr')", c.Transcription.Language)
	}
	if c.Transcription.RequestTimeout <= 0 {
		return fmt.Errorf("invalid transcription.request_timeout: %v", c.Transcription.RequestTimeout)
	}
	if c.Transcription.Locale != "" {
		if _, err := language.Parse(c.Transcription.Locale); err != nil {
			return fmt.Errorf("invalid transcription.locale: %s", c.Transcription.Locale)
		}
	}
	if c.Transcription.WhisperModel != "" && whisper.GetModel(c.Transcription.WhisperModel) == nil {
		return fmt.Errorf("invalid transcription.whisper_model: %s", c.Transcription.WhisperModel)
	}
	if c.Transcription.Threads < 0 {
		return fmt.Errorf("invalid transcription.threads: %d", c.Transcription.Threads)
	}

	q := c.Queue
	if q.TickInterval <= 0 {
		return fmt.Errorf("invalid queue.tick_interval: %v", q.TickInterval)
	}
	if q.MinAudioBytes < 0 {
		return fmt.Errorf("invalid queue.min_audio_bytes: %d", q.MinAudioBytes)
	}
	if q.MaxRetries < 0 {
		return fmt.Errorf("invalid queue.max_retries: %d", q.MaxRetries)
	}
	if q.BaseDelay < 0 || q.MaxDelay < 0 || q.RetryFactor < 0 {
		return fmt.Errorf("invalid queue retry policy: base_delay=%v retry_factor=%v max_delay=%v", q.BaseDelay, q.RetryFactor, q.MaxDelay)
	}

	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	if c.Events.AMQP.Enabled && c.Events.AMQP.URL == "" {
		return fmt.Errorf("events.amqp.url required when events.amqp.enabled = true")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen required when api.enabled = true")
	}

	return nil
}
